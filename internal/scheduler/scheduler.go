// Package scheduler runs the periodic circulation sweeps on cron specs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/robfig/cron/v3"

	"github.com/iliyamo/library-circulation/internal/logging"
	"github.com/iliyamo/library-circulation/internal/service"
)

type ExpirySweeper interface {
	ExpireStaleReservations(ctx context.Context) (service.ExpirySummary, error)
}

type OverdueScanner interface {
	Scan(ctx context.Context) (service.ScanSummary, error)
}

// Config holds the cron specs (standard five fields or @every/@daily
// descriptors). An empty expression disables that job.
type Config struct {
	ExpirySpec  string
	OverdueSpec string
	// Timeout bounds one run of either job.
	Timeout time.Duration
}

type Scheduler struct {
	cron    *cron.Cron
	sweeper ExpirySweeper
	scanner OverdueScanner
	timeout time.Duration
	log     *log.Logger
}

func New(cfg Config, sweeper ExpirySweeper, scanner OverdueScanner, logger *log.Logger) (*Scheduler, error) {
	if sweeper == nil || scanner == nil {
		panic("scheduler: nil dependency passed to New")
	}
	l := logging.Or(logger, "scheduler")
	cl := cronLogger{l}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		sweeper: sweeper,
		scanner: scanner,
		timeout: cfg.Timeout,
		log:     l,
	}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Minute
	}
	if cfg.ExpirySpec != "" {
		if _, err := s.cron.AddFunc(cfg.ExpirySpec, func() { s.run("reservation expiry", s.RunExpiry) }); err != nil {
			return nil, fmt.Errorf("expiry schedule %q: %w", cfg.ExpirySpec, err)
		}
	}
	if cfg.OverdueSpec != "" {
		if _, err := s.cron.AddFunc(cfg.OverdueSpec, func() { s.run("overdue scan", s.RunOverdue) }); err != nil {
			return nil, fmt.Errorf("overdue schedule %q: %w", cfg.OverdueSpec, err)
		}
	}
	return s, nil
}

// Start runs the jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Infof("scheduler started with %d job(s)", len(s.cron.Entries()))
}

// Stop prevents new runs and waits for running ones or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warnf("scheduler stop: %v", ctx.Err())
	}
}

func (s *Scheduler) run(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	start := time.Now()
	if err := fn(ctx); err != nil {
		s.log.Errorf("%s failed after %s: %v", name, time.Since(start), err)
		return
	}
	s.log.Debugf("%s finished in %s", name, time.Since(start))
}

// RunExpiry performs one reservation expiry sweep.
func (s *Scheduler) RunExpiry(ctx context.Context) error {
	sum, err := s.sweeper.ExpireStaleReservations(ctx)
	if err != nil {
		return err
	}
	if sum.Expired > 0 {
		s.log.Infof("expiry sweep: %d expired, %d promoted", sum.Expired, sum.Promoted)
	}
	return nil
}

// RunOverdue performs one overdue scan.
func (s *Scheduler) RunOverdue(ctx context.Context) error {
	_, err := s.scanner.Scan(ctx)
	return err
}

// cronLogger routes cron's own messages to the component logger.
type cronLogger struct{ l *log.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debugf("cron: %s %v", msg, kv)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Errorf("cron: %s: %v %v", msg, err, kv)
}
