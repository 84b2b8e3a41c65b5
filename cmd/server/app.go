package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/database"
	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/logging"
	"github.com/iliyamo/library-circulation/internal/notify"
	"github.com/iliyamo/library-circulation/internal/queue"
	"github.com/iliyamo/library-circulation/internal/repository"
	"github.com/iliyamo/library-circulation/internal/repository/memory"
	"github.com/iliyamo/library-circulation/internal/service"
)

// directory is what both backends expose for borrower and title lookups.
type directory interface {
	service.BorrowerDirectory
	service.TitleCatalog
}

// app holds every long-lived component. Commands build one and use the parts
// they need.
type app struct {
	cfg config.Config
	log *log.Logger

	db  *sqlx.DB      // nil with STORE=memory
	rdb *redis.Client // nil when Redis is disabled or unreachable
	mem *memory.Store // backs memory mode, and status/gate without Redis

	queue      queue.Queue
	dispatcher *notify.Dispatcher
	ledger     *service.Ledger
	queueSvc   *service.ReservationQueue
	loans      *service.LoanManager
	scanner    *service.OverdueScanner
}

func loadConfig() (config.Config, *log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logging.Configure(cfg.LogLevel, os.Stdout)
	return cfg, logging.New("circulation"), nil
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, l, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: l, mem: memory.New()}
	a.mem.SetStatusTTL(cfg.Notify.StatusTTL)

	var (
		store service.Store
		dir   directory
		jobs  notify.JobStore
	)
	switch cfg.Store {
	case "memory":
		store, dir, jobs = a.mem, a.mem, a.mem
		a.queue = queue.NewMemory(1024)
		if path, _ := cmd.Flags().GetString("seed"); path != "" {
			if err := a.seed(cmd.Context(), path); err != nil {
				return nil, err
			}
		}
		l.Warnf("running with the in-memory store; data is lost on exit")
	default:
		db, err := database.Open(cfg.DB.User, cfg.DB.Pass, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
		if err != nil {
			return nil, fmt.Errorf("connect mysql: %w", err)
		}
		a.db = db
		repo := repository.NewStore(db)
		store, dir, jobs = repo, repo, repo
		a.queue = queue.NewAMQP(queue.AMQPConfig{
			URL:      cfg.AMQP.URL,
			Queue:    cfg.AMQP.Queue,
			Prefetch: cfg.AMQP.Prefetch,
		}, logging.New("amqp"))
	}

	var (
		status notify.StatusStore   = a.mem
		gate   service.ReminderGate = a.mem
	)
	if a.rdb = config.NewRedisClient(cfg.Redis); a.rdb != nil {
		status = repository.NewJobStatusCache(a.rdb, "", cfg.Notify.StatusTTL)
		gate = repository.NewReminderGate(a.rdb, "")
	} else if cfg.Redis.Enabled {
		l.Warnf("redis unavailable at %s; using in-process job status and reminder dedupe", cfg.Redis.Addr)
	}

	transport, err := newTransport(cfg.Notify)
	if err != nil {
		return nil, err
	}
	a.dispatcher = notify.New(notify.Deps{
		Queue:        a.queue,
		Jobs:         jobs,
		Status:       status,
		Borrowers:    dir,
		Titles:       dir,
		Loans:        store,
		Reservations: store,
		Transport:    transport,
		Options: notify.Options{
			MaxAttempts: cfg.Notify.MaxAttempts,
			RetryDelay:  cfg.Notify.RetryDelay,
			MaxDelay:    cfg.Notify.MaxDelay,
			Backoff:     notify.Backoff(cfg.Notify.Backoff),
			Concurrency: cfg.Notify.Concurrency,
		},
		Logger: logging.New("dispatcher"),
	})

	policy := service.Policy{
		LoanDuration:     cfg.Circulation.LoanDuration,
		HoldDuration:     cfg.Circulation.HoldDuration,
		DefaultLoanLimit: cfg.Circulation.DefaultLoanLimit,
		OverdueBatch:     cfg.Circulation.OverdueBatch,
	}
	a.ledger = service.NewLedger(store, store, nil, logging.New("ledger"))
	a.queueSvc = service.NewReservationQueue(service.QueueDeps{
		Tx:           store,
		Locks:        store,
		Copies:       store,
		Reservations: store,
		Borrowers:    dir,
		Titles:       dir,
		Ledger:       a.ledger,
		Jobs:         a.dispatcher,
		Policy:       policy,
		Logger:       logging.New("reservations"),
	})
	a.loans = service.NewLoanManager(service.LoanDeps{
		Tx:           store,
		Locks:        store,
		Loans:        store,
		Reservations: store,
		Borrowers:    dir,
		Ledger:       a.ledger,
		Queue:        a.queueSvc,
		Policy:       policy,
		Logger:       logging.New("loans"),
	})
	a.scanner = service.NewOverdueScanner(store, gate, a.dispatcher, policy, nil, logging.New("overdue"))
	return a, nil
}

func newTransport(cfg config.NotifyConfig) (notify.Transport, error) {
	switch cfg.Transport {
	case "webhook":
		return notify.NewWebhook(cfg.WebhookURL, cfg.WebhookTimeout), nil
	case "log", "":
		return notify.NewLogFile(cfg.LogPath), nil
	}
	return nil, fmt.Errorf("unknown notification transport %q", cfg.Transport)
}

func (a *app) seed(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	s, err := a.mem.LoadSeed(ctx, f)
	if err != nil {
		return err
	}
	a.log.Infof("seeded %d borrowers, %d titles, %d copies", len(s.Borrowers), len(s.Titles), len(s.Copies))
	return nil
}

// healthChecks lists the dependencies /healthz checks.
func (a *app) healthChecks() map[string]handler.Check {
	checks := map[string]handler.Check{}
	if a.db != nil {
		checks["mysql"] = func(ctx context.Context) error { return a.db.PingContext(ctx) }
	}
	if a.rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() }
	}
	return checks
}

func (a *app) close() {
	var errs []error
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warnf("shutdown: %v", err)
	}
}
