package service

import (
	"context"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/library-circulation/internal/apperr"
	"github.com/iliyamo/library-circulation/internal/logging"
	"github.com/iliyamo/library-circulation/internal/model"
)

// ReminderGate lets one overdue reminder per loan through per calendar day.
type ReminderGate interface {
	// Acquire reports true the first time it is called for (loan, day).
	Acquire(ctx context.Context, loanID model.LoanID, day string) (bool, error)
	// Release frees (loan, day) again after a reminder could not be queued.
	Release(ctx context.Context, loanID model.LoanID, day string) error
}

// OverdueScanner finds open loans past their due date and queues reminders.
type OverdueScanner struct {
	loans LoanStore
	gate  ReminderGate
	jobs  JobEnqueuer
	batch int
	now   func() time.Time
	log   *log.Logger
}

func NewOverdueScanner(loans LoanStore, gate ReminderGate, jobs JobEnqueuer, policy Policy, now func() time.Time, logger *log.Logger) *OverdueScanner {
	if loans == nil || gate == nil || jobs == nil {
		panic("service: nil dependency passed to NewOverdueScanner")
	}
	if now == nil {
		now = time.Now
	}
	batch := policy.OverdueBatch
	if batch <= 0 {
		batch = DefaultPolicy().OverdueBatch
	}
	return &OverdueScanner{loans: loans, gate: gate, jobs: jobs, batch: batch, now: now, log: logging.Or(logger, "overdue")}
}

// ScanSummary reports one overdue scan.
type ScanSummary struct {
	Overdue  int `json:"overdue"`
	Enqueued int `json:"enqueued"`
	Failed   int `json:"failed"`
}

// Scan queues an OVERDUE_REMINDER for every overdue loan not yet reminded
// today. Loans are read in pages of the batch size. Enqueue failures are
// counted and the scan moves on.
func (s *OverdueScanner) Scan(ctx context.Context) (ScanSummary, error) {
	var (
		sum    ScanSummary
		cursor model.LoanCursor
	)
	now := s.now().UTC()
	day := now.Format("2006-01-02")
	for {
		loans, err := s.loans.ListOverdueLoans(ctx, now, cursor, s.batch)
		if err != nil {
			return sum, apperr.Infra("list overdue loans", err)
		}
		sum.Overdue += len(loans)
		for _, l := range loans {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			s.remind(ctx, l, day, &sum)
		}
		if len(loans) < s.batch {
			break
		}
		cursor = model.CursorOf(loans[len(loans)-1])
	}
	if sum.Overdue > 0 {
		s.log.Infof("overdue scan: %d overdue, %d reminders queued, %d failed", sum.Overdue, sum.Enqueued, sum.Failed)
	}
	return sum, nil
}

func (s *OverdueScanner) remind(ctx context.Context, l model.Loan, day string, sum *ScanSummary) {
	ok, err := s.gate.Acquire(ctx, l.ID, day)
	if err != nil {
		s.log.Warnf("loan %s: reminder gate: %v", l.ID, err)
		sum.Failed++
		return
	}
	if !ok {
		return
	}
	loanID := l.ID
	_, err = s.jobs.Enqueue(ctx, model.NotificationJob{
		Type:       model.JobOverdueReminder,
		BorrowerID: l.BorrowerID,
		LoanID:     &loanID,
	})
	if err != nil {
		s.log.Errorf("loan %s: enqueue reminder: %v", l.ID, err)
		sum.Failed++
		if rerr := s.gate.Release(ctx, l.ID, day); rerr != nil {
			s.log.Warnf("loan %s: release reminder gate: %v", l.ID, rerr)
		}
		return
	}
	sum.Enqueued++
}
