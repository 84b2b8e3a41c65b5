// Package memory is an in-process implementation of every store the
// circulation core and the dispatcher need. Transactions are serialized by a
// mutex and a failed transaction restores the state captured when it began.
// It backs the test suites and the STORE=memory development mode.
package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/iliyamo/library-circulation/internal/model"
)

type txKey struct{ s *Store }

type state struct {
	copies       map[model.CopyID]model.Copy
	loans        map[model.LoanID]model.Loan
	reservations map[model.ReservationID]model.Reservation
	resSeq       map[model.ReservationID]int64
	overdue      []model.OverdueRecord
}

func (st *state) clone() *state {
	return &state{
		copies:       maps.Clone(st.copies),
		loans:        maps.Clone(st.loans),
		reservations: maps.Clone(st.reservations),
		resSeq:       maps.Clone(st.resSeq),
		overdue:      slices.Clone(st.overdue),
	}
}

// Store holds all data in maps guarded by mu. txMu is held for the whole
// life of a transaction and by writes issued outside one.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state
	seq  int64

	borrowers map[model.BorrowerID]model.Borrower
	titles    map[model.TitleID]model.Title

	jobs      map[model.JobID]model.NotificationJob
	history   map[model.JobID][]model.HistoryRecord
	histSeq   int64
	statuses  map[model.JobID]statusEntry
	gate      map[string]struct{}
	statusTTL time.Duration
	now       func() time.Time
}

type statusEntry struct {
	view    model.JobStatusView
	expires time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		st: &state{
			copies:       map[model.CopyID]model.Copy{},
			loans:        map[model.LoanID]model.Loan{},
			reservations: map[model.ReservationID]model.Reservation{},
			resSeq:       map[model.ReservationID]int64{},
		},
		borrowers: map[model.BorrowerID]model.Borrower{},
		titles:    map[model.TitleID]model.Title{},
		jobs:      map[model.JobID]model.NotificationJob{},
		history:   map[model.JobID][]model.HistoryRecord{},
		statuses:  map[model.JobID]statusEntry{},
		gate:      map[string]struct{}{},
		statusTTL: 24 * time.Hour,
		now:       time.Now,
	}
}

func (s *Store) inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{s}).(bool)
	return ok
}

// InTx runs fn with every other transaction excluded. Nested calls join the
// running transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	snap := s.st.clone()
	s.mu.RUnlock()

	err := fn(context.WithValue(ctx, txKey{s}, true))
	if err != nil {
		s.mu.Lock()
		s.st = snap
		s.mu.Unlock()
	}
	return err
}

// Lock is satisfied by the transaction itself; it only checks that the
// caller is inside one.
func (s *Store) Lock(ctx context.Context, scope, key string) error {
	if !s.inTx(ctx) {
		return errors.New("memory: lock " + scope + "/" + key + " outside transaction")
	}
	return nil
}

// write applies fn to the circulation state, serialized against running
// transactions when the caller is not in one.
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if !s.inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.st)
}
