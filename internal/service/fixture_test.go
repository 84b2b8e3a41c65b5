package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/apperr"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/repository/memory"
	"github.com/iliyamo/library-circulation/internal/service"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingJobs stands in for the dispatcher.
type recordingJobs struct {
	mu   sync.Mutex
	jobs []model.NotificationJob
	err  error
}

func (r *recordingJobs) Enqueue(_ context.Context, job model.NotificationJob) (model.JobID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	job.ID = model.NewJobID()
	r.jobs = append(r.jobs, job)
	return job.ID, nil
}

func (r *recordingJobs) all() []model.NotificationJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.NotificationJob(nil), r.jobs...)
}

type fixture struct {
	store   *memory.Store
	jobs    *recordingJobs
	clock   *clock
	ledger  *service.Ledger
	queue   *service.ReservationQueue
	loans   *service.LoanManager
	scanner *service.OverdueScanner
}

var epoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.New(),
		jobs:  &recordingJobs{},
		clock: &clock{t: epoch},
	}
	policy := service.DefaultPolicy()
	f.ledger = service.NewLedger(f.store, f.store, f.clock.Now, nil)
	f.queue = service.NewReservationQueue(service.QueueDeps{
		Tx:           f.store,
		Locks:        f.store,
		Copies:       f.store,
		Reservations: f.store,
		Borrowers:    f.store,
		Titles:       f.store,
		Ledger:       f.ledger,
		Jobs:         f.jobs,
		Policy:       policy,
		Now:          f.clock.Now,
	})
	f.loans = service.NewLoanManager(service.LoanDeps{
		Tx:           f.store,
		Locks:        f.store,
		Loans:        f.store,
		Reservations: f.store,
		Borrowers:    f.store,
		Ledger:       f.ledger,
		Queue:        f.queue,
		Policy:       policy,
		Now:          f.clock.Now,
	})
	f.scanner = service.NewOverdueScanner(f.store, f.store, f.jobs, policy, f.clock.Now, nil)
	return f
}

func (f *fixture) borrower(id string, limit int) model.BorrowerID {
	f.store.PutBorrower(model.Borrower{ID: model.BorrowerID(id), Name: id, Email: id + "@example.org", LoanLimit: limit})
	return model.BorrowerID(id)
}

func (f *fixture) title(t *testing.T, id string, copies ...string) model.TitleID {
	t.Helper()
	f.store.PutTitle(model.Title{ID: model.TitleID(id), Name: "Title " + id, Author: "Author"})
	for _, c := range copies {
		_, err := f.ledger.RegisterCopy(context.Background(), model.Copy{ID: model.CopyID(c), TitleID: model.TitleID(id)})
		require.NoError(t, err)
	}
	return model.TitleID(id)
}

func (f *fixture) copyStatus(t *testing.T, id string) model.CopyStatus {
	t.Helper()
	c, err := f.ledger.GetCopy(context.Background(), model.CopyID(id))
	require.NoError(t, err)
	return c.Status
}

func (f *fixture) positions(t *testing.T, title model.TitleID) []int {
	t.Helper()
	list, err := f.queue.ListQueue(context.Background(), title)
	require.NoError(t, err)
	out := make([]int, len(list))
	for i, r := range list {
		out[i] = r.Position
	}
	return out
}

func requireCode(t *testing.T, err error, code apperr.Code) *apperr.Error {
	t.Helper()
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.Truef(t, ok, "expected *apperr.Error, got %T: %v", err, err)
	require.Equal(t, code, e.Code, e.Error())
	return e
}

var errBroker = errors.New("broker down")
