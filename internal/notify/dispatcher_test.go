package notify_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/apperr"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/notify"
	"github.com/iliyamo/library-circulation/internal/queue"
	"github.com/iliyamo/library-circulation/internal/repository/memory"
)

var errSMTP = errors.New("smtp: connection reset")

type sink struct {
	mu   sync.Mutex
	msgs []notify.Message
	fail int // number of leading sends that fail
	err  error
}

func (s *sink) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *sink) sent() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Message(nil), s.msgs...)
}

// noStatus never has a live entry, forcing status derivation.
type noStatus struct{}

func (noStatus) PutStatus(context.Context, model.JobStatusView) error { return nil }
func (noStatus) GetStatus(context.Context, model.JobID) (model.JobStatusView, error) {
	return model.JobStatusView{}, model.ErrNotFound
}

type env struct {
	store *memory.Store
	queue *queue.Memory
	sink  *sink
	d     *notify.Dispatcher
}

func newEnv(t *testing.T, status notify.StatusStore) *env {
	t.Helper()
	e := &env{store: memory.New(), queue: queue.NewMemory(16), sink: &sink{err: errSMTP}}
	if status == nil {
		status = e.store
	}
	e.store.PutBorrower(model.Borrower{ID: "b-1", Name: "Ada", Email: "ada@example.org"})
	e.store.PutTitle(model.Title{ID: "t-1", Name: "Dune", Author: "Frank Herbert"})
	e.d = notify.New(notify.Deps{
		Queue:        e.queue,
		Jobs:         e.store,
		Status:       status,
		Borrowers:    e.store,
		Titles:       e.store,
		Loans:        e.store,
		Reservations: e.store,
		Transport:    e.sink,
		Options: notify.Options{
			MaxAttempts: 3,
			RetryDelay:  time.Millisecond,
			Backoff:     notify.BackoffFixed,
			Concurrency: 2,
		},
	})
	return e
}

func (e *env) enqueue(t *testing.T, job model.NotificationJob) model.NotificationJob {
	t.Helper()
	id, err := e.d.Enqueue(context.Background(), job)
	require.NoError(t, err)
	stored, err := e.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return stored
}

func availableJob(borrower model.BorrowerID) model.NotificationJob {
	title := model.TitleID("t-1")
	return model.NotificationJob{Type: model.JobReservationAvailable, BorrowerID: borrower, TitleID: &title}
}

func TestEnqueue_AssignsIdentityAndPending(t *testing.T) {
	e := newEnv(t, nil)
	job := e.enqueue(t, availableJob("b-1"))

	assert.NotEmpty(t, job.ID)
	assert.False(t, job.EnqueuedAt.IsZero())
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, 1, e.queue.Len())

	st, err := e.d.JobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, st.Status)
	assert.Zero(t, st.Attempts)
}

func TestEnqueue_Validation(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	_, err := e.d.Enqueue(ctx, model.NotificationJob{Type: model.JobReservationAvailable, BorrowerID: "b-1"})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = e.d.Enqueue(ctx, model.NotificationJob{Type: model.JobOverdueReminder, BorrowerID: "b-1"})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	_, err = e.d.Enqueue(ctx, model.NotificationJob{Type: "WELCOME", BorrowerID: "b-1"})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	assert.Zero(t, e.queue.Len())
}

func TestEnqueue_QueueUnavailable(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, e.queue.Close())

	_, err := e.d.Enqueue(context.Background(), availableJob("b-1"))
	assert.Equal(t, apperr.CodeQueueError, apperr.CodeOf(err))
	assert.Equal(t, apperr.KindInfrastructure, apperr.KindOf(err))
}

func TestEnqueue_UnpublishedJobEndsFailed(t *testing.T) {
	e := newEnv(t, noStatus{})
	require.NoError(t, e.queue.Close())
	ctx := context.Background()

	_, err := e.d.Enqueue(ctx, availableJob("b-1"))
	ae, ok := apperr.As(err)
	require.True(t, ok)
	id := model.JobID(ae.Details["jobId"].(string))

	st, err := e.d.JobStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, st.Status)
	assert.Zero(t, st.Attempts)

	// a late delivery of the same job is not sent
	job, err := e.store.GetJob(ctx, id)
	require.NoError(t, err)
	require.NoError(t, e.d.Process(ctx, job))
	assert.Empty(t, e.sink.sent())
	hist, err := e.store.ListHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Zero(t, hist[0].Attempt)
	assert.True(t, strings.HasPrefix(hist[0].Error, "unpublished: "), hist[0].Error)
}

func TestProcess_FailsTwiceThenSucceeds(t *testing.T) {
	e := newEnv(t, nil)
	e.sink.fail = 2
	job := e.enqueue(t, availableJob("b-1"))

	require.NoError(t, e.d.Process(context.Background(), job))

	hist, err := e.store.ListHistory(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	for i, rec := range hist {
		assert.Equal(t, i+1, rec.Attempt)
		assert.Equal(t, "ada@example.org", rec.Recipient)
	}
	assert.False(t, hist[0].Success)
	assert.False(t, hist[1].Success)
	assert.True(t, hist[2].Success)
	assert.Equal(t, errSMTP.Error(), hist[0].Error)
	assert.Empty(t, hist[2].Error)

	st, err := e.d.JobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, st.Status)
	assert.Equal(t, 3, st.Attempts)

	sent := e.sink.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Subject, "Dune")
	assert.Contains(t, sent[0].Body, "Hello Ada")
}

func TestProcess_Exhausted(t *testing.T) {
	e := newEnv(t, nil)
	e.sink.fail = 10
	job := e.enqueue(t, availableJob("b-1"))

	require.NoError(t, e.d.Process(context.Background(), job))

	hist, err := e.store.ListHistory(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 3)

	st, err := e.d.JobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, st.Status)
	assert.Equal(t, 3, st.Attempts)
}

func TestProcess_PermanentFailureStopsRetrying(t *testing.T) {
	e := newEnv(t, nil)
	e.sink.fail = 10
	e.sink.err = notify.Permanent(errors.New("mailbox does not exist"))
	job := e.enqueue(t, availableJob("b-1"))

	require.NoError(t, e.d.Process(context.Background(), job))

	hist, err := e.store.ListHistory(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 1)

	st, err := e.d.JobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, st.Status)
}

func TestProcess_PermanentFailureIsTerminalWithoutLiveStatus(t *testing.T) {
	e := newEnv(t, noStatus{})
	e.sink.fail = 10
	e.sink.err = notify.Permanent(errors.New("webhook: status 400"))
	job := e.enqueue(t, availableJob("b-1"))
	ctx := context.Background()

	require.NoError(t, e.d.Process(ctx, job))

	st, err := e.d.JobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, st.Status)
	assert.Equal(t, 1, st.Attempts)

	// a broker redelivery must not send again
	require.NoError(t, e.d.Process(ctx, job))
	hist, err := e.store.ListHistory(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "permanent: webhook: status 400", hist[0].Error)
	assert.Equal(t, 9, e.sink.fail)
}

func TestProcess_MissingContext(t *testing.T) {
	e := newEnv(t, nil)
	job := e.enqueue(t, availableJob("ghost"))

	require.NoError(t, e.d.Process(context.Background(), job))

	hist, err := e.store.ListHistory(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.False(t, hist[0].Success)
	assert.True(t, strings.HasPrefix(hist[0].Error, "missing context: "), hist[0].Error)
	assert.Empty(t, e.sink.sent())

	st, err := e.d.JobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, st.Status)
	assert.Equal(t, 1, st.Attempts)
}

func TestProcess_OverdueReminder(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	due := time.Now().UTC().Add(-50 * time.Hour)
	loan := model.Loan{ID: "l-1", BorrowerID: "b-1", CopyID: "c-1", BorrowedAt: due.Add(-14 * 24 * time.Hour), DueAt: due}
	require.NoError(t, e.store.InsertLoan(ctx, loan))

	loanID := loan.ID
	job := e.enqueue(t, model.NotificationJob{Type: model.JobOverdueReminder, BorrowerID: "b-1", LoanID: &loanID})
	require.NoError(t, e.d.Process(ctx, job))

	sent := e.sink.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, model.JobOverdueReminder, sent[0].Type)
	assert.Contains(t, sent[0].Body, "3 day(s) overdue")
	assert.Contains(t, sent[0].Subject, "c-1")
}

func TestProcess_SkipsTerminalRedelivery(t *testing.T) {
	e := newEnv(t, nil)
	job := e.enqueue(t, availableJob("b-1"))
	ctx := context.Background()

	require.NoError(t, e.d.Process(ctx, job))
	require.NoError(t, e.d.Process(ctx, job))

	hist, err := e.store.ListHistory(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
	assert.Len(t, e.sink.sent(), 1)
}

func TestProcess_RedeliveryContinuesAttemptNumbering(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	job := e.enqueue(t, availableJob("b-1"))
	require.NoError(t, e.store.AppendHistory(ctx, model.HistoryRecord{
		JobID: job.ID, Attempt: 1, Recipient: "ada@example.org", SentAt: time.Now(), Error: errSMTP.Error(),
	}))

	e.sink.fail = 5
	require.NoError(t, e.d.Process(ctx, job))

	hist, err := e.store.ListHistory(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, 2, hist[1].Attempt)
	assert.Equal(t, 3, hist[2].Attempt)
}

func TestJobStatus_DerivedFromHistory(t *testing.T) {
	e := newEnv(t, noStatus{})
	e.sink.fail = 1
	job := e.enqueue(t, availableJob("b-1"))
	ctx := context.Background()

	st, err := e.d.JobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, st.Status)

	require.NoError(t, e.d.Process(ctx, job))
	st, err = e.d.JobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, st.Status)
	assert.Equal(t, 2, st.Attempts)
	assert.Equal(t, 3, st.MaxAttempts)
}

func TestJobStatus_Unknown(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.d.JobStatus(context.Background(), "nope")
	assert.Equal(t, apperr.CodeJobNotFound, apperr.CodeOf(err))
}

func TestJobOwner(t *testing.T) {
	e := newEnv(t, nil)
	job := e.enqueue(t, availableJob("b-1"))
	ctx := context.Background()

	owner, err := e.d.JobOwner(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BorrowerID("b-1"), owner)

	_, err = e.d.JobOwner(ctx, "nope")
	assert.Equal(t, apperr.CodeJobNotFound, apperr.CodeOf(err))
}

func TestRun_DeliversQueuedJobs(t *testing.T) {
	e := newEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var stopped atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, e.d.Run(ctx))
		stopped.Store(true)
	}()

	var ids []model.JobID
	for i := 0; i < 5; i++ {
		ids = append(ids, e.enqueue(t, availableJob("b-1")).ID)
	}
	require.Eventually(t, func() bool {
		for _, id := range ids {
			st, err := e.d.JobStatus(context.Background(), id)
			if err != nil || st.Status != model.JobCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, e.sink.sent(), 5)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.True(t, stopped.Load())
}
