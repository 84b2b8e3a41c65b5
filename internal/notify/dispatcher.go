// Package notify is the notification dispatcher: it admits jobs onto the job
// queue and runs the worker pool that renders and delivers them, retrying
// transient transport failures and recording one history row per attempt.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/library-circulation/internal/apperr"
	"github.com/iliyamo/library-circulation/internal/logging"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/queue"
)

// JobStore keeps jobs (insert-only) and their delivery history.
type JobStore interface {
	InsertJob(ctx context.Context, job model.NotificationJob) error
	GetJob(ctx context.Context, id model.JobID) (model.NotificationJob, error)
	AppendHistory(ctx context.Context, rec model.HistoryRecord) error
	ListHistory(ctx context.Context, id model.JobID) ([]model.HistoryRecord, error)
}

// StatusStore keeps the live status of recent jobs. GetStatus returns
// model.ErrNotFound once an entry has expired.
type StatusStore interface {
	PutStatus(ctx context.Context, v model.JobStatusView) error
	GetStatus(ctx context.Context, id model.JobID) (model.JobStatusView, error)
}

type Borrowers interface {
	GetBorrower(ctx context.Context, id model.BorrowerID) (model.Borrower, error)
}

type Titles interface {
	GetTitle(ctx context.Context, id model.TitleID) (model.Title, error)
}

type Loans interface {
	GetLoan(ctx context.Context, id model.LoanID) (model.Loan, error)
}

type Reservations interface {
	GetReservation(ctx context.Context, id model.ReservationID) (model.Reservation, error)
}

// Options tunes delivery.
type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
	MaxDelay    time.Duration
	Backoff     Backoff
	Concurrency int
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		RetryDelay:  30 * time.Second,
		Backoff:     BackoffFixed,
		Concurrency: 5,
	}
}

// Deps wires a Dispatcher. Reservations is optional; when set the pick-up
// deadline is included in reservation notices.
type Deps struct {
	Queue        queue.Queue
	Jobs         JobStore
	Status       StatusStore
	Borrowers    Borrowers
	Titles       Titles
	Loans        Loans
	Reservations Reservations
	Transport    Transport
	Options      Options
	Now          func() time.Time
	Logger       *log.Logger
}

type Dispatcher struct {
	queue        queue.Queue
	jobs         JobStore
	status       StatusStore
	borrowers    Borrowers
	titles       Titles
	loans        Loans
	reservations Reservations
	transport    Transport
	opts         Options
	now          func() time.Time
	log          *log.Logger
}

func New(d Deps) *Dispatcher {
	if d.Queue == nil || d.Jobs == nil || d.Status == nil || d.Borrowers == nil ||
		d.Titles == nil || d.Loans == nil || d.Transport == nil {
		panic("notify: nil dependency passed to New")
	}
	def := DefaultOptions()
	if d.Options.MaxAttempts <= 0 {
		d.Options.MaxAttempts = def.MaxAttempts
	}
	if d.Options.RetryDelay < 0 {
		d.Options.RetryDelay = def.RetryDelay
	}
	if d.Options.Backoff == "" {
		d.Options.Backoff = def.Backoff
	}
	if d.Options.Concurrency <= 0 {
		d.Options.Concurrency = def.Concurrency
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Dispatcher{
		queue:        d.Queue,
		jobs:         d.Jobs,
		status:       d.Status,
		borrowers:    d.Borrowers,
		titles:       d.Titles,
		loans:        d.Loans,
		reservations: d.Reservations,
		transport:    d.Transport,
		opts:         d.Options,
		now:          d.Now,
		log:          logging.Or(d.Logger, "dispatcher"),
	}
}

// Enqueue admits a job. It assigns the id and admission time, persists the
// job, marks it PENDING and publishes it. Delivery happens later on a worker.
// A job that cannot be published is marked FAILED before the error returns.
func (d *Dispatcher) Enqueue(ctx context.Context, job model.NotificationJob) (model.JobID, error) {
	if err := validateJob(job); err != nil {
		return "", err
	}
	job.ID = model.NewJobID()
	job.EnqueuedAt = d.now().UTC()
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = d.opts.MaxAttempts
	}
	if err := d.jobs.InsertJob(ctx, job); err != nil {
		return "", apperr.QueueError(fmt.Errorf("persist job: %w", err))
	}
	d.putStatus(ctx, job, model.JobPending, 0)
	if err := d.queue.Publish(ctx, queue.FromJob(job)); err != nil {
		d.markUnpublished(ctx, job, err)
		return "", apperr.QueueError(fmt.Errorf("publish job: %w", err)).With("jobId", string(job.ID))
	}
	d.log.Debugf("job %s (%s) queued for %s", job.ID, job.Type, job.BorrowerID)
	return job.ID, nil
}

// markUnpublished ends a job the broker never accepted. The caller owns the
// retry, so a late redelivery of this job is skipped.
func (d *Dispatcher) markUnpublished(ctx context.Context, job model.NotificationJob, cause error) {
	rec := d.record(job, 0, "", unpublishedPrefix+cause.Error())
	if err := d.jobs.AppendHistory(ctx, rec); err != nil {
		d.log.Errorf("job %s: mark unpublished: %v", job.ID, err)
		return
	}
	d.putStatus(ctx, job, model.JobFailed, 0)
}

func validateJob(job model.NotificationJob) error {
	if !job.Type.Valid() {
		return apperr.Validation("unknown notification type").With("type", string(job.Type))
	}
	if job.BorrowerID == "" {
		return apperr.Validation("borrowerId is required")
	}
	switch job.Type {
	case model.JobReservationAvailable:
		if job.TitleID == nil || *job.TitleID == "" {
			return apperr.Validation("titleId is required for " + string(job.Type))
		}
	case model.JobOverdueReminder:
		if job.LoanID == nil || *job.LoanID == "" {
			return apperr.Validation("loanId is required for " + string(job.Type))
		}
	}
	return nil
}

// JobStatus reports the state of a job. The live entry is used when present;
// otherwise the state is derived from the stored job and its history.
func (d *Dispatcher) JobStatus(ctx context.Context, id model.JobID) (model.JobStatusView, error) {
	v, err := d.status.GetStatus(ctx, id)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		d.log.Warnf("job %s: status store: %v", id, err)
	}
	job, err := d.getJob(ctx, id)
	if err != nil {
		return model.JobStatusView{}, err
	}
	hist, err := d.jobs.ListHistory(ctx, id)
	if err != nil {
		return model.JobStatusView{}, apperr.Infra("list job history", err)
	}
	return deriveStatus(job, hist), nil
}

// JobOwner returns the borrower a job notifies.
func (d *Dispatcher) JobOwner(ctx context.Context, id model.JobID) (model.BorrowerID, error) {
	job, err := d.getJob(ctx, id)
	if err != nil {
		return "", err
	}
	return job.BorrowerID, nil
}

func (d *Dispatcher) getJob(ctx context.Context, id model.JobID) (model.NotificationJob, error) {
	job, err := d.jobs.GetJob(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.NotificationJob{}, apperr.NotFound(apperr.CodeJobNotFound, "notification job not found").With("jobId", string(id))
	}
	if err != nil {
		return model.NotificationJob{}, apperr.Infra("get job", err)
	}
	return job, nil
}

func deriveStatus(job model.NotificationJob, hist []model.HistoryRecord) model.JobStatusView {
	v := model.JobStatusView{JobID: job.ID, Status: model.JobPending, Attempts: sendAttempts(hist), MaxAttempts: job.MaxAttempts}
	if len(hist) == 0 {
		return v
	}
	last := hist[len(hist)-1]
	switch {
	case last.Success:
		v.Status = model.JobCompleted
	case v.Attempts >= job.MaxAttempts || isPermanentRecord(last):
		v.Status = model.JobFailed
	default:
		v.Status = model.JobProcessing
	}
	return v
}

// Run consumes the job queue with a fixed pool of workers until ctx is
// cancelled, then waits for in-flight jobs to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	deliveries, err := d.queue.Consume(ctx)
	if err != nil {
		return apperr.QueueError(err)
	}
	d.log.Infof("dispatcher started with %d workers", d.opts.Concurrency)
	var wg sync.WaitGroup
	for i := 0; i < d.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for dl := range deliveries {
				d.handle(ctx, dl)
			}
		}()
	}
	wg.Wait()
	d.log.Infof("dispatcher stopped")
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, dl queue.Delivery) {
	job, err := dl.Message.Job()
	if err != nil {
		d.log.Errorf("dropping malformed job message: %v", err)
		_ = dl.Nack(false)
		return
	}
	if err := d.Process(ctx, job); err != nil {
		d.log.Warnf("job %s interrupted: %v", job.ID, err)
		if ctx.Err() == nil {
			// back off before the broker hands the job out again
			select {
			case <-time.After(min(d.opts.RetryDelay, 5*time.Second)):
			case <-ctx.Done():
			}
		}
		_ = dl.Nack(true)
		return
	}
	_ = dl.Ack()
}

// History rows that end a job without exhausting its attempts carry one of
// these prefixes. missingContextPrefix marks a borrower, title or loan that
// could not be resolved and permanentPrefix a message the transport refused.
// unpublishedPrefix marks a job the broker never accepted; that row has
// attempt 0 and is not a send attempt.
const (
	missingContextPrefix = "missing context: "
	permanentPrefix      = "permanent: "
	unpublishedPrefix    = "unpublished: "
)

func isPermanentRecord(r model.HistoryRecord) bool {
	for _, p := range []string{missingContextPrefix, permanentPrefix, unpublishedPrefix} {
		if strings.HasPrefix(r.Error, p) {
			return true
		}
	}
	return false
}

func sendAttempts(hist []model.HistoryRecord) int {
	n := 0
	for _, r := range hist {
		if r.Attempt > 0 {
			n++
		}
	}
	return n
}

// Process delivers one job to completion or exhaustion. It only returns an
// error when ctx ends before the job reaches a terminal state; delivery
// failures are recorded in history instead.
func (d *Dispatcher) Process(ctx context.Context, job model.NotificationJob) error {
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = d.opts.MaxAttempts
	}
	prior, err := d.jobs.ListHistory(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}
	if st := deriveStatus(job, prior); st.Status == model.JobCompleted || st.Status == model.JobFailed {
		d.log.Debugf("job %s already %s, skipping redelivery", job.ID, st.Status)
		return nil
	}
	done := len(prior)
	d.putStatus(ctx, job, model.JobProcessing, done)

	msg, err := d.resolve(ctx, job)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			rec := d.record(job, done+1, msg.To, missingContextPrefix+err.Error())
			if err := d.jobs.AppendHistory(ctx, rec); err != nil {
				return fmt.Errorf("append history: %w", err)
			}
			d.putStatus(ctx, job, model.JobFailed, done+1)
			d.log.Errorf("job %s failed permanently: %v", job.ID, apperr.SendError(done+1, err))
			return nil
		}
		// resolver outages are transient; leave the job for redelivery
		return fmt.Errorf("resolve job context: %w", err)
	}

	remaining := job.MaxAttempts - done
	attempts, sendErr := Retry(ctx, func(ctx context.Context, attempt int) error {
		n := done + attempt
		serr := d.transport.Send(ctx, msg)
		if errors.Is(serr, context.Canceled) && ctx.Err() != nil {
			return serr
		}
		errText := ""
		switch {
		case IsPermanent(serr):
			errText = permanentPrefix + serr.Error()
		case serr != nil:
			errText = serr.Error()
		}
		rec := d.record(job, n, msg.To, errText)
		rec.Success = serr == nil
		if err := d.jobs.AppendHistory(ctx, rec); err != nil {
			d.log.Errorf("job %s attempt %d: append history: %v", job.ID, n, err)
		}
		if serr != nil {
			d.log.Warnf("job %s attempt %d/%d failed: %v", job.ID, n, job.MaxAttempts, serr)
			d.putStatus(ctx, job, model.JobProcessing, n)
		}
		return serr
	}, WithMaxAttempts(max(remaining, 1)), WithDelay(d.opts.RetryDelay, d.opts.MaxDelay), WithBackoff(d.opts.Backoff))
	total := done + attempts

	switch {
	case sendErr == nil:
		d.putStatus(ctx, job, model.JobCompleted, total)
		d.log.Infof("job %s delivered to %s after %d attempt(s)", job.ID, msg.To, total)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		d.putStatus(ctx, job, model.JobFailed, total)
		d.log.Errorf("job %s failed: %v", job.ID, apperr.SendError(total, sendErr))
	}
	return nil
}

func (d *Dispatcher) record(job model.NotificationJob, attempt int, to, errText string) model.HistoryRecord {
	return model.HistoryRecord{
		JobID:     job.ID,
		Attempt:   attempt,
		Recipient: to,
		SentAt:    d.now().UTC(),
		Error:     errText,
	}
}

// resolve loads the borrower and subject of a job and renders the message.
// Unresolvable references come back wrapping model.ErrNotFound.
func (d *Dispatcher) resolve(ctx context.Context, job model.NotificationJob) (Message, error) {
	var v view
	b, err := d.borrowers.GetBorrower(ctx, job.BorrowerID)
	if err != nil {
		return Message{}, fmt.Errorf("borrower %s: %w", job.BorrowerID, err)
	}
	v.Borrower = b
	partial := Message{JobID: job.ID, Type: job.Type, To: b.Email, Name: b.Name}

	switch job.Type {
	case model.JobReservationAvailable:
		if job.TitleID == nil {
			return partial, fmt.Errorf("title: %w", model.ErrNotFound)
		}
		t, err := d.titles.GetTitle(ctx, *job.TitleID)
		if err != nil {
			return partial, fmt.Errorf("title %s: %w", *job.TitleID, err)
		}
		v.Title = t
		if d.reservations != nil && job.ReservationID != nil {
			if r, err := d.reservations.GetReservation(ctx, *job.ReservationID); err == nil && r.ExpiresAt != nil {
				v.HoldUntil = formatDate(*r.ExpiresAt)
			}
		}
	case model.JobOverdueReminder:
		if job.LoanID == nil {
			return partial, fmt.Errorf("loan: %w", model.ErrNotFound)
		}
		l, err := d.loans.GetLoan(ctx, *job.LoanID)
		if err != nil {
			return partial, fmt.Errorf("loan %s: %w", *job.LoanID, err)
		}
		v.Loan = l
		v.DueDate = formatDate(l.DueAt)
		v.OverdueDays = overdueDays(l.DueAt, d.now())
	}
	msg, err := render(job, v)
	if err != nil {
		return partial, fmt.Errorf("%w: %v", model.ErrNotFound, err)
	}
	return msg, nil
}

func overdueDays(due, now time.Time) int {
	late := now.Sub(due)
	if late <= 0 {
		return 0
	}
	return int((late + 24*time.Hour - 1) / (24 * time.Hour))
}

func (d *Dispatcher) putStatus(ctx context.Context, job model.NotificationJob, st model.JobStatus, attempts int) {
	v := model.JobStatusView{JobID: job.ID, Status: st, Attempts: attempts, MaxAttempts: job.MaxAttempts}
	if err := d.status.PutStatus(ctx, v); err != nil {
		d.log.Warnf("job %s: put status %s: %v", job.ID, st, err)
	}
}
