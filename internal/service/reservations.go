package service

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/library-circulation/internal/apperr"
	"github.com/iliyamo/library-circulation/internal/logging"
	"github.com/iliyamo/library-circulation/internal/model"
)

// QueueDeps wires a ReservationQueue.
type QueueDeps struct {
	Tx           Transactor
	Locks        Locker
	Copies       CopyStore
	Reservations ReservationStore
	Borrowers    BorrowerDirectory
	Titles       TitleCatalog
	Ledger       *Ledger
	Jobs         JobEnqueuer
	Policy       Policy
	Now          func() time.Time
	Logger       *log.Logger
}

// ReservationQueue keeps one FIFO waiting line per title. Active reservations
// (PENDING or NOTIFIED) of a title always hold positions 1..N; every operation
// that changes the line runs under the title lock.
type ReservationQueue struct {
	tx           Transactor
	locks        Locker
	copies       CopyStore
	reservations ReservationStore
	borrowers    BorrowerDirectory
	titles       TitleCatalog
	ledger       *Ledger
	jobs         JobEnqueuer
	policy       Policy
	now          func() time.Time
	log          *log.Logger
}

func NewReservationQueue(d QueueDeps) *ReservationQueue {
	if d.Tx == nil || d.Locks == nil || d.Copies == nil || d.Reservations == nil ||
		d.Borrowers == nil || d.Titles == nil || d.Ledger == nil || d.Jobs == nil {
		panic("service: nil dependency passed to NewReservationQueue")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Policy.HoldDuration <= 0 {
		d.Policy.HoldDuration = DefaultPolicy().HoldDuration
	}
	return &ReservationQueue{
		tx:           d.Tx,
		locks:        d.Locks,
		copies:       d.Copies,
		reservations: d.Reservations,
		borrowers:    d.Borrowers,
		titles:       d.Titles,
		ledger:       d.Ledger,
		jobs:         d.Jobs,
		policy:       d.Policy,
		now:          d.Now,
		log:          logging.Or(d.Logger, "reservations"),
	}
}

// ExpirySummary reports what one sweep changed.
type ExpirySummary struct {
	Expired  int `json:"expired"`
	Promoted int `json:"promoted"`
}

// CreateReservation puts the borrower at the end of the title's line. It is
// refused while any copy of the title is on the shelf.
func (q *ReservationQueue) CreateReservation(ctx context.Context, borrowerID model.BorrowerID, titleID model.TitleID) (model.Reservation, error) {
	if _, err := lookupBorrower(ctx, q.borrowers, borrowerID); err != nil {
		return model.Reservation{}, err
	}
	if _, err := q.titles.GetTitle(ctx, titleID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Reservation{}, apperr.NotFound(apperr.CodeTitleNotFound, "title not found").With("titleId", string(titleID))
		}
		return model.Reservation{}, apperr.Infra("get title", err)
	}

	var res model.Reservation
	err := q.tx.InTx(ctx, func(ctx context.Context) error {
		if err := q.locks.Lock(ctx, LockTitle, string(titleID)); err != nil {
			return apperr.Infra("lock title", err)
		}
		_, err := q.reservations.FindActiveReservation(ctx, borrowerID, titleID)
		switch {
		case err == nil:
			return apperr.Conflict(apperr.CodeAlreadyReserved, "borrower already has an active reservation for this title").
				With("titleId", string(titleID))
		case !errors.Is(err, model.ErrNotFound):
			return apperr.Infra("find reservation", err)
		}
		copies, err := q.copies.ListCopiesByTitle(ctx, titleID)
		if err != nil {
			return apperr.Infra("list copies", err)
		}
		for _, c := range copies {
			if c.Status == model.CopyAvailable {
				return apperr.Conflict(apperr.CodeBookAvailable, "a copy of this title is available to borrow").
					With("copyId", string(c.ID))
			}
		}
		active, err := q.reservations.CountActiveReservations(ctx, titleID)
		if err != nil {
			return apperr.Infra("count reservations", err)
		}
		res = model.Reservation{
			ID:         model.NewReservationID(),
			BorrowerID: borrowerID,
			TitleID:    titleID,
			ReservedAt: q.now().UTC(),
			Status:     model.ReservationPending,
			Position:   active + 1,
		}
		if err := q.reservations.InsertReservation(ctx, res); err != nil {
			return apperr.Infra("insert reservation", err)
		}
		return nil
	})
	if err != nil {
		return model.Reservation{}, err
	}
	q.log.Infof("reservation %s: borrower %s queued for title %s at position %d", res.ID, borrowerID, titleID, res.Position)
	return res, nil
}

// ProcessReturnedBook promotes the head of the title's line when a copy is on
// the shelf. It returns nil when nobody is waiting or no copy is free, which
// makes a second call for the same return a no-op.
func (q *ReservationQueue) ProcessReturnedBook(ctx context.Context, titleID model.TitleID) (*model.Reservation, error) {
	var promoted *model.Reservation
	err := q.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		promoted, err = q.promote(ctx, titleID, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if promoted != nil {
		q.notifyAvailable(ctx, *promoted)
	}
	return promoted, nil
}

// ExpireStaleReservations expires every NOTIFIED reservation whose pick-up
// window has closed, releases its copy and offers it to the next in line.
// Each reservation is handled in its own transaction.
func (q *ReservationQueue) ExpireStaleReservations(ctx context.Context) (ExpirySummary, error) {
	var sum ExpirySummary
	stale, err := q.reservations.ListExpiredReservations(ctx, q.now().UTC())
	if err != nil {
		return sum, apperr.Infra("list expired reservations", err)
	}
	for _, r := range stale {
		var promoted *model.Reservation
		expired := false
		err := q.tx.InTx(ctx, func(ctx context.Context) error {
			if err := q.locks.Lock(ctx, LockTitle, string(r.TitleID)); err != nil {
				return apperr.Infra("lock title", err)
			}
			cur, err := q.reservations.GetReservation(ctx, r.ID)
			if err != nil {
				return apperr.Infra("get reservation", err)
			}
			now := q.now().UTC()
			if cur.Status != model.ReservationNotified || cur.ExpiresAt == nil || !cur.ExpiresAt.Before(now) {
				return nil
			}
			cur.Status = model.ReservationExpired
			if err := q.leaveQueue(ctx, cur); err != nil {
				return err
			}
			expired = true
			promoted, err = q.release(ctx, cur)
			return err
		})
		if err != nil {
			return sum, err
		}
		if expired {
			sum.Expired++
			q.log.Infof("reservation %s expired", r.ID)
		}
		if promoted != nil {
			sum.Promoted++
			q.notifyAvailable(ctx, *promoted)
		}
	}
	return sum, nil
}

// CancelReservation withdraws an active reservation. A cancelled NOTIFIED
// reservation gives its copy to the next borrower in line.
func (q *ReservationQueue) CancelReservation(ctx context.Context, id model.ReservationID) (model.Reservation, error) {
	first, err := q.GetReservation(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	var (
		out      model.Reservation
		promoted *model.Reservation
	)
	err = q.tx.InTx(ctx, func(ctx context.Context) error {
		if err := q.locks.Lock(ctx, LockTitle, string(first.TitleID)); err != nil {
			return apperr.Infra("lock title", err)
		}
		cur, err := q.reservations.GetReservation(ctx, id)
		if err != nil {
			return apperr.Infra("get reservation", err)
		}
		if !cur.Status.Active() {
			return apperr.Conflict(apperr.CodeReservationNotActive, "reservation is no longer active").
				With("status", string(cur.Status))
		}
		wasNotified := cur.Status == model.ReservationNotified
		cur.Status = model.ReservationCancelled
		if err := q.leaveQueue(ctx, cur); err != nil {
			return err
		}
		out = cur
		if wasNotified {
			promoted, err = q.release(ctx, cur)
		}
		return err
	})
	if err != nil {
		return model.Reservation{}, err
	}
	q.log.Infof("reservation %s cancelled", id)
	if promoted != nil {
		q.notifyAvailable(ctx, *promoted)
	}
	return out, nil
}

func (q *ReservationQueue) GetReservation(ctx context.Context, id model.ReservationID) (model.Reservation, error) {
	r, err := q.reservations.GetReservation(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.Reservation{}, apperr.NotFound(apperr.CodeReservationNotFound, "reservation not found").With("reservationId", string(id))
	}
	if err != nil {
		return model.Reservation{}, apperr.Infra("get reservation", err)
	}
	return r, nil
}

// ListQueue returns the active reservations of a title ordered by position.
func (q *ReservationQueue) ListQueue(ctx context.Context, titleID model.TitleID) ([]model.Reservation, error) {
	list, err := q.reservations.ListActiveReservations(ctx, titleID)
	if err != nil {
		return nil, apperr.Infra("list reservations", err)
	}
	return list, nil
}

// leaveQueue persists a terminal status and closes the gap behind it.
func (q *ReservationQueue) leaveQueue(ctx context.Context, r model.Reservation) error {
	if err := q.reservations.UpdateReservation(ctx, r); err != nil {
		return apperr.Infra("update reservation", err)
	}
	if err := q.reservations.CloseQueueGap(ctx, r.TitleID, r.Position); err != nil {
		return apperr.Infra("renumber queue", err)
	}
	return nil
}

// release puts the copy held by r back on the shelf and offers it to the
// next in line. Caller holds the title lock.
func (q *ReservationQueue) release(ctx context.Context, r model.Reservation) (*model.Reservation, error) {
	if r.HeldCopyID == nil {
		return q.promote(ctx, r.TitleID, nil)
	}
	c, err := q.ledger.GetCopy(ctx, *r.HeldCopyID)
	if err != nil {
		return nil, err
	}
	if c.Status == model.CopyReserved {
		from := model.CopyReserved
		if _, err := q.ledger.Transition(ctx, c.ID, &from, model.CopyAvailable); err != nil {
			return nil, err
		}
	}
	return q.promote(ctx, r.TitleID, r.HeldCopyID)
}

// promote notifies the longest-waiting PENDING reservation of the title and
// reserves an AVAILABLE copy for it, trying `preferred` first. It must run
// inside a transaction; the title lock is taken here.
func (q *ReservationQueue) promote(ctx context.Context, titleID model.TitleID, preferred *model.CopyID) (*model.Reservation, error) {
	if err := q.locks.Lock(ctx, LockTitle, string(titleID)); err != nil {
		return nil, apperr.Infra("lock title", err)
	}
	next, err := q.reservations.NextPendingReservation(ctx, titleID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Infra("next reservation", err)
	}
	copies, err := q.copies.ListCopiesByTitle(ctx, titleID)
	if err != nil {
		return nil, apperr.Infra("list copies", err)
	}
	candidates := make([]model.CopyID, 0, len(copies))
	if preferred != nil {
		candidates = append(candidates, *preferred)
	}
	for _, c := range copies {
		if c.Status == model.CopyAvailable && (preferred == nil || c.ID != *preferred) {
			candidates = append(candidates, c.ID)
		}
	}
	from := model.CopyAvailable
	for _, id := range candidates {
		held, err := q.ledger.Transition(ctx, id, &from, model.CopyReserved)
		if apperr.CodeOf(err) == apperr.CodeInvalidTransition {
			continue
		}
		if err != nil {
			return nil, err
		}
		now := q.now().UTC()
		expires := now.Add(q.policy.HoldDuration)
		next.Status = model.ReservationNotified
		next.NotifiedAt = &now
		next.ExpiresAt = &expires
		next.HeldCopyID = &held.ID
		if err := q.reservations.UpdateReservation(ctx, next); err != nil {
			return nil, apperr.Infra("update reservation", err)
		}
		q.log.Infof("reservation %s promoted, copy %s held until %s", next.ID, held.ID, expires.Format(time.RFC3339))
		return &next, nil
	}
	return nil, nil
}

// notifyAvailable enqueues the pick-up notice. It runs after commit; a failed
// enqueue is logged and does not undo the promotion.
func (q *ReservationQueue) notifyAvailable(ctx context.Context, r model.Reservation) {
	title, rid := r.TitleID, r.ID
	job := model.NotificationJob{
		Type:          model.JobReservationAvailable,
		BorrowerID:    r.BorrowerID,
		TitleID:       &title,
		ReservationID: &rid,
	}
	id, err := q.jobs.Enqueue(ctx, job)
	if err != nil {
		q.log.Errorf("reservation %s: enqueue notification: %v", r.ID, err)
		return
	}
	q.log.Debugf("reservation %s: notification job %s queued", r.ID, id)
}

func lookupBorrower(ctx context.Context, dir BorrowerDirectory, id model.BorrowerID) (model.Borrower, error) {
	b, err := dir.GetBorrower(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.Borrower{}, apperr.NotFound(apperr.CodeBorrowerNotFound, "borrower not found").With("borrowerId", string(id))
	}
	if err != nil {
		return model.Borrower{}, apperr.Infra("get borrower", err)
	}
	return b, nil
}
