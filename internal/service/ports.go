// Package service implements the circulation core: the inventory ledger, the
// loan manager, the reservation queue and the overdue scanner. Services reach
// state only through the interfaces declared here; internal/repository
// provides MySQL and in-memory implementations.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/library-circulation/internal/model"
)

// Transactor runs fn inside one unit of work. A call made with a context that
// already carries a transaction joins it instead of opening a new one.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker takes an exclusive lock on (scope, key) that is held until the
// surrounding transaction ends. It must be called inside InTx.
type Locker interface {
	Lock(ctx context.Context, scope, key string) error
}

// Lock scopes.
const (
	LockBorrower = "borrower"
	LockTitle    = "title"
)

type CopyStore interface {
	GetCopy(ctx context.Context, id model.CopyID) (model.Copy, error)
	ListCopiesByTitle(ctx context.Context, titleID model.TitleID) ([]model.Copy, error)
	InsertCopy(ctx context.Context, c model.Copy) error
	// UpdateCopyStatus sets status to `to` only when it currently equals
	// `from`. It reports false when no row matched.
	UpdateCopyStatus(ctx context.Context, id model.CopyID, from, to model.CopyStatus, at time.Time) (bool, error)
}

type LoanStore interface {
	InsertLoan(ctx context.Context, l model.Loan) error
	GetLoan(ctx context.Context, id model.LoanID) (model.Loan, error)
	CountOpenLoans(ctx context.Context, borrowerID model.BorrowerID) (int, error)
	// CloseLoan sets returned_at only when it is still null.
	CloseLoan(ctx context.Context, id model.LoanID, returnedAt time.Time) (bool, error)
	// ListOverdueLoans returns up to limit open loans due before now that
	// sort after the cursor, in (due_at, id) order.
	ListOverdueLoans(ctx context.Context, now time.Time, after model.LoanCursor, limit int) ([]model.Loan, error)
	InsertOverdueRecord(ctx context.Context, rec model.OverdueRecord) error
}

type ReservationStore interface {
	InsertReservation(ctx context.Context, r model.Reservation) error
	GetReservation(ctx context.Context, id model.ReservationID) (model.Reservation, error)
	UpdateReservation(ctx context.Context, r model.Reservation) error
	CountActiveReservations(ctx context.Context, titleID model.TitleID) (int, error)
	FindActiveReservation(ctx context.Context, borrowerID model.BorrowerID, titleID model.TitleID) (model.Reservation, error)
	// NextPendingReservation returns the PENDING reservation with the lowest
	// position for the title.
	NextPendingReservation(ctx context.Context, titleID model.TitleID) (model.Reservation, error)
	// FindNotifiedByCopy returns the NOTIFIED reservation holding the copy.
	FindNotifiedByCopy(ctx context.Context, copyID model.CopyID) (model.Reservation, error)
	// CloseQueueGap moves every active reservation of the title positioned
	// after `position` one place forward.
	CloseQueueGap(ctx context.Context, titleID model.TitleID, position int) error
	ListExpiredReservations(ctx context.Context, now time.Time) ([]model.Reservation, error)
	ListActiveReservations(ctx context.Context, titleID model.TitleID) ([]model.Reservation, error)
}

type BorrowerDirectory interface {
	GetBorrower(ctx context.Context, id model.BorrowerID) (model.Borrower, error)
}

type TitleCatalog interface {
	GetTitle(ctx context.Context, id model.TitleID) (model.Title, error)
}

// JobEnqueuer admits notification jobs. It is implemented by the dispatcher.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job model.NotificationJob) (model.JobID, error)
}

// Store bundles everything a repository backend provides to the core.
type Store interface {
	Transactor
	Locker
	CopyStore
	LoanStore
	ReservationStore
}

// Policy holds the circulation constants.
type Policy struct {
	LoanDuration     time.Duration
	HoldDuration     time.Duration
	DefaultLoanLimit int
	OverdueBatch     int
}

func DefaultPolicy() Policy {
	return Policy{
		LoanDuration:     14 * 24 * time.Hour,
		HoldDuration:     7 * 24 * time.Hour,
		DefaultLoanLimit: 5,
		OverdueBatch:     500,
	}
}
