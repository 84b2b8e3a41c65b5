package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/library-circulation/internal/apperr"
	"github.com/iliyamo/library-circulation/internal/logging"
	"github.com/iliyamo/library-circulation/internal/model"
)

// LoanDeps wires a LoanManager.
type LoanDeps struct {
	Tx           Transactor
	Locks        Locker
	Loans        LoanStore
	Reservations ReservationStore
	Borrowers    BorrowerDirectory
	Ledger       *Ledger
	Queue        *ReservationQueue
	Policy       Policy
	Now          func() time.Time
	Logger       *log.Logger
}

// LoanManager enforces borrowing eligibility and closes loans on return.
type LoanManager struct {
	tx           Transactor
	locks        Locker
	loans        LoanStore
	reservations ReservationStore
	borrowers    BorrowerDirectory
	ledger       *Ledger
	queue        *ReservationQueue
	policy       Policy
	now          func() time.Time
	log          *log.Logger
}

func NewLoanManager(d LoanDeps) *LoanManager {
	if d.Tx == nil || d.Locks == nil || d.Loans == nil || d.Reservations == nil ||
		d.Borrowers == nil || d.Ledger == nil || d.Queue == nil {
		panic("service: nil dependency passed to NewLoanManager")
	}
	def := DefaultPolicy()
	if d.Policy.LoanDuration <= 0 {
		d.Policy.LoanDuration = def.LoanDuration
	}
	if d.Policy.DefaultLoanLimit <= 0 {
		d.Policy.DefaultLoanLimit = def.DefaultLoanLimit
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &LoanManager{
		tx:           d.Tx,
		locks:        d.Locks,
		loans:        d.Loans,
		reservations: d.Reservations,
		borrowers:    d.Borrowers,
		ledger:       d.Ledger,
		queue:        d.Queue,
		policy:       d.Policy,
		now:          d.Now,
		log:          logging.Or(d.Logger, "loans"),
	}
}

// ReturnResult describes a completed return.
type ReturnResult struct {
	Loan        model.Loan         `json:"loan"`
	IsOverdue   bool               `json:"isOverdue"`
	OverdueDays *int               `json:"overdueDays,omitempty"`
	Promoted    *model.Reservation `json:"-"`
}

// CreateLoan lends a copy to a borrower. The checks run in order and stop at
// the first failure: borrower, loan limit, copy, availability. The open-loan
// count and the insert happen under the borrower lock so concurrent requests
// cannot push a borrower over the limit.
func (m *LoanManager) CreateLoan(ctx context.Context, borrowerID model.BorrowerID, copyID model.CopyID) (model.Loan, error) {
	var loan model.Loan
	err := m.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := lookupBorrower(ctx, m.borrowers, borrowerID)
		if err != nil {
			return err
		}
		if err := m.locks.Lock(ctx, LockBorrower, string(borrowerID)); err != nil {
			return apperr.Infra("lock borrower", err)
		}
		limit := b.LoanLimit
		if limit <= 0 {
			limit = m.policy.DefaultLoanLimit
		}
		open, err := m.loans.CountOpenLoans(ctx, borrowerID)
		if err != nil {
			return apperr.Infra("count open loans", err)
		}
		if open >= limit {
			return apperr.LoanLimitExceeded(limit, open)
		}

		c, err := m.ledger.GetCopy(ctx, copyID)
		if err != nil {
			return err
		}
		from := model.CopyAvailable
		switch c.Status {
		case model.CopyAvailable:
		case model.CopyReserved:
			if err := m.fulfill(ctx, c, borrowerID); err != nil {
				return err
			}
			from = model.CopyReserved
		default:
			return notAvailable(c.ID, c.Status)
		}

		now := m.now().UTC()
		loan = model.Loan{
			ID:         model.NewLoanID(),
			BorrowerID: borrowerID,
			CopyID:     copyID,
			BorrowedAt: now,
			DueAt:      now.Add(m.policy.LoanDuration),
		}
		if err := m.loans.InsertLoan(ctx, loan); err != nil {
			// the copy still has an open loan
			if errors.Is(err, model.ErrDuplicate) {
				return notAvailable(copyID, c.Status)
			}
			return apperr.Infra("insert loan", err)
		}
		if _, err := m.ledger.Transition(ctx, copyID, &from, model.CopyBorrowed); err != nil {
			if e, ok := apperr.As(err); ok && e.Code == apperr.CodeInvalidTransition {
				return notAvailable(copyID, model.CopyStatus(asString(e.Details["actual"])))
			}
			return err
		}
		return nil
	})
	if err != nil {
		return model.Loan{}, err
	}
	m.log.Infof("loan %s: copy %s lent to %s until %s", loan.ID, copyID, borrowerID, loan.DueAt.Format(time.RFC3339))
	return loan, nil
}

// fulfill completes the reservation that holds a RESERVED copy. Only the
// borrower it was held for may take it.
func (m *LoanManager) fulfill(ctx context.Context, c model.Copy, borrowerID model.BorrowerID) error {
	if err := m.locks.Lock(ctx, LockTitle, string(c.TitleID)); err != nil {
		return apperr.Infra("lock title", err)
	}
	r, err := m.reservations.FindNotifiedByCopy(ctx, c.ID)
	if errors.Is(err, model.ErrNotFound) || (err == nil && r.BorrowerID != borrowerID) {
		return notAvailable(c.ID, c.Status)
	}
	if err != nil {
		return apperr.Infra("find reservation", err)
	}
	r.Status = model.ReservationFulfilled
	if err := m.reservations.UpdateReservation(ctx, r); err != nil {
		return apperr.Infra("update reservation", err)
	}
	if err := m.reservations.CloseQueueGap(ctx, r.TitleID, r.Position); err != nil {
		return apperr.Infra("renumber queue", err)
	}
	m.log.Infof("reservation %s fulfilled", r.ID)
	return nil
}

// ReturnBook closes a loan, records lateness and hands the copy to the next
// borrower waiting for its title. The promotion happens in the same
// transaction; the notification job is queued after commit.
func (m *LoanManager) ReturnBook(ctx context.Context, id model.LoanID) (ReturnResult, error) {
	var res ReturnResult
	err := m.tx.InTx(ctx, func(ctx context.Context) error {
		res = ReturnResult{}
		loan, err := m.getLoan(ctx, id)
		if err != nil {
			return err
		}
		if !loan.Open() {
			return alreadyReturned(id)
		}
		now := m.now().UTC()
		ok, err := m.loans.CloseLoan(ctx, id, now)
		if err != nil {
			return apperr.Infra("close loan", err)
		}
		if !ok {
			return alreadyReturned(id)
		}
		loan.ReturnedAt = &now
		res.Loan = loan

		if now.After(loan.DueAt) {
			days := OverdueDays(loan.DueAt, now)
			res.IsOverdue = true
			res.OverdueDays = &days
			rec := model.OverdueRecord{
				LoanID:      loan.ID,
				BorrowerID:  loan.BorrowerID,
				CopyID:      loan.CopyID,
				DueAt:       loan.DueAt,
				ReturnedAt:  now,
				OverdueDays: days,
			}
			if err := m.loans.InsertOverdueRecord(ctx, rec); err != nil {
				return apperr.Infra("insert overdue record", err)
			}
		}

		c, err := m.ledger.GetCopy(ctx, loan.CopyID)
		if err != nil {
			return err
		}
		if c.Status != model.CopyBorrowed {
			m.log.Warnf("loan %s: copy %s is %s, leaving status unchanged", id, c.ID, c.Status)
			return nil
		}
		from := model.CopyBorrowed
		if _, err := m.ledger.Transition(ctx, c.ID, &from, model.CopyAvailable); err != nil {
			return err
		}
		res.Promoted, err = m.queue.promote(ctx, c.TitleID, &c.ID)
		return err
	})
	if err != nil {
		return ReturnResult{}, err
	}
	if res.IsOverdue {
		m.log.Infof("loan %s returned %d day(s) late", id, *res.OverdueDays)
	} else {
		m.log.Infof("loan %s returned", id)
	}
	if res.Promoted != nil {
		m.queue.notifyAvailable(ctx, *res.Promoted)
	}
	return res, nil
}

func (m *LoanManager) GetLoan(ctx context.Context, id model.LoanID) (model.Loan, error) {
	return m.getLoan(ctx, id)
}

func (m *LoanManager) getLoan(ctx context.Context, id model.LoanID) (model.Loan, error) {
	l, err := m.loans.GetLoan(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.Loan{}, apperr.NotFound(apperr.CodeLoanNotFound, "loan not found").With("loanId", string(id))
	}
	if err != nil {
		return model.Loan{}, apperr.Infra("get loan", err)
	}
	return l, nil
}

// OverdueDays counts started days past due; one minute late is one day.
func OverdueDays(due, returned time.Time) int {
	late := returned.Sub(due)
	if late <= 0 {
		return 0
	}
	return int(math.Ceil(late.Hours() / 24))
}

func notAvailable(id model.CopyID, status model.CopyStatus) error {
	return apperr.Conflict(apperr.CodeBookNotAvailable, "copy is not available for loan").
		With("copyId", string(id)).
		With("status", string(status))
}

func alreadyReturned(id model.LoanID) error {
	return apperr.Conflict(apperr.CodeAlreadyReturned, "loan has already been returned").With("loanId", string(id))
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
