package repository

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/iliyamo/library-circulation/internal/model"
)

const (
	loanColumns = `id, borrower_id, copy_id, borrowed_at, due_at, returned_at`

	insertLoanQuery = `INSERT INTO loans (` + loanColumns + `) VALUES (?, ?, ?, ?, ?, NULL)`

	getLoanQuery = `SELECT ` + loanColumns + ` FROM loans WHERE id = ?`

	countOpenLoansQuery = `SELECT COUNT(*) FROM loans WHERE borrower_id = ? AND returned_at IS NULL`

	// closeLoanQuery only matches an open loan, so a concurrent second
	// return affects no rows.
	closeLoanQuery = `UPDATE loans SET returned_at = ? WHERE id = ? AND returned_at IS NULL`

	insertOverdueQuery = `INSERT INTO overdue_records (loan_id, borrower_id, copy_id, due_at, returned_at, overdue_days)
VALUES (?, ?, ?, ?, ?, ?)`
)

func (s *Store) InsertLoan(ctx context.Context, l model.Loan) error {
	_, err := s.q(ctx).ExecContext(ctx, insertLoanQuery,
		string(l.ID), string(l.BorrowerID), string(l.CopyID), l.BorrowedAt, l.DueAt)
	return translate(err)
}

func (s *Store) GetLoan(ctx context.Context, id model.LoanID) (model.Loan, error) {
	var l model.Loan
	if err := s.q(ctx).GetContext(ctx, &l, getLoanQuery, string(id)); err != nil {
		return model.Loan{}, translate(err)
	}
	return l, nil
}

func (s *Store) CountOpenLoans(ctx context.Context, borrowerID model.BorrowerID) (int, error) {
	var n int
	if err := s.q(ctx).GetContext(ctx, &n, countOpenLoansQuery, string(borrowerID)); err != nil {
		return 0, translate(err)
	}
	return n, nil
}

func (s *Store) CloseLoan(ctx context.Context, id model.LoanID, returnedAt time.Time) (bool, error) {
	res, err := s.q(ctx).ExecContext(ctx, closeLoanQuery, returnedAt, string(id))
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListOverdueLoans returns open loans past due in (due_at, id) order,
// starting after the cursor.
func (s *Store) ListOverdueLoans(ctx context.Context, now time.Time, after model.LoanCursor, limit int) ([]model.Loan, error) {
	where := []exp.Expression{
		goqu.C("returned_at").IsNull(),
		goqu.C("due_at").Lt(now),
	}
	if after.ID != "" {
		where = append(where, goqu.Or(
			goqu.C("due_at").Gt(after.DueAt),
			goqu.And(goqu.C("due_at").Eq(after.DueAt), goqu.C("id").Gt(string(after.ID))),
		))
	}
	ds := s.dialect.From("loans").
		Select("id", "borrower_id", "copy_id", "borrowed_at", "due_at", "returned_at").
		Where(where...).
		Order(goqu.C("due_at").Asc(), goqu.C("id").Asc()).
		Prepared(true)
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	q, args, err := toSQL(ds)
	if err != nil {
		return nil, err
	}
	var out []model.Loan
	if err := s.q(ctx).SelectContext(ctx, &out, q, args...); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Store) InsertOverdueRecord(ctx context.Context, rec model.OverdueRecord) error {
	_, err := s.q(ctx).ExecContext(ctx, insertOverdueQuery,
		string(rec.LoanID), string(rec.BorrowerID), string(rec.CopyID), rec.DueAt, rec.ReturnedAt, rec.OverdueDays)
	return translate(err)
}
