package model

import "time"

// Loan records one borrowing of a copy. A copy is on loan exactly when a
// loan with a nil ReturnedAt references it. Loans are never deleted.
//
// Fields:
//
//	ID         – generated loan identifier.
//	BorrowerID – borrower holding the copy.
//	CopyID     – copy that was lent.
//	BorrowedAt – when the loan was created.
//	DueAt      – BorrowedAt plus the loan duration.
//	ReturnedAt – when the copy came back (nil while open).
type Loan struct {
	ID         LoanID     `json:"id" db:"id"`                  // loans.id
	BorrowerID BorrowerID `json:"borrowerId" db:"borrower_id"` // loans.borrower_id
	CopyID     CopyID     `json:"copyId" db:"copy_id"`         // loans.copy_id
	BorrowedAt time.Time  `json:"borrowedAt" db:"borrowed_at"` // loans.borrowed_at
	DueAt      time.Time  `json:"dueAt" db:"due_at"`           // loans.due_at
	ReturnedAt *time.Time `json:"returnedAt" db:"returned_at"` // loans.returned_at (nullable)
}

// Open reports whether the copy is still out.
func (l Loan) Open() bool { return l.ReturnedAt == nil }

// LoanCursor is a keyset position in (due_at, id) order. The zero value
// starts from the beginning.
type LoanCursor struct {
	DueAt time.Time
	ID    LoanID
}

// After reports whether l sorts after the cursor.
func (c LoanCursor) After(l Loan) bool {
	if c.ID == "" {
		return true
	}
	if !l.DueAt.Equal(c.DueAt) {
		return l.DueAt.After(c.DueAt)
	}
	return l.ID > c.ID
}

// CursorOf returns the cursor positioned at l.
func CursorOf(l Loan) LoanCursor { return LoanCursor{DueAt: l.DueAt, ID: l.ID} }

// OverdueRecord is written once when a loan is returned after its due date.
type OverdueRecord struct {
	LoanID      LoanID     `json:"loanId" db:"loan_id"`
	BorrowerID  BorrowerID `json:"borrowerId" db:"borrower_id"`
	CopyID      CopyID     `json:"copyId" db:"copy_id"`
	DueAt       time.Time  `json:"dueAt" db:"due_at"`
	ReturnedAt  time.Time  `json:"returnedAt" db:"returned_at"`
	OverdueDays int        `json:"overdueDays" db:"overdue_days"`
}
