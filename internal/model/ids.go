package model

import (
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/library-circulation/internal/apperr"
)

// Identifier types are distinct so that a copy id can never be passed where a
// title id is expected. All of them are opaque strings; the three generated
// by this service (loans, reservations, jobs) are UUIDv4 values.
type (
	BorrowerID    string
	CopyID        string
	TitleID       string
	LoanID        string
	ReservationID string
	JobID         string
)

func (id BorrowerID) String() string    { return string(id) }
func (id CopyID) String() string        { return string(id) }
func (id TitleID) String() string       { return string(id) }
func (id LoanID) String() string        { return string(id) }
func (id ReservationID) String() string { return string(id) }
func (id JobID) String() string         { return string(id) }

func parseID[T ~string](field, raw string) (T, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", apperr.Validation(field + " is required").With("field", field)
	}
	if len(s) > 64 {
		return "", apperr.Validation(field + " is too long").With("field", field)
	}
	return T(s), nil
}

func ParseBorrowerID(s string) (BorrowerID, error) { return parseID[BorrowerID]("borrowerId", s) }
func ParseCopyID(s string) (CopyID, error)         { return parseID[CopyID]("copyId", s) }
func ParseTitleID(s string) (TitleID, error)       { return parseID[TitleID]("titleId", s) }
func ParseLoanID(s string) (LoanID, error)         { return parseID[LoanID]("loanId", s) }
func ParseJobID(s string) (JobID, error)           { return parseID[JobID]("jobId", s) }

func ParseReservationID(s string) (ReservationID, error) {
	return parseID[ReservationID]("reservationId", s)
}

func NewLoanID() LoanID               { return LoanID(uuid.NewString()) }
func NewReservationID() ReservationID { return ReservationID(uuid.NewString()) }
func NewJobID() JobID                 { return JobID(uuid.NewString()) }
