package model

import "time"

// JobType selects the message a notification job renders.
type JobType string

const (
	JobReservationAvailable JobType = "RESERVATION_AVAILABLE"
	JobOverdueReminder      JobType = "OVERDUE_REMINDER"
)

func (t JobType) Valid() bool {
	return t == JobReservationAvailable || t == JobOverdueReminder
}

// JobStatus is the observable state of a notification job.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// NotificationJob is an instructed delivery. Jobs are insert-only: their
// outcome is recorded exclusively in the delivery history.
//
// Fields:
//
//	ID            – generated job identifier.
//	Type          – RESERVATION_AVAILABLE or OVERDUE_REMINDER.
//	BorrowerID    – recipient.
//	TitleID       – subject of a reservation notice.
//	LoanID        – subject of an overdue reminder.
//	ReservationID – promoted reservation (reservation notices only).
//	EnqueuedAt    – admission time.
//	MaxAttempts   – delivery attempts allowed before the job fails.
type NotificationJob struct {
	ID            JobID          `json:"jobId" db:"id"`
	Type          JobType        `json:"type" db:"job_type"`
	BorrowerID    BorrowerID     `json:"borrowerId" db:"borrower_id"`
	TitleID       *TitleID       `json:"titleId,omitempty" db:"title_id"`
	LoanID        *LoanID        `json:"loanId,omitempty" db:"loan_id"`
	ReservationID *ReservationID `json:"reservationId,omitempty" db:"reservation_id"`
	EnqueuedAt    time.Time      `json:"enqueuedAt" db:"enqueued_at"`
	MaxAttempts   int            `json:"maxAttempts" db:"max_attempts"`
}

// HistoryRecord is appended once per completed delivery attempt.
type HistoryRecord struct {
	ID        int64     `json:"id" db:"id"`
	JobID     JobID     `json:"jobId" db:"job_id"`
	Attempt   int       `json:"attempt" db:"attempt"`
	Recipient string    `json:"recipient" db:"recipient"`
	SentAt    time.Time `json:"sentAt" db:"sent_at"`
	Success   bool      `json:"success" db:"success"`
	Error     string    `json:"error,omitempty" db:"error_message"`
}

// JobStatusView answers a status query.
type JobStatusView struct {
	JobID       JobID     `json:"jobId"`
	Status      JobStatus `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
}
