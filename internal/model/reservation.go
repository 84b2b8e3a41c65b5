package model

import "time"

// ReservationStatus tracks a hold request through its lifecycle.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationNotified  ReservationStatus = "NOTIFIED"
	ReservationFulfilled ReservationStatus = "FULFILLED"
	ReservationExpired   ReservationStatus = "EXPIRED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Active reports whether the reservation still occupies a queue position.
func (s ReservationStatus) Active() bool {
	return s == ReservationPending || s == ReservationNotified
}

// Reservation is a hold against a title (not a specific copy). Active
// reservations of one title always occupy positions 1..N in FIFO order;
// terminal ones keep the last position they had.
//
// Fields:
//
//	ID           – generated reservation identifier.
//	BorrowerID   – borrower waiting for the title.
//	TitleID      – the requested title.
//	ReservedAt   – when the request was accepted.
//	NotifiedAt   – when the borrower was promoted to the head (nil before).
//	ExpiresAt    – end of the pick-up window (nil before promotion).
//	Status       – PENDING, NOTIFIED, FULFILLED, EXPIRED or CANCELLED.
//	Position     – 1-based queue position.
//	HeldCopyID   – copy put on RESERVED for this borrower (nil before promotion).
type Reservation struct {
	ID         ReservationID     `json:"id" db:"id"`                  // reservations.id
	BorrowerID BorrowerID        `json:"borrowerId" db:"borrower_id"` // reservations.borrower_id
	TitleID    TitleID           `json:"titleId" db:"title_id"`       // reservations.title_id
	ReservedAt time.Time         `json:"reservedAt" db:"reserved_at"` // reservations.reserved_at
	NotifiedAt *time.Time        `json:"notifiedAt" db:"notified_at"` // reservations.notified_at (nullable)
	ExpiresAt  *time.Time        `json:"expiresAt" db:"expires_at"`   // reservations.expires_at (nullable)
	Status     ReservationStatus `json:"status" db:"status"`          // reservations.status
	Position   int               `json:"queuePosition" db:"queue_position"`
	HeldCopyID *CopyID           `json:"heldCopyId,omitempty" db:"held_copy_id"`
}
