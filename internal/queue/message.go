// Package queue carries notification jobs between the code that admits them
// and the dispatcher workers. Messages are JSON; the broker is RabbitMQ in
// production and a buffered channel in tests and the memory mode.
package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/iliyamo/library-circulation/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JobMessage is the wire form of a notification job.
type JobMessage struct {
	JobID         string    `json:"jobId"`
	Type          string    `json:"type"`
	BorrowerID    string    `json:"borrowerId"`
	TitleID       string    `json:"titleId,omitempty"`
	LoanID        string    `json:"loanId,omitempty"`
	ReservationID string    `json:"reservationId,omitempty"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
	MaxAttempts   int       `json:"maxAttempts"`
}

// FromJob converts a job into its wire form.
func FromJob(j model.NotificationJob) JobMessage {
	m := JobMessage{
		JobID:       string(j.ID),
		Type:        string(j.Type),
		BorrowerID:  string(j.BorrowerID),
		EnqueuedAt:  j.EnqueuedAt.UTC(),
		MaxAttempts: j.MaxAttempts,
	}
	if j.TitleID != nil {
		m.TitleID = string(*j.TitleID)
	}
	if j.LoanID != nil {
		m.LoanID = string(*j.LoanID)
	}
	if j.ReservationID != nil {
		m.ReservationID = string(*j.ReservationID)
	}
	return m
}

// Job validates the message and converts it back into a job.
func (m JobMessage) Job() (model.NotificationJob, error) {
	t := model.JobType(m.Type)
	if !t.Valid() {
		return model.NotificationJob{}, fmt.Errorf("queue: unknown job type %q", m.Type)
	}
	if strings.TrimSpace(m.JobID) == "" || strings.TrimSpace(m.BorrowerID) == "" {
		return model.NotificationJob{}, fmt.Errorf("queue: job message without jobId or borrowerId")
	}
	j := model.NotificationJob{
		ID:          model.JobID(m.JobID),
		Type:        t,
		BorrowerID:  model.BorrowerID(m.BorrowerID),
		EnqueuedAt:  m.EnqueuedAt,
		MaxAttempts: m.MaxAttempts,
	}
	if m.TitleID != "" {
		id := model.TitleID(m.TitleID)
		j.TitleID = &id
	}
	if m.LoanID != "" {
		id := model.LoanID(m.LoanID)
		j.LoanID = &id
	}
	if m.ReservationID != "" {
		id := model.ReservationID(m.ReservationID)
		j.ReservationID = &id
	}
	return j, nil
}

func Encode(m JobMessage) ([]byte, error) { return json.Marshal(m) }

func Decode(b []byte) (JobMessage, error) {
	var m JobMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return JobMessage{}, fmt.Errorf("queue: decode job message: %w", err)
	}
	return m, nil
}

// Delivery is one received message. Exactly one of Ack or Nack must be
// called once the message has been handled.
type Delivery struct {
	Message JobMessage
	ack     func() error
	nack    func(requeue bool) error
}

func (d Delivery) Ack() error { return d.ack() }

func (d Delivery) Nack(requeue bool) error { return d.nack(requeue) }

// Queue is a durable FIFO of job messages.
type Queue interface {
	Publish(ctx context.Context, m JobMessage) error
	// Consume streams deliveries until ctx is cancelled; the channel is
	// closed afterwards.
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}
