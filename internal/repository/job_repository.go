package repository

import (
	"context"

	"github.com/iliyamo/library-circulation/internal/model"
)

const (
	insertJobQuery = `INSERT INTO notification_jobs (id, job_type, borrower_id, title_id, loan_id, reservation_id, enqueued_at, max_attempts)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	getJobQuery = `SELECT id, job_type, borrower_id, title_id, loan_id, reservation_id, enqueued_at, max_attempts
FROM notification_jobs WHERE id = ?`

	insertHistoryQuery = `INSERT INTO notification_history (job_id, attempt, recipient, sent_at, success, error_message)
VALUES (?, ?, ?, ?, ?, ?)`

	listHistoryQuery = `SELECT id, job_id, attempt, recipient, sent_at, success, COALESCE(error_message, '') AS error_message
FROM notification_history WHERE job_id = ? ORDER BY attempt, id`
)

func (s *Store) InsertJob(ctx context.Context, j model.NotificationJob) error {
	_, err := s.q(ctx).ExecContext(ctx, insertJobQuery,
		string(j.ID), string(j.Type), string(j.BorrowerID), j.TitleID, j.LoanID, j.ReservationID, j.EnqueuedAt, j.MaxAttempts)
	return translate(err)
}

func (s *Store) GetJob(ctx context.Context, id model.JobID) (model.NotificationJob, error) {
	var j model.NotificationJob
	if err := s.q(ctx).GetContext(ctx, &j, getJobQuery, string(id)); err != nil {
		return model.NotificationJob{}, translate(err)
	}
	return j, nil
}

// AppendHistory writes one attempt. A redelivered attempt with the same
// number hits the (job_id, attempt) key and is reported as a duplicate.
func (s *Store) AppendHistory(ctx context.Context, rec model.HistoryRecord) error {
	var errMsg *string
	if rec.Error != "" {
		errMsg = &rec.Error
	}
	_, err := s.q(ctx).ExecContext(ctx, insertHistoryQuery,
		string(rec.JobID), rec.Attempt, rec.Recipient, rec.SentAt, rec.Success, errMsg)
	return translate(err)
}

func (s *Store) ListHistory(ctx context.Context, id model.JobID) ([]model.HistoryRecord, error) {
	var out []model.HistoryRecord
	if err := s.q(ctx).SelectContext(ctx, &out, listHistoryQuery, string(id)); err != nil {
		return nil, translate(err)
	}
	return out, nil
}
