package repository

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/iliyamo/library-circulation/internal/model"
)

const (
	reservationColumns = `id, borrower_id, title_id, reserved_at, notified_at, expires_at, status, queue_position, held_copy_id`

	insertReservationQuery = `INSERT INTO reservations (` + reservationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	getReservationQuery = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`

	updateReservationQuery = `UPDATE reservations
SET notified_at = ?, expires_at = ?, status = ?, queue_position = ?, held_copy_id = ?
WHERE id = ?`

	countActiveReservationsQuery = `SELECT COUNT(*) FROM reservations WHERE title_id = ? AND status IN ('PENDING', 'NOTIFIED')`

	// closeQueueGapQuery renumbers the active reservations behind a
	// position that was just vacated.
	closeQueueGapQuery = `UPDATE reservations SET queue_position = queue_position - 1
WHERE title_id = ? AND status IN ('PENDING', 'NOTIFIED') AND queue_position > ?
ORDER BY queue_position`
)

var activeStatuses = []string{string(model.ReservationPending), string(model.ReservationNotified)}

func (s *Store) InsertReservation(ctx context.Context, r model.Reservation) error {
	_, err := s.q(ctx).ExecContext(ctx, insertReservationQuery,
		string(r.ID), string(r.BorrowerID), string(r.TitleID), r.ReservedAt,
		r.NotifiedAt, r.ExpiresAt, string(r.Status), r.Position, r.HeldCopyID)
	return translate(err)
}

func (s *Store) GetReservation(ctx context.Context, id model.ReservationID) (model.Reservation, error) {
	var r model.Reservation
	if err := s.q(ctx).GetContext(ctx, &r, getReservationQuery, string(id)); err != nil {
		return model.Reservation{}, translate(err)
	}
	return r, nil
}

func (s *Store) UpdateReservation(ctx context.Context, r model.Reservation) error {
	// RowsAffected is 0 for an unchanged row, so existence is not checked.
	_, err := s.q(ctx).ExecContext(ctx, updateReservationQuery,
		r.NotifiedAt, r.ExpiresAt, string(r.Status), r.Position, r.HeldCopyID, string(r.ID))
	return translate(err)
}

func (s *Store) CountActiveReservations(ctx context.Context, titleID model.TitleID) (int, error) {
	var n int
	if err := s.q(ctx).GetContext(ctx, &n, countActiveReservationsQuery, string(titleID)); err != nil {
		return 0, translate(err)
	}
	return n, nil
}

func (s *Store) FindActiveReservation(ctx context.Context, borrowerID model.BorrowerID, titleID model.TitleID) (model.Reservation, error) {
	return s.firstReservation(ctx,
		goqu.C("borrower_id").Eq(string(borrowerID)),
		goqu.C("title_id").Eq(string(titleID)),
		goqu.C("status").In(activeStatuses),
	)
}

func (s *Store) NextPendingReservation(ctx context.Context, titleID model.TitleID) (model.Reservation, error) {
	return s.firstReservation(ctx,
		goqu.C("title_id").Eq(string(titleID)),
		goqu.C("status").Eq(string(model.ReservationPending)),
	)
}

func (s *Store) FindNotifiedByCopy(ctx context.Context, copyID model.CopyID) (model.Reservation, error) {
	return s.firstReservation(ctx,
		goqu.C("held_copy_id").Eq(string(copyID)),
		goqu.C("status").Eq(string(model.ReservationNotified)),
	)
}

func (s *Store) firstReservation(ctx context.Context, where ...exp.Expression) (model.Reservation, error) {
	list, err := s.listReservations(ctx, 1, where...)
	if err != nil {
		return model.Reservation{}, err
	}
	if len(list) == 0 {
		return model.Reservation{}, model.ErrNotFound
	}
	return list[0], nil
}

// listReservations orders by queue position and then by insertion sequence,
// which keeps FIFO order for equal positions.
func (s *Store) listReservations(ctx context.Context, limit uint, where ...exp.Expression) ([]model.Reservation, error) {
	ds := s.dialect.From("reservations").
		Select("id", "borrower_id", "title_id", "reserved_at", "notified_at", "expires_at", "status", "queue_position", "held_copy_id").
		Where(where...).
		Order(goqu.C("queue_position").Asc(), goqu.C("seq").Asc()).
		Prepared(true)
	if limit > 0 {
		ds = ds.Limit(limit)
	}
	q, args, err := toSQL(ds)
	if err != nil {
		return nil, err
	}
	var out []model.Reservation
	if err := s.q(ctx).SelectContext(ctx, &out, q, args...); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Store) CloseQueueGap(ctx context.Context, titleID model.TitleID, position int) error {
	_, err := s.q(ctx).ExecContext(ctx, closeQueueGapQuery, string(titleID), position)
	return translate(err)
}

func (s *Store) ListExpiredReservations(ctx context.Context, now time.Time) ([]model.Reservation, error) {
	return s.listReservations(ctx, 0,
		goqu.C("status").Eq(string(model.ReservationNotified)),
		goqu.C("expires_at").Lt(now),
	)
}

func (s *Store) ListActiveReservations(ctx context.Context, titleID model.TitleID) ([]model.Reservation, error) {
	return s.listReservations(ctx, 0,
		goqu.C("title_id").Eq(string(titleID)),
		goqu.C("status").In(activeStatuses),
	)
}
