package memory

import (
	"context"
	"sort"
	"time"

	"github.com/iliyamo/library-circulation/internal/model"
)

func (s *Store) GetCopy(_ context.Context, id model.CopyID) (model.Copy, error) {
	var (
		c  model.Copy
		ok bool
	)
	s.read(func(st *state) { c, ok = st.copies[id] })
	if !ok {
		return model.Copy{}, model.ErrNotFound
	}
	return c, nil
}

func (s *Store) ListCopiesByTitle(_ context.Context, titleID model.TitleID) ([]model.Copy, error) {
	var out []model.Copy
	s.read(func(st *state) {
		for _, c := range st.copies {
			if c.TitleID == titleID {
				out = append(out, c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) InsertCopy(ctx context.Context, c model.Copy) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.copies[c.ID]; ok {
			return model.ErrDuplicate
		}
		st.copies[c.ID] = c
		return nil
	})
}

func (s *Store) UpdateCopyStatus(ctx context.Context, id model.CopyID, from, to model.CopyStatus, at time.Time) (bool, error) {
	updated := false
	err := s.write(ctx, func(st *state) error {
		c, ok := st.copies[id]
		if !ok || c.Status != from {
			return nil
		}
		c.Status = to
		c.UpdatedAt = at
		st.copies[id] = c
		updated = true
		return nil
	})
	return updated, err
}

func (s *Store) InsertLoan(ctx context.Context, l model.Loan) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.loans[l.ID]; ok {
			return model.ErrDuplicate
		}
		for _, other := range st.loans {
			if other.CopyID == l.CopyID && other.Open() {
				return model.ErrDuplicate
			}
		}
		st.loans[l.ID] = l
		return nil
	})
}

func (s *Store) GetLoan(_ context.Context, id model.LoanID) (model.Loan, error) {
	var (
		l  model.Loan
		ok bool
	)
	s.read(func(st *state) { l, ok = st.loans[id] })
	if !ok {
		return model.Loan{}, model.ErrNotFound
	}
	return l, nil
}

func (s *Store) CountOpenLoans(_ context.Context, borrowerID model.BorrowerID) (int, error) {
	n := 0
	s.read(func(st *state) {
		for _, l := range st.loans {
			if l.BorrowerID == borrowerID && l.Open() {
				n++
			}
		}
	})
	return n, nil
}

func (s *Store) CloseLoan(ctx context.Context, id model.LoanID, returnedAt time.Time) (bool, error) {
	closed := false
	err := s.write(ctx, func(st *state) error {
		l, ok := st.loans[id]
		if !ok || !l.Open() {
			return nil
		}
		t := returnedAt
		l.ReturnedAt = &t
		st.loans[id] = l
		closed = true
		return nil
	})
	return closed, err
}

func (s *Store) ListOverdueLoans(_ context.Context, now time.Time, after model.LoanCursor, limit int) ([]model.Loan, error) {
	var out []model.Loan
	s.read(func(st *state) {
		for _, l := range st.loans {
			if l.Open() && l.DueAt.Before(now) && after.After(l) {
				out = append(out, l)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) InsertOverdueRecord(ctx context.Context, rec model.OverdueRecord) error {
	return s.write(ctx, func(st *state) error {
		for _, r := range st.overdue {
			if r.LoanID == rec.LoanID {
				return model.ErrDuplicate
			}
		}
		st.overdue = append(st.overdue, rec)
		return nil
	})
}

// OverdueRecords returns every recorded late return.
func (s *Store) OverdueRecords() []model.OverdueRecord {
	var out []model.OverdueRecord
	s.read(func(st *state) { out = append(out, st.overdue...) })
	return out
}

func (s *Store) InsertReservation(ctx context.Context, r model.Reservation) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.reservations[r.ID]; ok {
			return model.ErrDuplicate
		}
		s.seq++
		st.reservations[r.ID] = r
		st.resSeq[r.ID] = s.seq
		return nil
	})
}

func (s *Store) GetReservation(_ context.Context, id model.ReservationID) (model.Reservation, error) {
	var (
		r  model.Reservation
		ok bool
	)
	s.read(func(st *state) { r, ok = st.reservations[id] })
	if !ok {
		return model.Reservation{}, model.ErrNotFound
	}
	return r, nil
}

func (s *Store) UpdateReservation(ctx context.Context, r model.Reservation) error {
	return s.write(ctx, func(st *state) error {
		if _, ok := st.reservations[r.ID]; !ok {
			return model.ErrNotFound
		}
		st.reservations[r.ID] = r
		return nil
	})
}

func (s *Store) CountActiveReservations(_ context.Context, titleID model.TitleID) (int, error) {
	n := 0
	s.read(func(st *state) {
		for _, r := range st.reservations {
			if r.TitleID == titleID && r.Status.Active() {
				n++
			}
		}
	})
	return n, nil
}

func (s *Store) FindActiveReservation(_ context.Context, borrowerID model.BorrowerID, titleID model.TitleID) (model.Reservation, error) {
	return s.findOne(func(r model.Reservation) bool {
		return r.BorrowerID == borrowerID && r.TitleID == titleID && r.Status.Active()
	})
}

func (s *Store) NextPendingReservation(_ context.Context, titleID model.TitleID) (model.Reservation, error) {
	return s.findOne(func(r model.Reservation) bool {
		return r.TitleID == titleID && r.Status == model.ReservationPending
	})
}

func (s *Store) FindNotifiedByCopy(_ context.Context, copyID model.CopyID) (model.Reservation, error) {
	return s.findOne(func(r model.Reservation) bool {
		return r.Status == model.ReservationNotified && r.HeldCopyID != nil && *r.HeldCopyID == copyID
	})
}

// findOne returns the match with the lowest position.
func (s *Store) findOne(match func(model.Reservation) bool) (model.Reservation, error) {
	list := s.filter(match)
	if len(list) == 0 {
		return model.Reservation{}, model.ErrNotFound
	}
	return list[0], nil
}

func (s *Store) CloseQueueGap(ctx context.Context, titleID model.TitleID, position int) error {
	return s.write(ctx, func(st *state) error {
		for id, r := range st.reservations {
			if r.TitleID == titleID && r.Status.Active() && r.Position > position {
				r.Position--
				st.reservations[id] = r
			}
		}
		return nil
	})
}

func (s *Store) ListExpiredReservations(_ context.Context, now time.Time) ([]model.Reservation, error) {
	return s.filter(func(r model.Reservation) bool {
		return r.Status == model.ReservationNotified && r.ExpiresAt != nil && r.ExpiresAt.Before(now)
	}), nil
}

func (s *Store) ListActiveReservations(_ context.Context, titleID model.TitleID) ([]model.Reservation, error) {
	return s.filter(func(r model.Reservation) bool {
		return r.TitleID == titleID && r.Status.Active()
	}), nil
}

// filter returns matches ordered by position, then creation order.
func (s *Store) filter(match func(model.Reservation) bool) []model.Reservation {
	type row struct {
		r   model.Reservation
		seq int64
	}
	var rows []row
	s.read(func(st *state) {
		for id, r := range st.reservations {
			if match(r) {
				rows = append(rows, row{r: r, seq: st.resSeq[id]})
			}
		}
	})
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].r.Position != rows[j].r.Position {
			return rows[i].r.Position < rows[j].r.Position
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]model.Reservation, len(rows))
	for i, rw := range rows {
		out[i] = rw.r
	}
	return out
}
