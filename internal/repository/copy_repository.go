package repository

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/iliyamo/library-circulation/internal/model"
)

const (
	copyColumns = `id, title_id, location, status, updated_at`

	getCopyQuery = `SELECT ` + copyColumns + ` FROM copies WHERE id = ?`

	insertCopyQuery = `INSERT INTO copies (` + copyColumns + `) VALUES (?, ?, ?, ?, ?)`

	// updateCopyStatusQuery is the ledger's compare-and-set: it only
	// matches while the persisted status still equals the expected one.
	updateCopyStatusQuery = `UPDATE copies SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
)

func (s *Store) GetCopy(ctx context.Context, id model.CopyID) (model.Copy, error) {
	var c model.Copy
	if err := s.q(ctx).GetContext(ctx, &c, getCopyQuery, string(id)); err != nil {
		return model.Copy{}, translate(err)
	}
	return c, nil
}

func (s *Store) ListCopiesByTitle(ctx context.Context, titleID model.TitleID) ([]model.Copy, error) {
	q, args, err := toSQL(s.dialect.From("copies").
		Select("id", "title_id", "location", "status", "updated_at").
		Where(goqu.Ex{"title_id": string(titleID)}).
		Order(goqu.C("id").Asc()).
		Prepared(true))
	if err != nil {
		return nil, err
	}
	var out []model.Copy
	if err := s.q(ctx).SelectContext(ctx, &out, q, args...); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Store) InsertCopy(ctx context.Context, c model.Copy) error {
	_, err := s.q(ctx).ExecContext(ctx, insertCopyQuery, string(c.ID), string(c.TitleID), c.Location, string(c.Status), c.UpdatedAt)
	return translate(err)
}

func (s *Store) UpdateCopyStatus(ctx context.Context, id model.CopyID, from, to model.CopyStatus, at time.Time) (bool, error) {
	res, err := s.q(ctx).ExecContext(ctx, updateCopyStatusQuery, string(to), at, string(id), string(from))
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
