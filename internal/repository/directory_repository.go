package repository

import (
	"context"

	"github.com/iliyamo/library-circulation/internal/model"
)

// The borrowers and titles tables are owned by the profile and catalog
// services; this service only reads them.
const (
	getBorrowerQuery = `SELECT id, name, email, loan_limit FROM borrowers WHERE id = ?`
	getTitleQuery    = `SELECT id, name, author FROM titles WHERE id = ?`
)

func (s *Store) GetBorrower(ctx context.Context, id model.BorrowerID) (model.Borrower, error) {
	var b model.Borrower
	if err := s.q(ctx).GetContext(ctx, &b, getBorrowerQuery, string(id)); err != nil {
		return model.Borrower{}, translate(err)
	}
	return b, nil
}

func (s *Store) GetTitle(ctx context.Context, id model.TitleID) (model.Title, error) {
	var t model.Title
	if err := s.q(ctx).GetContext(ctx, &t, getTitleQuery, string(id)); err != nil {
		return model.Title{}, translate(err)
	}
	return t, nil
}
