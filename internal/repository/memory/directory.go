package memory

import (
	"context"

	"github.com/iliyamo/library-circulation/internal/model"
)

// PutBorrower adds or replaces a borrower profile.
func (s *Store) PutBorrower(b model.Borrower) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.borrowers[b.ID] = b
}

// PutTitle adds or replaces a catalog title.
func (s *Store) PutTitle(t model.Title) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles[t.ID] = t
}

func (s *Store) GetBorrower(_ context.Context, id model.BorrowerID) (model.Borrower, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.borrowers[id]
	if !ok {
		return model.Borrower{}, model.ErrNotFound
	}
	return b, nil
}

func (s *Store) GetTitle(_ context.Context, id model.TitleID) (model.Title, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.titles[id]
	if !ok {
		return model.Title{}, model.ErrNotFound
	}
	return t, nil
}
