package memory

import (
	"context"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/iliyamo/library-circulation/internal/model"
)

// Seed is the fixture format read by LoadSeed:
//
//	{"borrowers": [...], "titles": [...], "copies": [...]}
//
// Copies always start AVAILABLE.
type Seed struct {
	Borrowers []model.Borrower `json:"borrowers"`
	Titles    []model.Title    `json:"titles"`
	Copies    []model.Copy     `json:"copies"`
}

// LoadSeed decodes a fixture from r and adds it to the store.
func (s *Store) LoadSeed(ctx context.Context, r io.Reader) (Seed, error) {
	var seed Seed
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(r).Decode(&seed); err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	for _, b := range seed.Borrowers {
		s.PutBorrower(b)
	}
	for _, t := range seed.Titles {
		s.PutTitle(t)
	}
	now := s.now().UTC()
	for _, c := range seed.Copies {
		c.Status = model.CopyAvailable
		c.UpdatedAt = now
		if err := s.InsertCopy(ctx, c); err != nil {
			return Seed{}, fmt.Errorf("seed copy %s: %w", c.ID, err)
		}
	}
	return seed, nil
}
