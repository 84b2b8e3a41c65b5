package memory

import (
	"context"
	"slices"
	"time"

	"github.com/iliyamo/library-circulation/internal/model"
)

func (s *Store) InsertJob(_ context.Context, job model.NotificationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return model.ErrDuplicate
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) GetJob(_ context.Context, id model.JobID) (model.NotificationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return model.NotificationJob{}, model.ErrNotFound
	}
	return j, nil
}

func (s *Store) AppendHistory(_ context.Context, rec model.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histSeq++
	rec.ID = s.histSeq
	s.history[rec.JobID] = append(s.history[rec.JobID], rec)
	return nil
}

func (s *Store) ListHistory(_ context.Context, id model.JobID) ([]model.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history[id]), nil
}

// PutStatus stores the live status of a job for the status TTL.
func (s *Store) PutStatus(_ context.Context, v model.JobStatusView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[v.JobID] = statusEntry{view: v, expires: s.now().Add(s.statusTTL)}
	return nil
}

func (s *Store) GetStatus(_ context.Context, id model.JobID) (model.JobStatusView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.statuses[id]
	if !ok || !s.now().Before(e.expires) {
		return model.JobStatusView{}, model.ErrNotFound
	}
	return e.view, nil
}

// SetStatusTTL changes how long live job statuses are kept.
func (s *Store) SetStatusTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusTTL = ttl
}

// Acquire implements the once-per-day overdue reminder gate.
func (s *Store) Acquire(_ context.Context, loanID model.LoanID, day string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(loanID) + "|" + day
	if _, ok := s.gate[key]; ok {
		return false, nil
	}
	s.gate[key] = struct{}{}
	return true, nil
}

func (s *Store) Release(_ context.Context, loanID model.LoanID, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.gate, string(loanID)+"|"+day)
	return nil
}
