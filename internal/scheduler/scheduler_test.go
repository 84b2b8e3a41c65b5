package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/service"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) ExpireStaleReservations(context.Context) (service.ExpirySummary, error) {
	s.calls.Add(1)
	return service.ExpirySummary{Expired: 1, Promoted: 1}, s.err
}

type countingScanner struct {
	calls atomic.Int32
}

func (s *countingScanner) Scan(context.Context) (service.ScanSummary, error) {
	s.calls.Add(1)
	return service.ScanSummary{}, nil
}

func TestNew_RejectsBadSpec(t *testing.T) {
	_, err := New(Config{ExpirySpec: "every five minutes"}, &countingSweeper{}, &countingScanner{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expiry schedule")

	_, err = New(Config{OverdueSpec: "61 * * * *"}, &countingSweeper{}, &countingScanner{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overdue schedule")
}

func TestNew_EmptySpecsDisableJobs(t *testing.T) {
	s, err := New(Config{}, &countingSweeper{}, &countingScanner{}, nil)
	require.NoError(t, err)
	assert.Empty(t, s.cron.Entries())

	s, err = New(Config{ExpirySpec: "@every 5m", OverdueSpec: "0 8 * * *"}, &countingSweeper{}, &countingScanner{}, nil)
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 2)
}

func TestRunJobs(t *testing.T) {
	sweeper := &countingSweeper{}
	scanner := &countingScanner{}
	s, err := New(Config{}, sweeper, scanner, nil)
	require.NoError(t, err)

	require.NoError(t, s.RunExpiry(context.Background()))
	require.NoError(t, s.RunOverdue(context.Background()))
	assert.EqualValues(t, 1, sweeper.calls.Load())
	assert.EqualValues(t, 1, scanner.calls.Load())

	sweeper.err = errors.New("db down")
	assert.Error(t, s.RunExpiry(context.Background()))
}

func TestStartRunsScheduledJobs(t *testing.T) {
	sweeper := &countingSweeper{}
	s, err := New(Config{ExpirySpec: "@every 1s"}, sweeper, &countingScanner{}, nil)
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return sweeper.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
