package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/service"
)

func TestOverdueScan_OncePerDay(t *testing.T) {
	f := newFixture(t)
	b := f.borrower("b-1", 5)
	f.title(t, "t-1", "c-1", "c-2")
	ctx := context.Background()

	late, err := f.loans.CreateLoan(ctx, b, "c-1")
	require.NoError(t, err)
	f.clock.Advance(10 * 24 * time.Hour)
	_, err = f.loans.CreateLoan(ctx, b, "c-2")
	require.NoError(t, err)
	f.clock.Advance(5 * 24 * time.Hour)

	sum, err := f.scanner.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Overdue)
	assert.Equal(t, 1, sum.Enqueued)

	jobs := f.jobs.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobOverdueReminder, jobs[0].Type)
	assert.Equal(t, b, jobs[0].BorrowerID)
	require.NotNil(t, jobs[0].LoanID)
	assert.Equal(t, late.ID, *jobs[0].LoanID)

	// same day: already reminded
	sum, err = f.scanner.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Overdue)
	assert.Zero(t, sum.Enqueued)

	f.clock.Advance(24 * time.Hour)
	sum, err = f.scanner.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Enqueued)
	assert.Len(t, f.jobs.all(), 2)
}

func TestOverdueScan_EnqueueFailureCounted(t *testing.T) {
	f := newFixture(t)
	b := f.borrower("b-1", 5)
	f.title(t, "t-1", "c-1")
	ctx := context.Background()

	_, err := f.loans.CreateLoan(ctx, b, "c-1")
	require.NoError(t, err)
	f.clock.Advance(15 * 24 * time.Hour)
	f.jobs.err = errBroker

	sum, err := f.scanner.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Overdue)
	assert.Equal(t, 1, sum.Failed)
	assert.Zero(t, sum.Enqueued)

	// the broker is back later the same day
	f.jobs.mu.Lock()
	f.jobs.err = nil
	f.jobs.mu.Unlock()
	f.clock.Advance(time.Hour)

	sum, err = f.scanner.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Enqueued)
	assert.Zero(t, sum.Failed)
	assert.Len(t, f.jobs.all(), 1)
}

func TestOverdueScan_PagesPastFirstBatch(t *testing.T) {
	f := newFixture(t)
	policy := service.DefaultPolicy()
	policy.OverdueBatch = 1
	scanner := service.NewOverdueScanner(f.store, f.store, f.jobs, policy, f.clock.Now, nil)
	b1 := f.borrower("b-1", 5)
	b2 := f.borrower("b-2", 5)
	f.title(t, "t-1", "c-1", "c-2")
	ctx := context.Background()

	first, err := f.loans.CreateLoan(ctx, b1, "c-1")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	second, err := f.loans.CreateLoan(ctx, b2, "c-2")
	require.NoError(t, err)
	f.clock.Advance(20 * 24 * time.Hour)

	sum, err := scanner.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Overdue)
	assert.Equal(t, 2, sum.Enqueued)

	jobs := f.jobs.all()
	require.Len(t, jobs, 2)
	require.NotNil(t, jobs[0].LoanID)
	require.NotNil(t, jobs[1].LoanID)
	assert.Equal(t, first.ID, *jobs[0].LoanID)
	assert.Equal(t, second.ID, *jobs[1].LoanID)
}
