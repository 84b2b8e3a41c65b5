package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "delivery channel closed")
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}
	return Delivery{}
}

func TestMemory_PublishConsume(t *testing.T) {
	q := NewMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, JobMessage{JobID: "j-1", Type: "OVERDUE_REMINDER", BorrowerID: "b-1"}))
	assert.Equal(t, 1, q.Len())

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	d := receive(t, ch)
	assert.Equal(t, "j-1", d.Message.JobID)
	require.NoError(t, d.Ack())
}

func TestMemory_NackRequeue(t *testing.T) {
	q := NewMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Publish(ctx, JobMessage{JobID: "j-1", Type: "OVERDUE_REMINDER", BorrowerID: "b-1"}))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	first := receive(t, ch)
	require.NoError(t, first.Nack(true))

	again := receive(t, ch)
	assert.Equal(t, "j-1", again.Message.JobID)
	require.NoError(t, again.Nack(false))
}

func TestMemory_Close(t *testing.T) {
	q := NewMemory(1)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	err := q.Publish(context.Background(), JobMessage{JobID: "j-1"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemory_PublishRespectsContext(t *testing.T) {
	q := NewMemory(1)
	require.NoError(t, q.Publish(context.Background(), JobMessage{JobID: "j-1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Publish(ctx, JobMessage{JobID: "j-2"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
