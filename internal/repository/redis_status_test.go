package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/model"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestJobStatusCache(t *testing.T) {
	mr, rdb := newRedis(t)
	c := NewJobStatusCache(rdb, "", time.Hour)
	ctx := context.Background()

	_, err := c.GetStatus(ctx, "j-1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	want := model.JobStatusView{JobID: "j-1", Status: model.JobProcessing, Attempts: 2, MaxAttempts: 3}
	require.NoError(t, c.PutStatus(ctx, want))
	got, err := c.GetStatus(ctx, "j-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, time.Hour, mr.TTL("notify:job:j-1"))

	mr.FastForward(time.Hour + time.Second)
	_, err = c.GetStatus(ctx, "j-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReminderGate(t *testing.T) {
	mr, rdb := newRedis(t)
	g := NewReminderGate(rdb, "")
	ctx := context.Background()

	ok, err := g.Acquire(ctx, "l-1", "2026-03-02")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Acquire(ctx, "l-1", "2026-03-02")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.Acquire(ctx, "l-1", "2026-03-03")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("notify:overdue:l-1:2026-03-02"))

	require.NoError(t, g.Release(ctx, "l-1", "2026-03-02"))
	assert.False(t, mr.Exists("notify:overdue:l-1:2026-03-02"))
	ok, err = g.Acquire(ctx, "l-1", "2026-03-02")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReminderGate_RedisDown(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()
	_, err := NewReminderGate(rdb, "").Acquire(context.Background(), "l-1", "2026-03-02")
	assert.Error(t, err)
}
