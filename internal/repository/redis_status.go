package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/library-circulation/internal/model"
)

// JobStatusCache keeps the live status of notification jobs in one Redis
// hash per job. Entries expire after ttl; older jobs are answered from
// MySQL history by the dispatcher.
type JobStatusCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewJobStatusCache(rdb *redis.Client, prefix string, ttl time.Duration) *JobStatusCache {
	if prefix == "" {
		prefix = "notify:job"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JobStatusCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *JobStatusCache) key(id model.JobID) string { return c.prefix + ":" + string(id) }

func (c *JobStatusCache) PutStatus(ctx context.Context, v model.JobStatusView) error {
	key := c.key(v.JobID)
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"status", string(v.Status),
			"attempts", v.Attempts,
			"max_attempts", v.MaxAttempts,
		)
		p.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put job status: %w", err)
	}
	return nil
}

func (c *JobStatusCache) GetStatus(ctx context.Context, id model.JobID) (model.JobStatusView, error) {
	vals, err := c.rdb.HGetAll(ctx, c.key(id)).Result()
	if err != nil {
		return model.JobStatusView{}, fmt.Errorf("redis get job status: %w", err)
	}
	if len(vals) == 0 || vals["status"] == "" {
		return model.JobStatusView{}, model.ErrNotFound
	}
	attempts, _ := strconv.Atoi(vals["attempts"])
	maxAttempts, _ := strconv.Atoi(vals["max_attempts"])
	return model.JobStatusView{
		JobID:       id,
		Status:      model.JobStatus(vals["status"]),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
	}, nil
}

// ReminderGate lets one overdue reminder per loan and day through using
// SET NX; the key outlives the day so clock skew between instances cannot
// reopen it.
type ReminderGate struct {
	rdb    *redis.Client
	prefix string
}

func NewReminderGate(rdb *redis.Client, prefix string) *ReminderGate {
	if prefix == "" {
		prefix = "notify:overdue"
	}
	return &ReminderGate{rdb: rdb, prefix: prefix}
}

func (g *ReminderGate) key(loanID model.LoanID, day string) string {
	return g.prefix + ":" + string(loanID) + ":" + day
}

func (g *ReminderGate) Acquire(ctx context.Context, loanID model.LoanID, day string) (bool, error) {
	key := g.key(loanID, day)
	ok, err := g.rdb.SetNX(ctx, key, 1, 48*time.Hour).Result()
	if err != nil {
		return false, fmt.Errorf("redis reminder gate: %w", err)
	}
	return ok, nil
}

// Release deletes the (loan, day) key so a later scan can retry.
func (g *ReminderGate) Release(ctx context.Context, loanID model.LoanID, day string) error {
	if err := g.rdb.Del(ctx, g.key(loanID, day)).Err(); err != nil {
		return fmt.Errorf("redis reminder gate release: %w", err)
	}
	return nil
}
