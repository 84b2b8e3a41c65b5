package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// Store is the MySQL backend. All methods run on the transaction carried by
// ctx when there is one, and on the pool otherwise.
type Store struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
	now     func() time.Time
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, dialect: goqu.Dialect("mysql"), now: time.Now}
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

type querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

// InTx runs fn in a READ COMMITTED transaction. Nested calls join the
// transaction already in ctx. The transaction is rolled back unless fn
// returns nil and the commit succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

const lockQuery = `INSERT INTO circulation_locks (scope, lock_key, acquired_at) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE acquired_at = VALUES(acquired_at)`

// Lock upserts the (scope, key) row. InnoDB keeps the row's exclusive lock
// until the transaction ends, which serializes every transaction that locks
// the same key across all service instances.
func (s *Store) Lock(ctx context.Context, scope, key string) error {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	if !ok {
		return fmt.Errorf("lock %s/%s outside transaction", scope, key)
	}
	if _, err := tx.ExecContext(ctx, lockQuery, scope, key, s.now().UTC()); err != nil {
		return fmt.Errorf("lock %s/%s: %w", scope, key, err)
	}
	return nil
}

// toSQL renders a goqu builder as a prepared statement.
func toSQL(b interface {
	ToSQL() (string, []interface{}, error)
}) (string, []interface{}, error) {
	q, args, err := b.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build query: %w", err)
	}
	return q, args, nil
}
