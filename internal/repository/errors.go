// Package repository implements the core's stores on MySQL (sqlx for
// mapping, goqu for the list and scan queries) and the dispatcher's live
// status and reminder dedupe on Redis. Store methods translate driver errors
// into the model sentinels so services never see SQL details.
package repository

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/library-circulation/internal/model"
)

// ErrDuplicate is returned when an insert violates a unique key. Handlers
// and services compare against model.ErrDuplicate, which it aliases.
var ErrDuplicate = model.ErrDuplicate

// ErrNotFound aliases model.ErrNotFound.
var ErrNotFound = model.ErrNotFound

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// translate maps driver errors onto the model sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return model.ErrNotFound
	case isDuplicate(err):
		return model.ErrDuplicate
	}
	return err
}
