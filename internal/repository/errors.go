package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

const mysqlDuplicateEntry = 1062

// classify maps driver errors onto the repository error classes so callers can
// tell "no such row" from "backend unreachable".
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
		return ErrAlreadyExists
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
