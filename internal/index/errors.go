package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/mnemo/internal/apperr"
)

// storeErr wraps err for operation op, tagging failures that mean the
// backing store is missing or corrupt with apperr.ErrStoreUnavailable.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if unavailable(err) {
		return fmt.Errorf("index: %s: %w: %w", op, apperr.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("index: %s: %w", op, err)
}

func unavailable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrCorrupt, sqlite3.ErrNotADB, sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
			return true
		case sqlite3.ErrError:
			return strings.Contains(se.Error(), "no such table")
		}
	}
	return strings.Contains(err.Error(), "database is closed")
}
