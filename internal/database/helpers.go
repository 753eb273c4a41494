package database

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// execRequireRows validates that an ExecContext result affected at least one row.
// Returns err if non-nil, or notFoundErr if rowsAffected is 0.
func execRequireRows(result sql.Result, err, notFoundErr error) error {
	if err != nil {
		return err
	}
	n, affectedErr := result.RowsAffected()
	if affectedErr != nil {
		return affectedErr
	}
	if n == 0 {
		return notFoundErr
	}
	return nil
}

// rollback aborts tx, joining any rollback failure onto cause.
func rollback(tx *sqlx.Tx, cause error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		return fmt.Errorf("%w (rollback: %w)", cause, rbErr)
	}
	return cause
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
