package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique or primary key violation
// raised by either supported driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// violatedColumn returns the first of columns named by the unique violation in err.
// Postgres reports a constraint name such as users_email_key, SQLite a message
// such as "UNIQUE constraint failed: users.email".
func violatedColumn(err error, columns ...string) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		for _, column := range columns {
			if strings.Contains(pgErr.ConstraintName, "_"+column+"_") {
				return column
			}
		}
		return ""
	}

	msg := err.Error()
	for _, column := range columns {
		if strings.Contains(msg, "."+column) {
			return column
		}
	}
	return ""
}
