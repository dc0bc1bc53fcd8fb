package store

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is matched by every unique constraint violation.
	ErrConflict = errors.New("conflict")

	// ErrMissingReference is matched by foreign key violations, such as an
	// enrollment for an account deleted in the meantime.
	ErrMissingReference = errors.New("missing reference")
)

// ConflictError reports a unique constraint violation on Field, named the way
// callers name the input field.
type ConflictError struct {
	Field string
	Err   error
}

func (e *ConflictError) Error() string {
	return "unique violation on " + e.Field
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

var postgresConstraints = map[string]string{
	"users_email_key":  "email",
	"rooms_title_key":  "title",
	"rooms_code_key":   "code",
	"enrollments_pkey": "userId",
}

var sqliteColumns = map[string]string{
	"users.email":         "email",
	"rooms.title":         "title",
	"rooms.code":          "code",
	"enrollments.user_id": "userId",
}

// translate maps driver constraint errors onto ConflictError and leaves
// anything else untouched.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if field, ok := uniqueViolationField(err); ok {
		return &ConflictError{Field: field, Err: err}
	}
	if isForeignKeyViolation(err) {
		return errors.Join(ErrMissingReference, err)
	}
	return err
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqForeignKeyViolation
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return false
}

func uniqueViolationField(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code != pqUniqueViolation {
			return "", false
		}
		if field, ok := postgresConstraints[pqErr.Constraint]; ok {
			return field, true
		}
		return pqErr.Constraint, true
	}

	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
		default:
			if !strings.Contains(strings.ToLower(sqliteErr.Error()), "unique constraint failed") {
				return "", false
			}
		}
		return sqliteField(sqliteErr.Error()), true
	}
	return "", false
}

// sqliteField extracts the first column from "UNIQUE constraint failed: t.c, ...".
func sqliteField(message string) string {
	const marker = "constraint failed: "
	idx := strings.LastIndex(strings.ToLower(message), marker)
	if idx == -1 {
		return ""
	}
	column := message[idx+len(marker):]
	if end := strings.IndexAny(column, ", )"); end != -1 {
		column = column[:end]
	}
	if field, ok := sqliteColumns[column]; ok {
		return field
	}
	return column
}
