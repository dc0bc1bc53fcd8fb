package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/roomhub/apiserver/internal/db"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// base is shared by the repositories. Calls made with a context returned
// from WithinTx run on that transaction.
type base struct {
	db      *sql.DB
	dialect db.Dialect
}

func (b base) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return b.db
}

func (b base) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return b.conn(ctx).ExecContext(ctx, b.dialect.Rebind(query), args...)
}

func (b base) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return b.conn(ctx).QueryContext(ctx, b.dialect.Rebind(query), args...)
}

func (b base) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return b.conn(ctx).QueryRowContext(ctx, b.dialect.Rebind(query), args...)
}

// WithinTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise. Nested calls join the outer
// transaction.
func (b base) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", translate(err))
	}
	return nil
}

// validID reports whether id can address a row. Malformed ids are treated as
// absent rather than surfaced as driver errors.
func validID(id string) bool {
	return uuid.Validate(id) == nil
}

func affectedOrNotFound(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
