package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("record not found")

// DB is the narrow query surface the read-side stores need; both a pgxpool
// and a transaction satisfy it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TxBeginner is satisfied by pgxpool.Pool and lets the account store open
// serialized transactions for ledger settlements.
type TxBeginner interface {
	DB
	Begin(ctx context.Context) (pgx.Tx, error)
}
