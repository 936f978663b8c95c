// Package store holds durable persistence for projects, users, bonus lots,
// transactions, levels, referral programs, bot settings and notification
// logs, plus the transactional unit-of-work boundary the ledger engine
// writes through.
//
// Every repository follows the same shape: a column-list function, a
// row-scanning function shared between QueryRow and Rows.Next, and
// squirrel-built SQL with PlaceholderFormat(sq.Dollar) rather than a
// generic ORM.
package store

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
)

// NewPool opens a bounded connection pool against connString with the given
// MaxConns/MinConns.
func NewPool(ctx context.Context, connString string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = minConns
	return pgxpool.ConnectConfig(ctx, cfg)
}
