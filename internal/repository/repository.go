package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// RepoExtension lets a repository method run either on the pool or inside a
// caller-owned transaction. Passing nil means "use the repository's pool".
// Both *pgxpool.Pool and pgx.Tx satisfy it.
type RepoExtension interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
