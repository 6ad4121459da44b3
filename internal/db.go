package internal

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDB opens a pgx connection pool against dsn. Callers that want the
// relational tier disabled entirely (feature.database.enabled=false)
// never call this at all -- Store is constructed only when the feature
// flag is on, per the optional-subsystem pattern.
func NewDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, NewError(KindPermanent, "parsing postgres dsn", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, NewError(KindTransient, "connecting to postgres", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, NewError(KindTransient, "pinging postgres", err)
	}

	return pool, nil
}
