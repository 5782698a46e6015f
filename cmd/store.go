package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/jackdeye/LAHacks/internal/config"
	"github.com/jackdeye/LAHacks/internal/resilience"
	"github.com/jackdeye/LAHacks/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	return openStore(ctx, cfg.Store)
}

// openStore connects to the configured backend. Postgres connections are
// retried so the service can start before its database is up.
func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "wastewatch.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		retry := resilience.DefaultRetryConfig()
		retry.MaxAttempts = 5
		retry.OnRetry = resilience.RetryLogger("store", "connect")
		pool := &store.PoolConfig{MaxConns: sc.MaxConns, MinConns: sc.MinConns}
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (store.Store, error) {
			return store.NewPostgres(ctx, sc.DatabaseURL, pool)
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

// openMigratedStore opens the store and applies pending migrations.
func openMigratedStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
