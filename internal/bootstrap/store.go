// Package bootstrap opens the configured lane store for the server and the
// admin CLI.
package bootstrap

import (
	"context"
	"fmt"

	"qms/lane-service/internal/config"
	"qms/lane-service/internal/store"
	"qms/lane-service/internal/store/postgres"
	"qms/lane-service/internal/store/sqlite"
	"qms/lane-service/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenStore connects to the driver named in cfg and applies migrations. The
// returned func releases the connection.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DB_DSN is required for the %s driver", config.DriverPostgres)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if err := postgres.Migrate(ctx, pool, migrations.FS); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("db migrate: %w", err)
		}
		return postgres.NewStore(pool), pool.Close, nil
	case config.DriverSQLite:
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite open: %w", err)
		}
		return st, func() { _ = st.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}
