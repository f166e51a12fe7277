package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ecoaudit/voicenote/internal/config"
	"github.com/ecoaudit/voicenote/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"
)

const databaseInitTimeout = 15 * time.Second

// RegisterDI provides the chunk store: Postgres when DATABASE_URL is set,
// otherwise the process-local SQLite file at STORE_PATH.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (store.ChunkStore, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.DatabaseURL == "" {
			s, err := OpenSQLite(cfg.StorePath)
			if err != nil {
				return nil, fmt.Errorf("failed to open local chunk store: %w", err)
			}
			return s, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), databaseInitTimeout)
		defer cancel()

		p, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		if err := RunMigration(ctx, p); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to run migration: %w", err)
		}
		return NewPostgresStore(p), nil
	})
}
