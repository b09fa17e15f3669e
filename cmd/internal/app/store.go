package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"carads/cmd/internal/retention"
	"carads/cmd/internal/stats"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoDatabase is returned by operations that only make sense against Postgres.
var ErrNoDatabase = errors.New("CARADS_DATABASE_URL is not set")

// stores groups the persistence the app owns.
//
// Ownership model:
// - the app owns the pool; the Postgres stores never close it.
// - without a database URL both stores are in-memory and the pool is nil.
type stores struct {
	pool     *pgxpool.Pool
	messages retention.Store
	views    stats.Store

	migrators []migrator
	closeOnce sync.Once
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// openStores decides between Postgres-backed persistence and the in-memory dev stores.
func openStores(ctx context.Context, cfg Config, log Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store", "capacity", cfg.RetentionCapacity)
		return &stores{
			messages: retention.NewInMemoryStore(cfg.RetentionCapacity),
			views:    stats.NewInMemoryStore(),
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	messages, err := retention.NewPostgresStore(pool,
		retention.WithSchema(cfg.DBSchema),
		retention.WithCapacity(cfg.RetentionCapacity),
	)
	if err != nil {
		pool.Close()
		return nil, err
	}
	views, err := stats.NewPostgresStore(pool, stats.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema, "capacity", messages.Capacity())
	return &stores{
		pool:      pool,
		messages:  messages,
		views:     views,
		migrators: []migrator{messages, views},
	}, nil
}

func (s *stores) dbEnabled() bool { return s.pool != nil }

func (s *stores) migrate(ctx context.Context) error {
	if !s.dbEnabled() {
		return ErrNoDatabase
	}
	for _, m := range s.migrators {
		if err := m.Migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *stores) close() {
	s.closeOnce.Do(func() {
		_ = s.messages.Close()
		_ = s.views.Close()
		if s.pool != nil {
			s.pool.Close()
		}
	})
}
