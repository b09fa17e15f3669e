package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"carads/cmd/internal/pgsql"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL. It does not own the pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "carads").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		v, err := pgsql.NormalizeSchema(schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: pgsql.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("stats: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Migrate creates the schema, table and index if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL(s.schema)); err != nil {
		return fmt.Errorf("stats migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Add(ctx context.Context, listingID int64, at time.Time) error {
	if listingID <= 0 {
		return ErrInvalidView
	}
	q := `INSERT INTO ` + pgsql.Ident(s.schema, tableViews) + ` (ad_id, viewed_at) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, q, listingID, at.UTC()); err != nil {
		return fmt.Errorf("stats add: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountSince(ctx context.Context, from time.Time) (int, error) {
	q := `SELECT count(*) FROM ` + pgsql.Ident(s.schema, tableViews) + ` WHERE viewed_at >= $1`
	var n int64
	if err := s.pool.QueryRow(ctx, q, from.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("stats count: %w", err)
	}
	return int(n), nil
}
