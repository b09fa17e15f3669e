package retention

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"carads/cmd/internal/pgsql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - UNIQUE (chat_id, message_id) makes duplicate detection a storage guarantee;
//     a conflicting insert is reported as a duplicate, never as an error.
//   - Appends take a per-channel transactional advisory lock so the cap check
//     never runs against a stale count from a concurrent append.
type PostgresStore struct {
	pool     *pgxpool.Pool
	schema   string
	capacity int
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "carads").
// The schema name is validated and safely quoted in queries.
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

// WithCapacity sets the per-channel retention cap (default: DefaultCapacity).
func WithCapacity(n int) PostgresOption {
	return func(s *PostgresStore) error {
		if n <= 0 {
			return errors.New("retention: capacity must be positive")
		}
		s.capacity = n
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:     pool,
		schema:   pgsql.DefaultSchema,
		capacity: DefaultCapacity,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("retention: nil pool")
	}
	return st, nil
}

// Capacity returns the per-channel cap.
func (s *PostgresStore) Capacity() int { return s.capacity }

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Migrate creates the schema, table and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("retention: nil store")
	}
	if _, err := s.pool.Exec(ctx, schemaSQL(s.schema)); err != nil {
		return fmt.Errorf("retention migrate: %w", err)
	}
	return nil
}

// Append inserts rec unless its natural key exists, then evicts beyond capacity,
// all in one transaction.
func (s *PostgresStore) Append(ctx context.Context, rec Record) (AppendResult, error) {
	if s == nil || s.pool == nil {
		return AppendResult{}, errors.New("retention: nil store")
	}
	if err := validateRecord(rec); err != nil {
		return AppendResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}
	rec.ReceivedAt = rec.ReceivedAt.UTC()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return AppendResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := pgsql.Ident(s.schema, tableMessages)

	// Serialize appends per channel. The schema is part of the key so stores in
	// different schemas never contend.
	lockKey := s.schema + "." + tableMessages + ":" + strconv.FormatInt(rec.ChatID, 10)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return AppendResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO `+messages+` (
		     message_id, chat_id, text, from_username, from_first_name, received_at, telegram_link
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (chat_id, message_id) DO NOTHING
		 RETURNING id`,
		rec.MessageID, rec.ChatID, rec.Text, rec.FromUsername, rec.FromFirstName, rec.ReceivedAt, rec.Link,
	).Scan(&rec.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := readByNaturalKey(ctx, tx, messages, rec.ChatID, rec.MessageID)
		if err != nil {
			return AppendResult{}, fmt.Errorf("read duplicate: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return AppendResult{}, err
		}
		return AppendResult{Record: existing, Inserted: false}, nil
	}
	if err != nil {
		return AppendResult{}, fmt.Errorf("insert message: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM `+messages+`
		  WHERE id IN (
		        SELECT id FROM `+messages+`
		         WHERE chat_id = $1
		         ORDER BY received_at DESC, id DESC
		        OFFSET $2)`,
		rec.ChatID, s.capacity,
	)
	if err != nil {
		return AppendResult{}, fmt.Errorf("evict: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendResult{}, err
	}
	return AppendResult{Record: rec, Inserted: true, Evicted: int(tag.RowsAffected())}, nil
}

// Latest returns up to limit records, newest first.
func (s *PostgresStore) Latest(ctx context.Context, chatID int64, limit int) ([]Record, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("retention: nil store")
	}
	limit = clampLimit(limit, s.capacity)

	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+`
		   FROM `+pgsql.Ident(s.schema, tableMessages)+`
		  WHERE chat_id = $1
		  ORDER BY received_at DESC, id DESC
		  LIMIT $2`,
		chatID, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows, limit)
}

// Since returns all records received at or after from, oldest first.
func (s *PostgresStore) Since(ctx context.Context, chatID int64, from time.Time) ([]Record, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("retention: nil store")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+`
		   FROM `+pgsql.Ident(s.schema, tableMessages)+`
		  WHERE chat_id = $1 AND received_at >= $2
		  ORDER BY received_at ASC, id ASC`,
		chatID, from.UTC(),
	)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows, 64)
}

// CountSince counts records received at or after from.
func (s *PostgresStore) CountSince(ctx context.Context, chatID int64, from time.Time) (int, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("retention: nil store")
	}

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+pgsql.Ident(s.schema, tableMessages)+`
		  WHERE chat_id = $1 AND received_at >= $2`,
		chatID, from.UTC(),
	).Scan(&n)
	return n, err
}

// PurgeBefore deletes records of every channel received strictly before before.
func (s *PostgresStore) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("retention: nil store")
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+pgsql.Ident(s.schema, tableMessages)+` WHERE received_at < $1`,
		before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

const recordColumns = `id, message_id, chat_id, text, from_username, from_first_name, received_at, telegram_link`

func scanRecord(row pgx.Row, r *Record) error {
	return row.Scan(&r.ID, &r.MessageID, &r.ChatID, &r.Text, &r.FromUsername, &r.FromFirstName, &r.ReceivedAt, &r.Link)
}

func collectRecords(rows pgx.Rows, sizeHint int) ([]Record, error) {
	defer rows.Close()

	out := make([]Record, 0, sizeHint)
	for rows.Next() {
		var r Record
		if err := scanRecord(rows, &r); err != nil {
			return nil, err
		}
		r.ReceivedAt = r.ReceivedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func readByNaturalKey(ctx context.Context, tx pgx.Tx, messagesTable string, chatID, messageID int64) (Record, error) {
	var r Record
	err := scanRecord(tx.QueryRow(ctx,
		`SELECT `+recordColumns+`
		   FROM `+messagesTable+`
		  WHERE chat_id = $1 AND message_id = $2`,
		chatID, messageID,
	), &r)
	r.ReceivedAt = r.ReceivedAt.UTC()
	return r, err
}
