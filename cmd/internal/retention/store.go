// Package retention owns the capped, idempotent log of ingested channel messages
// and the scheduled purge that trims it at local-day boundaries.
package retention

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultCapacity is the per-channel retention cap used when none is configured.
const DefaultCapacity = 5000

// ErrInvalidInput is returned for records that cannot be stored.
var ErrInvalidInput = errors.New("retention: invalid input")

// Record is one ingested message.
//
// (ChatID, MessageID) is the natural key. ID is the surrogate key assigned by the store.
type Record struct {
	ID            int64
	MessageID     int64
	ChatID        int64
	Text          string
	FromFirstName string
	FromUsername  string
	ReceivedAt    time.Time
	Link          string
}

// AppendResult is the append operation result.
type AppendResult struct {
	// Record is the stored row: the new one, or the existing one for a duplicate.
	Record   Record
	Inserted bool
	// Evicted counts rows removed by the capacity check in the same operation.
	Evicted int
}

// Store persists and queries records.
//
// Requirements:
//   - Idempotency per (chat_id, message_id), enforced by the store itself
//   - Append and cap eviction are atomic per channel
//   - Latest is newest-first, Since is oldest-first; both order by (received_at, id)
//   - PurgeBefore is safe to run concurrently with Append
type Store interface {
	Append(ctx context.Context, rec Record) (AppendResult, error)
	Latest(ctx context.Context, chatID int64, limit int) ([]Record, error)
	Since(ctx context.Context, chatID int64, from time.Time) ([]Record, error)
	CountSince(ctx context.Context, chatID int64, from time.Time) (int, error)
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
	Capacity() int
	Close() error
}

func validateRecord(rec Record) error {
	if strings.TrimSpace(rec.Text) == "" {
		return errors.Join(ErrInvalidInput, errors.New("empty text"))
	}
	if rec.ReceivedAt.IsZero() {
		return errors.Join(ErrInvalidInput, errors.New("missing received_at"))
	}
	return nil
}

// clampLimit bounds a requested page size to [1, capacity].
func clampLimit(limit, capacity int) int {
	if limit < 1 {
		limit = 1
	}
	if capacity > 0 && limit > capacity {
		limit = capacity
	}
	return limit
}

// newer reports whether a sorts after b in retention order.
func newer(a, b Record) bool {
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.After(b.ReceivedAt)
	}
	return a.ID > b.ID
}
