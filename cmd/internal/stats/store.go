// Package stats records listing views and broadcasts the daily view counter.
package stats

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidView is returned when a view names no listing.
var ErrInvalidView = errors.New("stats: invalid view")

// Store is the view event log.
type Store interface {
	// Add appends one view of listingID at at.
	Add(ctx context.Context, listingID int64, at time.Time) error
	// CountSince returns how many views happened at or after from.
	CountSince(ctx context.Context, from time.Time) (int, error)
	Close() error
}
