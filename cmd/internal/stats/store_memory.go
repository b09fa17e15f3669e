package stats

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a dev-only fallback when DB is not configured.
type InMemoryStore struct {
	mu  sync.Mutex
	ats []time.Time // sorted ascending
}

// NewInMemoryStore constructs an empty in-memory Store.
func NewInMemoryStore() *InMemoryStore { return &InMemoryStore{} }

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) Add(ctx context.Context, listingID int64, at time.Time) error {
	if listingID <= 0 {
		return ErrInvalidView
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	at = at.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.ats), func(i int) bool { return s.ats[i].After(at) })
	s.ats = append(s.ats, time.Time{})
	copy(s.ats[i+1:], s.ats[i:])
	s.ats[i] = at
	return nil
}

func (s *InMemoryStore) CountSince(ctx context.Context, from time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.ats), func(i int) bool { return !s.ats[i].Before(from) })
	return len(s.ats) - i, nil
}
