package retention

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a dev-only fallback when DB is not configured.
// A single mutex serializes append, eviction and purge, which gives the same
// atomicity the Postgres store gets from its per-channel advisory lock.
type InMemoryStore struct {
	capacity int

	mu     sync.Mutex
	nextID int64
	chats  map[int64]*memChat
}

type memChat struct {
	byMessage map[int64]Record // message_id -> record
	recs      []Record         // oldest first
}

// NewInMemoryStore constructs an in-memory Store. capacity <= 0 uses DefaultCapacity.
func NewInMemoryStore(capacity int) *InMemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &InMemoryStore{
		capacity: capacity,
		chats:    make(map[int64]*memChat),
	}
}

// Capacity returns the per-channel cap.
func (s *InMemoryStore) Capacity() int { return s.capacity }

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Append inserts rec unless its natural key exists, then evicts beyond capacity.
func (s *InMemoryStore) Append(ctx context.Context, rec Record) (AppendResult, error) {
	if err := validateRecord(rec); err != nil {
		return AppendResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}
	rec.ReceivedAt = rec.ReceivedAt.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.chats[rec.ChatID]
	if c == nil {
		c = &memChat{
			byMessage: make(map[int64]Record),
			recs:      make([]Record, 0, 256),
		}
		s.chats[rec.ChatID] = c
	}

	if existing, ok := c.byMessage[rec.MessageID]; ok {
		return AppendResult{Record: existing, Inserted: false}, nil
	}

	s.nextID++
	rec.ID = s.nextID

	// Arrivals are almost always newest; Search keeps out-of-order timestamps correct.
	idx := sort.Search(len(c.recs), func(i int) bool { return newer(c.recs[i], rec) })
	c.recs = slices.Insert(c.recs, idx, rec)
	c.byMessage[rec.MessageID] = rec

	evicted := 0
	if over := len(c.recs) - s.capacity; over > 0 {
		for _, old := range c.recs[:over] {
			delete(c.byMessage, old.MessageID)
		}
		c.recs = slices.Delete(c.recs, 0, over)
		evicted = over
	}

	return AppendResult{Record: rec, Inserted: true, Evicted: evicted}, nil
}

// Latest returns up to limit records, newest first.
func (s *InMemoryStore) Latest(ctx context.Context, chatID int64, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampLimit(limit, s.capacity)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.chats[chatID]
	if c == nil {
		return nil, nil
	}

	n := min(limit, len(c.recs))
	out := make([]Record, 0, n)
	for i := len(c.recs) - 1; i >= len(c.recs)-n; i-- {
		out = append(out, c.recs[i])
	}
	return out, nil
}

// Since returns all records received at or after from, oldest first.
func (s *InMemoryStore) Since(ctx context.Context, chatID int64, from time.Time) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.chats[chatID]
	if c == nil {
		return nil, nil
	}
	start := firstAtOrAfter(c.recs, from)
	return append([]Record(nil), c.recs[start:]...), nil
}

// CountSince counts records received at or after from.
func (s *InMemoryStore) CountSince(ctx context.Context, chatID int64, from time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.chats[chatID]
	if c == nil {
		return 0, nil
	}
	return len(c.recs) - firstAtOrAfter(c.recs, from), nil
}

// PurgeBefore deletes records of every channel received strictly before before.
func (s *InMemoryStore) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for chatID, c := range s.chats {
		cut := firstAtOrAfter(c.recs, before)
		if cut == 0 {
			continue
		}
		for _, old := range c.recs[:cut] {
			delete(c.byMessage, old.MessageID)
		}
		c.recs = slices.Delete(c.recs, 0, cut)
		deleted += int64(cut)
		if len(c.recs) == 0 {
			delete(s.chats, chatID)
		}
	}
	return deleted, nil
}

// firstAtOrAfter returns the index of the first record with ReceivedAt >= t.
func firstAtOrAfter(recs []Record, t time.Time) int {
	return sort.Search(len(recs), func(i int) bool { return !recs[i].ReceivedAt.Before(t) })
}
