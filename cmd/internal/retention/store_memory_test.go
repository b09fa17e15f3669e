package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

const testChat int64 = -1002027760235

func rec(msgID int64, at time.Time) Record {
	return Record{
		MessageID:  msgID,
		ChatID:     testChat,
		Text:       fmt.Sprintf("message %d", msgID),
		ReceivedAt: at,
	}
}

func msgIDs(rs []Record) []int64 {
	out := make([]int64, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.MessageID)
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestInMemoryStore_CapEvictsOldest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemoryStore(3)
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	var evicted int
	for i := int64(1); i <= 4; i++ {
		res, err := s.Append(ctx, rec(i, base.Add(time.Duration(i)*time.Minute)))
		if err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
		if !res.Inserted {
			t.Fatalf("Append(%d): expected insert", i)
		}
		evicted += res.Evicted
	}
	if evicted != 1 {
		t.Fatalf("evicted=%d want=1", evicted)
	}

	latest, err := s.Latest(ctx, testChat, 10)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got := msgIDs(latest); !equalIDs(got, []int64{4, 3, 2}) {
		t.Fatalf("Latest=%v want=[4 3 2]", got)
	}

	// Evicted natural keys are free again.
	res, err := s.Append(ctx, rec(1, base.Add(10*time.Minute)))
	if err != nil {
		t.Fatalf("re-Append(1): %v", err)
	}
	if !res.Inserted {
		t.Fatalf("re-Append(1): expected insert after eviction")
	}
}

func TestInMemoryStore_DuplicateReturnsStored(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemoryStore(10)
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	first, err := s.Append(ctx, rec(7, at))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	dup := rec(7, at.Add(time.Hour))
	dup.Text = "different text"
	second, err := s.Append(ctx, dup)
	if err != nil {
		t.Fatalf("Append dup: %v", err)
	}
	if second.Inserted {
		t.Fatalf("duplicate reported as inserted")
	}
	if second.Record.ID != first.Record.ID || second.Record.Text != first.Record.Text {
		t.Fatalf("duplicate returned %+v want %+v", second.Record, first.Record)
	}

	n, err := s.CountSince(ctx, testChat, time.Time{})
	if err != nil {
		t.Fatalf("CountSince: %v", err)
	}
	if n != 1 {
		t.Fatalf("count=%d want=1", n)
	}
}

func TestInMemoryStore_EqualTimestampsOrderByID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemoryStore(2)
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	for i := int64(1); i <= 3; i++ {
		if _, err := s.Append(ctx, rec(i, at)); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}

	latest, err := s.Latest(ctx, testChat, 5)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got := msgIDs(latest); !equalIDs(got, []int64{3, 2}) {
		t.Fatalf("Latest=%v want=[3 2]", got)
	}
}

func TestInMemoryStore_OutOfOrderArrival(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemoryStore(10)
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	for _, r := range []Record{rec(1, base.Add(2*time.Minute)), rec(2, base), rec(3, base.Add(time.Minute))} {
		if _, err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	all, err := s.Since(ctx, testChat, base)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if got := msgIDs(all); !equalIDs(got, []int64{2, 3, 1}) {
		t.Fatalf("Since=%v want=[2 3 1]", got)
	}
}

func TestInMemoryStore_LatestClampsLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemoryStore(3)
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := int64(1); i <= 3; i++ {
		if _, err := s.Append(ctx, rec(i, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	cases := []struct {
		limit int
		want  int
	}{
		{limit: -5, want: 1},
		{limit: 0, want: 1},
		{limit: 2, want: 2},
		{limit: 5000, want: 3},
	}
	for _, tc := range cases {
		got, err := s.Latest(ctx, testChat, tc.limit)
		if err != nil {
			t.Fatalf("Latest(%d): %v", tc.limit, err)
		}
		if len(got) != tc.want {
			t.Fatalf("Latest(%d) len=%d want=%d", tc.limit, len(got), tc.want)
		}
	}

	empty, err := s.Latest(ctx, 42, 10)
	if err != nil {
		t.Fatalf("Latest(unknown): %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("Latest(unknown) len=%d", len(empty))
	}
}

func TestInMemoryStore_RejectsInvalid(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore(3)
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	blank := rec(1, at)
	blank.Text = "   "
	if _, err := s.Append(context.Background(), blank); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank text err=%v want ErrInvalidInput", err)
	}

	if _, err := s.Append(context.Background(), rec(2, time.Time{})); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero time err=%v want ErrInvalidInput", err)
	}
}

func TestInMemoryStore_PurgeBoundary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemoryStore(10)

	before := time.Date(2024, 6, 1, 23, 59, 0, 0, time.UTC)
	after := time.Date(2024, 6, 2, 0, 1, 0, 0, time.UTC)
	cutoff := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)

	if _, err := s.Append(ctx, rec(1, before)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append(ctx, rec(2, after)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	other := rec(3, before)
	other.ChatID = 99
	if _, err := s.Append(ctx, other); err != nil {
		t.Fatalf("Append other: %v", err)
	}

	deleted, err := s.PurgeBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("PurgeBefore: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted=%d want=2", deleted)
	}

	left, err := s.Since(ctx, testChat, time.Time{})
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if got := msgIDs(left); !equalIDs(got, []int64{2}) {
		t.Fatalf("remaining=%v want=[2]", got)
	}

	again, err := s.PurgeBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("PurgeBefore again: %v", err)
	}
	if again != 0 {
		t.Fatalf("second purge deleted=%d want=0", again)
	}
}

func TestInMemoryStore_ConcurrentAppendAndPurge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const capacity = 50
	s := NewInMemoryStore(capacity)
	base := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := int64(w*1000 + i)
				if _, err := s.Append(ctx, rec(id, base.Add(time.Duration(id)*time.Millisecond))); err != nil {
					t.Errorf("Append(%d): %v", id, err)
					return
				}
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := s.PurgeBefore(ctx, base.Add(500*time.Millisecond)); err != nil {
				t.Errorf("PurgeBefore: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	n, err := s.CountSince(ctx, testChat, time.Time{})
	if err != nil {
		t.Fatalf("CountSince: %v", err)
	}
	if n > capacity {
		t.Fatalf("count=%d exceeds capacity=%d", n, capacity)
	}

	all, err := s.Since(ctx, testChat, time.Time{})
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	seen := make(map[int64]bool, len(all))
	for i, r := range all {
		if seen[r.MessageID] {
			t.Fatalf("duplicate message_id %d", r.MessageID)
		}
		seen[r.MessageID] = true
		if i > 0 && newer(all[i-1], r) {
			t.Fatalf("order violated at %d", i)
		}
	}
}

func TestInMemoryStore_ConcurrentDuplicateInsertsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemoryStore(10)
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Append(ctx, rec(5, at))
			if err != nil {
				t.Errorf("Append: %v", err)
				return
			}
			if res.Inserted {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if inserted != 1 {
		t.Fatalf("inserted=%d want=1", inserted)
	}
}
