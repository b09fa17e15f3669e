package retention

import (
	"context"
	"sync"
	"testing"
	"time"

	"carads/cmd/internal/pgsql/pgtest"
)

func mustNewPostgresStore(t *testing.T, capacity int) *PostgresStore {
	t.Helper()

	pool := pgtest.OpenPool(t)
	schema := pgtest.Schema(t, pool)

	st, err := NewPostgresStore(pool, WithSchema(schema), WithCapacity(capacity))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Migrate must be idempotent.
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate again: %v", err)
	}
	return st
}

func TestPostgresStore_CapAndOrder(t *testing.T) {
	t.Parallel()

	st := mustNewPostgresStore(t, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	var evicted int
	for i := int64(1); i <= 4; i++ {
		res, err := st.Append(ctx, rec(i, base.Add(time.Duration(i)*time.Minute)))
		if err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
		if !res.Inserted || res.Record.ID == 0 {
			t.Fatalf("Append(%d): %+v", i, res)
		}
		evicted += res.Evicted
	}
	if evicted != 1 {
		t.Fatalf("evicted=%d want=1", evicted)
	}

	latest, err := st.Latest(ctx, testChat, 100)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got := msgIDs(latest); !equalIDs(got, []int64{4, 3, 2}) {
		t.Fatalf("Latest=%v want=[4 3 2]", got)
	}

	since, err := st.Since(ctx, testChat, base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if got := msgIDs(since); !equalIDs(got, []int64{3, 4}) {
		t.Fatalf("Since=%v want=[3 4]", got)
	}
	if since[0].ReceivedAt.Location() != time.UTC {
		t.Fatalf("ReceivedAt not UTC: %s", since[0].ReceivedAt.Location())
	}

	n, err := st.CountSince(ctx, testChat, base)
	if err != nil {
		t.Fatalf("CountSince: %v", err)
	}
	if n != 3 {
		t.Fatalf("CountSince=%d want=3", n)
	}
}

func TestPostgresStore_Duplicate(t *testing.T) {
	t.Parallel()

	st := mustNewPostgresStore(t, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	first, err := st.Append(ctx, rec(9, at))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := st.Append(ctx, rec(9, at.Add(time.Hour)))
			if err != nil {
				t.Errorf("Append dup: %v", err)
				return
			}
			if res.Inserted {
				mu.Lock()
				inserted++
				mu.Unlock()
				return
			}
			if res.Record.ID != first.Record.ID {
				t.Errorf("dup id=%d want=%d", res.Record.ID, first.Record.ID)
			}
		}()
	}
	wg.Wait()

	if inserted != 0 {
		t.Fatalf("duplicates inserted=%d", inserted)
	}
}

func TestPostgresStore_ConcurrentAppendsRespectCap(t *testing.T) {
	t.Parallel()

	const capacity = 20
	st := mustNewPostgresStore(t, capacity)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 15; i++ {
				id := int64(w*100 + i)
				if _, err := st.Append(ctx, rec(id, base.Add(time.Duration(id)*time.Second))); err != nil {
					t.Errorf("Append(%d): %v", id, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	n, err := st.CountSince(ctx, testChat, time.Time{})
	if err != nil {
		t.Fatalf("CountSince: %v", err)
	}
	if n != capacity {
		t.Fatalf("count=%d want=%d", n, capacity)
	}
}

func TestPostgresStore_PurgeBefore(t *testing.T) {
	t.Parallel()

	st := mustNewPostgresStore(t, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := st.Append(ctx, rec(1, time.Date(2024, 6, 1, 23, 59, 0, 0, time.UTC))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := st.Append(ctx, rec(2, time.Date(2024, 6, 2, 0, 1, 0, 0, time.UTC))); err != nil {
		t.Fatalf("Append: %v", err)
	}

	deleted, err := st.PurgeBefore(ctx, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("PurgeBefore: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted=%d want=1", deleted)
	}

	latest, err := st.Latest(ctx, testChat, 10)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got := msgIDs(latest); !equalIDs(got, []int64{2}) {
		t.Fatalf("remaining=%v want=[2]", got)
	}
}

func TestWithSchema_RejectsInvalid(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresStore(nil, WithSchema("bad-name")); err == nil {
		t.Fatalf("expected invalid schema error")
	}
	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("expected nil pool error")
	}
}
