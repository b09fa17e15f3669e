package stats

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	v1 "carads/contracts/realtime/v1"
)

type push struct {
	Topic   string
	Event   string
	Payload json.RawMessage
}

type recordingPusher struct {
	mu     sync.Mutex
	pushes []push
}

func (p *recordingPusher) PushAll(event string, payload any) int {
	return p.PushTo("", event, payload)
}

func (p *recordingPusher) PushTo(topic, event string, payload any) int {
	b, _ := json.Marshal(payload)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, push{Topic: topic, Event: event, Payload: b})
	return 1
}

func (p *recordingPusher) snapshot() []push {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]push(nil), p.pushes...)
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestTracker(t *testing.T, now time.Time) (*Tracker, *InMemoryStore, *recordingPusher) {
	t.Helper()
	st := NewInMemoryStore()
	p := &recordingPusher{}
	tr, err := NewTracker(st, p, discardLogger(), nil)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	tr.now = func() time.Time { return now }
	return tr, st, p
}

func TestTracker_RecordView(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	tr, st, p := newTestTracker(t, now)
	ctx := context.Background()

	// Yesterday's view does not count toward today.
	if err := st.Add(ctx, 7, now.Add(-11*time.Hour)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	n, err := tr.RecordView(ctx, View{ListingID: 7, OwnerUserID: "42", ViewCount: 12})
	if err != nil || n != 1 {
		t.Fatalf("RecordView=%d err=%v want 1", n, err)
	}

	got := p.snapshot()
	if len(got) != 2 {
		t.Fatalf("pushes=%d want=2", len(got))
	}
	if got[0].Topic != "user:42" || got[0].Event != v1.TypeAdViewUpdated {
		t.Fatalf("first push=%+v", got[0])
	}
	var ad v1.AdViewPayload
	_ = json.Unmarshal(got[0].Payload, &ad)
	if ad.AdID != 7 || ad.ViewCount != 12 {
		t.Fatalf("ad view payload=%+v", ad)
	}
	if got[1].Topic != "" || got[1].Event != v1.TypeTodayViewsUpdated || string(got[1].Payload) != `{"count":1}` {
		t.Fatalf("second push=%+v payload=%s", got[1], got[1].Payload)
	}

	if n, err := tr.TodayCount(ctx); err != nil || n != 1 {
		t.Fatalf("TodayCount=%d err=%v", n, err)
	}
}

func TestTracker_AnonymousOwnerOnlyBroadcasts(t *testing.T) {
	t.Parallel()

	tr, _, p := newTestTracker(t, time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC))
	if _, err := tr.RecordView(context.Background(), View{ListingID: 1}); err != nil {
		t.Fatalf("RecordView: %v", err)
	}
	got := p.snapshot()
	if len(got) != 1 || got[0].Event != v1.TypeTodayViewsUpdated {
		t.Fatalf("pushes=%+v", got)
	}
}

func TestTracker_InvalidView(t *testing.T) {
	t.Parallel()

	tr, _, p := newTestTracker(t, time.Now())
	if _, err := tr.RecordView(context.Background(), View{ListingID: 0}); !errors.Is(err, ErrInvalidView) {
		t.Fatalf("err=%v want ErrInvalidView", err)
	}
	if len(p.snapshot()) != 0 {
		t.Fatalf("invalid view must not push")
	}
	if _, err := NewTracker(nil, nil, nil, nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
}

func TestInMemoryStore_CountSince(t *testing.T) {
	t.Parallel()

	st := NewInMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Out of order on purpose.
	for _, off := range []time.Duration{3 * time.Hour, -time.Minute, 0, time.Hour} {
		if err := st.Add(ctx, 1, base.Add(off)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	cases := []struct {
		from time.Time
		want int
	}{
		{base.Add(-time.Hour), 4},
		{base, 3},
		{base.Add(time.Second), 2},
		{base.Add(4 * time.Hour), 0},
	}
	for _, tc := range cases {
		if n, err := st.CountSince(ctx, tc.from); err != nil || n != tc.want {
			t.Fatalf("CountSince(%s)=%d err=%v want=%d", tc.from, n, err, tc.want)
		}
	}

	if err := st.Add(ctx, -1, base); !errors.Is(err, ErrInvalidView) {
		t.Fatalf("Add(-1) err=%v", err)
	}
}
