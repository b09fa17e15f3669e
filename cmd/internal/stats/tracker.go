package stats

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"carads/cmd/internal/metrics"
	"carads/cmd/internal/realtime"
	"carads/cmd/internal/retention"
	v1 "carads/contracts/realtime/v1"
)

// View is one listing view as reported by the listing service.
// ViewCount is the listing's lifetime count after this view.
type View struct {
	ListingID   int64  `json:"ad_id"`
	OwnerUserID string `json:"owner_user_id"`
	ViewCount   int64  `json:"view_count"`
}

// Tracker records views and pushes the resulting counters.
type Tracker struct {
	store   Store
	push    realtime.Pusher
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewTracker wires a Tracker. push may be nil when nothing listens.
func NewTracker(store Store, push realtime.Pusher, log *slog.Logger, m *metrics.Metrics) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("stats: nil store")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{store: store, push: push, log: log, metrics: m, now: time.Now}, nil
}

// RecordView appends v, notifies the owner and broadcasts today's total.
// It returns today's total including v.
func (t *Tracker) RecordView(ctx context.Context, v View) (int, error) {
	if v.ListingID <= 0 {
		return 0, ErrInvalidView
	}

	now := t.now().UTC()
	if err := t.store.Add(ctx, v.ListingID, now); err != nil {
		return 0, err
	}
	t.metrics.ViewRecorded()

	n, err := t.store.CountSince(ctx, retention.StartOfDay(now, time.UTC))
	if err != nil {
		return 0, err
	}

	if t.push != nil {
		if v.OwnerUserID != "" {
			t.push.PushTo(realtime.UserTopic(v.OwnerUserID), v1.TypeAdViewUpdated,
				v1.AdViewPayload{AdID: v.ListingID, ViewCount: v.ViewCount})
		}
		t.push.PushAll(v1.TypeTodayViewsUpdated, v1.CountPayload{Count: n})
	}

	t.log.Debug("stats.view.recorded", "ad_id", v.ListingID, "today", n)
	return n, nil
}

// TodayCount returns the number of views since the start of the current UTC day.
func (t *Tracker) TodayCount(ctx context.Context) (int, error) {
	return t.store.CountSince(ctx, retention.StartOfDay(t.now(), time.UTC))
}
