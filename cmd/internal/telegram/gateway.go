// Package telegram ingests Bot API webhook updates into the retention log and
// fans newly seen messages out to every realtime connection.
package telegram

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"carads/cmd/internal/metrics"
	"carads/cmd/internal/retention"
	"carads/cmd/security/token"
	v1 "carads/contracts/realtime/v1"
)

// DefaultAllowedChatID is the supergroup whose messages are ingested.
const DefaultAllowedChatID int64 = -1002027760235

// Kind classifies an ingestion attempt.
type Kind string

const (
	KindCreated   Kind = "created"
	KindDuplicate Kind = "duplicate"
	KindRejected  Kind = "rejected"
)

// Outcome is the result of one Ingest call. Reason is set for rejections.
type Outcome struct {
	Kind   Kind
	Reason string
	Record retention.Record
}

// Broadcaster pushes a named event to every connection.
type Broadcaster interface {
	PushAll(event string, payload any) int
}

// Config configures a Gateway.
type Config struct {
	AllowedChatID int64
	Links         LinkBuilder
	Secret        token.Verifier

	// Now is the ingestion clock (default time.Now).
	Now func() time.Time
}

// Gateway validates updates, appends them idempotently and broadcasts first sightings.
type Gateway struct {
	store   retention.Store
	bc      Broadcaster
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	lastAt time.Time
}

// NewGateway wires a Gateway. bc may be nil when nothing listens.
func NewGateway(store retention.Store, bc Broadcaster, cfg Config, log *slog.Logger, m *metrics.Metrics) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("telegram: nil store")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Links.Base == "" {
		cfg.Links.Base = DefaultLinkBase
	}
	return &Gateway{
		store:   store,
		bc:      bc,
		cfg:     cfg,
		log:     log,
		metrics: m,
	}, nil
}

// AllowedChatID returns the ingested channel.
func (g *Gateway) AllowedChatID() int64 { return g.cfg.AllowedChatID }

// Authorized reports whether a presented webhook secret is acceptable.
func (g *Gateway) Authorized(presented string) bool { return g.cfg.Secret.Verify(presented) }

// Ingest processes one raw update. It never returns an error: every failure is an
// Outcome with KindRejected, logged and counted.
func (g *Gateway) Ingest(ctx context.Context, raw []byte) Outcome {
	msg, reason := parseUpdate(raw)
	if reason != "" {
		return g.reject(reason, nil)
	}
	if msg.ChatID != g.cfg.AllowedChatID {
		return g.reject(ReasonChatNotAllowed, nil, "chat_id", msg.ChatID)
	}

	rec := retention.Record{
		MessageID:     msg.MessageID,
		ChatID:        msg.ChatID,
		Text:          msg.Text,
		FromUsername:  msg.FromUsername,
		FromFirstName: msg.FromFirstName,
		ReceivedAt:    g.receivedAt(),
		Link:          g.cfg.Links.Build(msg.ChatID, msg.MessageID),
	}

	res, err := g.store.Append(ctx, rec)
	if err != nil {
		return g.reject(ReasonStoreError, err, "message_id", msg.MessageID)
	}
	g.metrics.Evicted(res.Evicted)

	if !res.Inserted {
		g.metrics.IngestOutcome(string(KindDuplicate))
		g.log.Debug("telegram.ingest.duplicate", "chat_id", rec.ChatID, "message_id", rec.MessageID)
		return Outcome{Kind: KindDuplicate, Record: res.Record}
	}

	g.metrics.IngestOutcome(string(KindCreated))
	g.log.Info("telegram.ingest.created",
		"id", res.Record.ID,
		"chat_id", res.Record.ChatID,
		"message_id", res.Record.MessageID,
		"evicted", res.Evicted,
	)

	g.broadcast(ctx, res.Record)
	return Outcome{Kind: KindCreated, Record: res.Record}
}

// RejectSecret records an update refused for a bad webhook secret.
func (g *Gateway) RejectSecret() Outcome { return g.reject(ReasonBadSecret, nil) }

func (g *Gateway) reject(reason string, err error, attrs ...any) Outcome {
	g.metrics.IngestOutcome(string(KindRejected))
	attrs = append(attrs, "reason", reason)
	if err != nil {
		g.log.Error("telegram.ingest.fail", append(attrs, "err", err)...)
	} else {
		g.log.Debug("telegram.ingest.rejected", attrs...)
	}
	return Outcome{Kind: KindRejected, Reason: reason}
}

// receivedAt returns the server clock, never earlier than the previous value handed out.
func (g *Gateway) receivedAt() time.Time {
	now := g.cfg.Now().UTC()

	g.mu.Lock()
	defer g.mu.Unlock()
	if now.Before(g.lastAt) {
		now = g.lastAt
	}
	g.lastAt = now
	return now
}

func (g *Gateway) broadcast(ctx context.Context, rec retention.Record) {
	if g.bc == nil {
		return
	}

	g.bc.PushAll(v1.TypeTelegramMessageNew, MessagePayload(rec))

	n, err := g.store.CountSince(ctx, rec.ChatID, retention.StartOfDay(rec.ReceivedAt, time.UTC))
	if err != nil {
		g.log.Warn("telegram.today_count.fail", "chat_id", rec.ChatID, "err", err)
		return
	}
	g.bc.PushAll(v1.TypeTelegramTodayCount, v1.CountPayload{Count: n})
}

// MessagePayload converts a record to its wire form.
func MessagePayload(rec retention.Record) v1.TelegramMessagePayload {
	return v1.TelegramMessagePayload{
		ID:            rec.ID,
		MessageID:     rec.MessageID,
		Text:          rec.Text,
		FromUsername:  rec.FromUsername,
		FromFirstName: rec.FromFirstName,
		ReceivedAt:    rec.ReceivedAt.UTC(),
		TelegramLink:  rec.Link,
	}
}
