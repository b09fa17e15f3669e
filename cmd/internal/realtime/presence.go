package realtime

import (
	"log/slog"
	"sync/atomic"

	"carads/cmd/internal/metrics"
)

// Presence counts open connections process-wide.
//
// The count never goes below zero: a Disconnect without a matching Connect is
// clamped, logged and counted as a correction.
type Presence struct {
	n       atomic.Int64
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewPresence returns a zeroed counter.
func NewPresence(log *slog.Logger, m *metrics.Metrics) *Presence {
	if log == nil {
		log = slog.Default()
	}
	return &Presence{log: log, metrics: m}
}

// Connect increments the count and returns the new value.
func (p *Presence) Connect() int64 {
	v := p.n.Add(1)
	p.metrics.SetOnline(v)
	return v
}

// Disconnect decrements the count, floor-clamped at zero, and returns the new value.
func (p *Presence) Disconnect() int64 {
	for {
		cur := p.n.Load()
		if cur <= 0 {
			p.metrics.PresenceCorrected()
			p.log.Warn("presence.underflow", "count", cur)
			p.metrics.SetOnline(0)
			return 0
		}
		if p.n.CompareAndSwap(cur, cur-1) {
			p.metrics.SetOnline(cur - 1)
			return cur - 1
		}
	}
}

// Current returns the count.
func (p *Presence) Current() int64 {
	v := p.n.Load()
	if v < 0 {
		return 0
	}
	return v
}
