package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"carads/cmd/internal/ids"
	"carads/cmd/internal/metrics"
	v1 "carads/contracts/realtime/v1"
)

const closeReasonSlowConsumer = "slow consumer"

// Hub owns the set of open connections and fans named events out to them.
//
// Delivery guarantees:
//   - Each push is marshaled once and offered to every recipient without blocking.
//   - A recipient whose send queue is full is closed as a slow consumer. A connected
//     client therefore never silently misses a push, and sees pushes in enqueue order.
//   - Connect and Disconnect compose Presence and Registry; Disconnect runs its
//     cleanup exactly once per client.
//   - Topic membership changes only under mu, so Join and the Drop in Disconnect
//     never interleave.
type Hub struct {
	log      *slog.Logger
	presence *Presence
	registry *Registry
	metrics  *metrics.Metrics
	now      func() time.Time

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub wires a hub. Nil presence or registry get fresh instances.
func NewHub(log *slog.Logger, presence *Presence, registry *Registry, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if presence == nil {
		presence = NewPresence(log, m)
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Hub{
		log:      log,
		presence: presence,
		registry: registry,
		metrics:  m,
		now:      time.Now,
		clients:  make(map[string]*Client),
	}
}

// Presence returns the connection counter.
func (h *Hub) Presence() *Presence { return h.presence }

// Registry returns the topic registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Online returns the current connection count.
func (h *Hub) Online() int64 { return h.presence.Current() }

// Connect registers c, joins its identity topics and broadcasts the new online count.
// It reports false for a nil client or a session id already connected.
func (h *Hub) Connect(c *Client) bool {
	if c == nil || c.SessionID == "" {
		return false
	}

	h.mu.Lock()
	if _, dup := h.clients[c.SessionID]; dup {
		h.mu.Unlock()
		return false
	}
	h.clients[c.SessionID] = c
	for _, t := range identityTopics(c) {
		h.registry.Join(c, t)
	}
	h.mu.Unlock()

	n := h.presence.Connect()

	h.log.Info("hub.connect",
		"session_id", c.SessionID,
		"user_id", c.Identity.UserID,
		"online", n,
	)
	h.PushAll(v1.TypeOnlineCount, v1.OnlineCountPayload{Count: n})
	return true
}

// Disconnect unregisters c. Only the first call for a client does any work;
// it reports whether this call was that one.
func (h *Hub) Disconnect(c *Client) bool {
	if c == nil {
		return false
	}

	h.mu.Lock()
	cur, ok := h.clients[c.SessionID]
	if !ok || cur != c {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, c.SessionID)
	dropped := h.registry.Drop(c.SessionID)
	h.mu.Unlock()

	c.Close()
	n := h.presence.Disconnect()

	h.log.Info("hub.disconnect",
		"session_id", c.SessionID,
		"topics", dropped,
		"online", n,
	)
	h.PushAll(v1.TypeOnlineCount, v1.OnlineCountPayload{Count: n})
	return true
}

// PushAll sends event to every connection and returns how many were enqueued.
func (h *Hub) PushAll(event string, payload any) int {
	env, ok := h.envelope(event, payload)
	if !ok {
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	return h.fanout(event, env, targets)
}

// PushTo sends event to the members of topic and returns how many were enqueued.
func (h *Hub) PushTo(topic, event string, payload any) int {
	targets := h.registry.Members(topic)
	if len(targets) == 0 {
		return 0
	}
	env, ok := h.envelope(event, payload)
	if !ok {
		return 0
	}
	return h.fanout(event, env, targets)
}

// Send enqueues event for c alone.
func (h *Hub) Send(c *Client, event string, payload any) bool {
	env, ok := h.envelope(event, payload)
	if !ok {
		return false
	}
	return h.fanout(event, env, []*Client{c}) == 1
}

// SendOnlineCount answers an online_count_get from c.
func (h *Hub) SendOnlineCount(c *Client) bool {
	return h.Send(c, v1.TypeOnlineCount, v1.OnlineCountPayload{Count: h.Online()})
}

// Join subscribes c to topic. It reports false when c is not connected, so a
// session whose Disconnect already ran can never reappear in a topic.
func (h *Hub) Join(c *Client, topic string) bool {
	if c == nil {
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[c.SessionID] != c {
		return false
	}
	return h.registry.Join(c, topic)
}

// Leave unsubscribes c from topic.
func (h *Hub) Leave(c *Client, topic string) bool { return h.registry.Leave(c.SessionID, topic) }

func (h *Hub) fanout(event string, env v1.Envelope, targets []*Client) int {
	sent := 0
	var slow []*Client
	for _, c := range targets {
		if c == nil {
			continue
		}
		ok, full := c.offer(env)
		switch {
		case ok:
			sent++
		case full:
			slow = append(slow, c)
		}
	}

	for _, c := range slow {
		h.metrics.SlowConsumer()
		h.log.Warn("hub.slow_consumer", "session_id", c.SessionID, "event", event)
		// The connection goroutines observe Done and run Disconnect.
		c.CloseWithReason(closeReasonSlowConsumer)
	}

	h.metrics.EventPushed(event, sent)
	return sent
}

func (h *Hub) envelope(event string, payload any) (v1.Envelope, bool) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("hub.marshal.fail", "event", event, "err", err)
		return v1.Envelope{}, false
	}
	now := h.now().UTC()
	return v1.Envelope{
		V:       v1.Version,
		Type:    event,
		ID:      ids.MustULID(now),
		TS:      now,
		Payload: raw,
	}, true
}
