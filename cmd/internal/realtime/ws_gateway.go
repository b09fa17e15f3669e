package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"carads/cmd/internal/auth"
	v1 "carads/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	// Subprotocol is the only websocket subprotocol the gateway speaks.
	Subprotocol = "carads.realtime.v1"

	// DefaultWSAllowedOrigins is the origin allowlist used when none is configured.
	DefaultWSAllowedOrigins = "http://localhost,http://127.0.0.1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

var errBadJSON = errors.New("bad json")

// WSConfig tunes the gateway. Zero durations and counts take the package defaults;
// the booleans and the allowlist are used as given.
type WSConfig struct {
	// RequireAuth rejects connections without a valid bearer (401) instead of
	// accepting them as anonymous.
	RequireAuth bool

	// DevInsecure disables websocket.Accept's own origin check. Dev only.
	DevInsecure bool

	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultWSConfig returns the secure defaults: origin required, localhost only,
// anonymous connections allowed.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		OriginRequired:    true,
		AllowedOrigins:    strings.Split(DefaultWSAllowedOrigins, ","),
		WriteTimeout:      wsDefaultWriteTimeout,
		ReadIdleTimeout:   wsDefaultReadIdle,
		SendQueueSize:     wsDefaultSendQueueSize,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

func (c WSConfig) withDefaults() WSConfig {
	d := DefaultWSConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = d.SendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	return c
}

// WSGateway is the WebSocket entrypoint for the realtime event layer.
//
// It enforces origin policy, subprotocol selection, rate limits and heartbeats,
// resolves the bearer identity, and routes client calls to the Hub.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	verifier *auth.Verifier
	cfg      WSConfig

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
}

// NewWSGateway constructs a gateway. A nil verifier keeps every connection anonymous.
func NewWSGateway(log *slog.Logger, hub *Hub, verifier *auth.Verifier, cfg WSConfig) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log, nil, nil, nil)
	}

	cfg = cfg.withDefaults()
	return &WSGateway{
		log:      log,
		hub:      hub,
		verifier: verifier,
		cfg:      cfg,
		// websocket.Accept enforces its own origin policy (same-host, or OriginPatterns).
		// The patterns are derived from the allowlist so the two layers agree.
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	identity, err := g.resolveIdentity(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(sessionID, identity, g.cfg.SendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Registry removal happens inside Disconnect before the client is closed.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Disconnect(client)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	if !g.hub.Connect(client) {
		g.log.Error("ws.connect.fail", "session_id", sessionID)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	g.log.Info("ws.open",
		"session_id", sessionID,
		"user_id", identity.UserID,
		"role", identity.Role,
		"remote", r.RemoteAddr,
	)

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				if reason := client.CloseReason(); reason != "" {
					shutdown(websocket.StatusPolicyViolation, reason)
				} else {
					shutdown(websocket.StatusNormalClosure, "closing")
				}
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.sendError(client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(time.Now().UTC()) {
			g.sendError(client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.sendError(client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			g.onHello(client)

		case v1.TypeOnlineCountGet:
			g.hub.SendOnlineCount(client)

		case v1.TypeProfileJoin:
			if err := g.onProfileJoin(client, env); err != nil {
				g.sendError(client, "profile_join_failed", err.Error())
			}

		case v1.TypeProfileLeave:
			if err := g.onProfileLeave(client, env); err != nil {
				g.sendError(client, "profile_leave_failed", err.Error())
			}

		default:
			g.sendError(client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}

	g.log.Info("ws.close", "session_id", sessionID, "reason", client.CloseReason())
}

// resolveIdentity returns the bearer identity, anonymous when absent or invalid.
// With requireAuth, absent or invalid bearers are an error.
func (g *WSGateway) resolveIdentity(r *http.Request) (auth.Identity, error) {
	if !g.verifier.Enabled() {
		if g.cfg.RequireAuth {
			return auth.Identity{}, errors.New("auth required but no verifier configured")
		}
		return auth.Identity{}, nil
	}

	id, err := g.verifier.Resolve(r, time.Now())
	if err == nil {
		return id, nil
	}
	if g.cfg.RequireAuth {
		return auth.Identity{}, err
	}
	if errors.Is(err, auth.ErrInvalidToken) {
		g.log.Info("ws.auth.invalid", "remote", r.RemoteAddr)
	}
	return auth.Identity{}, nil
}

// ---- handlers ----

func (g *WSGateway) onHello(client *Client) {
	g.hub.Send(client, v1.TypeHelloAck, v1.HelloAckPayload{
		SessionID: client.SessionID,
		UserID:    client.Identity.UserID,
		Role:      client.Identity.Role,
		Topics:    g.hub.Registry().TopicsOf(client.SessionID),
	})
}

func parseProfileTopic(env v1.Envelope) (v1.ProfileTopicPayload, error) {
	var p v1.ProfileTopicPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return p, fmt.Errorf("invalid payload: %w", err)
	}
	p.UserID = strings.TrimSpace(p.UserID)
	if p.UserID == "" {
		return p, errors.New("missing user_id")
	}
	if !validTopicID(p.UserID) {
		return p, errors.New("invalid user_id")
	}
	return p, nil
}

func (g *WSGateway) onProfileJoin(client *Client, env v1.Envelope) error {
	p, err := parseProfileTopic(env)
	if err != nil {
		return err
	}

	topic := ProfileTopic(p.UserID)
	if !slices.Contains(g.hub.Registry().TopicsOf(client.SessionID), topic) &&
		g.hub.Registry().CountPrefix(client.SessionID, profileTopicPrefix) >= maxProfileTopics {
		return fmt.Errorf("too many profiles: max=%d", maxProfileTopics)
	}

	g.hub.Join(client, topic)
	g.hub.Send(client, v1.TypeProfileJoin, p)
	return nil
}

func (g *WSGateway) onProfileLeave(client *Client, env v1.Envelope) error {
	p, err := parseProfileTopic(env)
	if err != nil {
		return err
	}

	g.hub.Leave(client, ProfileTopic(p.UserID))
	g.hub.Send(client, v1.TypeProfileLeave, p)
	return nil
}

// ---- send helpers ----

func (g *WSGateway) sendError(client *Client, code, msg string) {
	g.hub.Send(client, v1.TypeError, v1.ErrorPayload{Code: code, Message: msg})
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if errors.Is(err, errBadJSON) {
		return readErrBadJSON
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins returns the sorted, unique hosts of the allowlist.
// websocket.Accept matches OriginPatterns against the origin host with path.Match.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		out = append(out, h)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
