package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"testing"
	"time"

	"carads/cmd/internal/auth"
	"carads/cmd/internal/auth/authtest"
	v1 "carads/contracts/realtime/v1"

	"github.com/coder/websocket"
)

func newTestSigner(t *testing.T) (*authtest.Signer, *auth.Verifier) {
	t.Helper()
	return authtest.NewPair(t)
}

// testWSConfig is the default gateway config without the origin requirement.
func testWSConfig() WSConfig {
	cfg := DefaultWSConfig()
	cfg.OriginRequired = false
	return cfg
}

func startWSTestServer(t *testing.T, gw *WSGateway) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, baseHTTPURL, origin, accessToken string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseHTTPURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	if accessToken != "" {
		u.RawQuery = url.Values{auth.AccessTokenParam: {accessToken}}.Encode()
	}

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPHeader:   h,
	})
}

func mustDialWS(t *testing.T, baseHTTPURL, accessToken string) *websocket.Conn {
	t.Helper()
	conn, resp, err := dialWS(t, baseHTTPURL, "", accessToken)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") })
	return conn
}

func writeEnvelopeWS(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	b, err := json.Marshal(v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      typ + "-1",
		TS:      time.Now().UTC(),
		Payload: mustJSONRaw(t, payload),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func readUntilType(t *testing.T, conn *websocket.Conn, typ string, maxReads int) v1.Envelope {
	t.Helper()
	if maxReads <= 0 {
		maxReads = 1
	}
	for i := 0; i < maxReads; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, b, err := conn.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("conn.Read: %v", err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("did not receive envelope type %q", typ)
	return v1.Envelope{}
}

func mustJSONRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return b
}

func decodePayload[T any](t *testing.T, env v1.Envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		t.Fatalf("decode %s payload: %v", env.Type, err)
	}
	return out
}

// waitOnline polls until the hub reports n connections.
func waitOnline(t *testing.T, h *Hub, n int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.Online() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("online=%d want=%d", h.Online(), n)
}

func TestWSGateway_AnonymousOnlineCountAndHello(t *testing.T) {
	t.Parallel()

	hub := NewHub(discardLogger(), nil, nil, nil)
	ts := startWSTestServer(t, NewWSGateway(discardLogger(), hub, nil, testWSConfig()))

	a := mustDialWS(t, ts.URL, "")
	first := readUntilType(t, a, v1.TypeOnlineCount, 1)
	if p := decodePayload[v1.OnlineCountPayload](t, first); p.Count != 1 {
		t.Fatalf("first count=%d want=1", p.Count)
	}

	b := mustDialWS(t, ts.URL, "")
	if p := decodePayload[v1.OnlineCountPayload](t, readUntilType(t, a, v1.TypeOnlineCount, 2)); p.Count != 2 {
		t.Fatalf("a saw count=%d want=2", p.Count)
	}
	_ = readUntilType(t, b, v1.TypeOnlineCount, 1)

	writeEnvelopeWS(t, b, v1.TypeHello, v1.HelloPayload{})
	ack := decodePayload[v1.HelloAckPayload](t, readUntilType(t, b, v1.TypeHelloAck, 4))
	if len(ack.SessionID) != 26 || ack.UserID != "" || len(ack.Topics) != 0 {
		t.Fatalf("anonymous hello ack=%+v", ack)
	}

	writeEnvelopeWS(t, b, v1.TypeOnlineCountGet, struct{}{})
	if p := decodePayload[v1.OnlineCountPayload](t, readUntilType(t, b, v1.TypeOnlineCount, 4)); p.Count != 2 {
		t.Fatalf("online_count_get=%d want=2", p.Count)
	}

	_ = b.Close(websocket.StatusNormalClosure, "bye")
	if p := decodePayload[v1.OnlineCountPayload](t, readUntilType(t, a, v1.TypeOnlineCount, 4)); p.Count != 1 {
		t.Fatalf("after close count=%d want=1", p.Count)
	}
	waitOnline(t, hub, 1)
}

func TestWSGateway_TokenJoinsUserTopic(t *testing.T) {
	t.Parallel()

	signer, verifier := newTestSigner(t)
	hub := NewHub(discardLogger(), nil, nil, nil)
	ts := startWSTestServer(t, NewWSGateway(discardLogger(), hub, verifier, testWSConfig()))

	conn := mustDialWS(t, ts.URL, signer.Sign(auth.Identity{UserID: "42", Role: auth.RoleAdmin}, time.Now()))
	writeEnvelopeWS(t, conn, v1.TypeHello, v1.HelloPayload{})
	ack := decodePayload[v1.HelloAckPayload](t, readUntilType(t, conn, v1.TypeHelloAck, 4))
	if ack.UserID != "42" || ack.Role != auth.RoleAdmin {
		t.Fatalf("hello ack=%+v", ack)
	}
	if strings.Join(ack.Topics, ",") != AdminTopic+","+UserTopic("42") {
		t.Fatalf("topics=%v", ack.Topics)
	}

	NewNotifier(hub).ListingCreatedForUser("42", map[string]int64{"id": 3})
	env := readUntilType(t, conn, v1.TypeCarAdCreatedForUser, 4)
	if p := decodePayload[map[string]int64](t, env); p["id"] != 3 {
		t.Fatalf("payload=%v", p)
	}

	// An invalid token still connects, anonymously.
	anon := mustDialWS(t, ts.URL, "v4.public.garbage")
	writeEnvelopeWS(t, anon, v1.TypeHello, v1.HelloPayload{})
	if ack := decodePayload[v1.HelloAckPayload](t, readUntilType(t, anon, v1.TypeHelloAck, 4)); ack.UserID != "" {
		t.Fatalf("invalid token resolved to user %q", ack.UserID)
	}
}

func TestWSGateway_RequireAuth(t *testing.T) {
	t.Parallel()

	cfg := testWSConfig()
	cfg.RequireAuth = true

	signer, verifier := newTestSigner(t)
	ts := startWSTestServer(t, NewWSGateway(discardLogger(), NewHub(discardLogger(), nil, nil, nil), verifier, cfg))

	for _, tok := range []string{"", "not-a-valid-token"} {
		_, resp, err := dialWS(t, ts.URL, "", tok)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			t.Fatalf("token %q: expected handshake failure", tok)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			t.Fatalf("token %q: expected 401, got status=%d err=%v", tok, status, err)
		}
	}

	conn := mustDialWS(t, ts.URL, signer.Sign(auth.Identity{UserID: "1"}, time.Now()))
	_ = readUntilType(t, conn, v1.TypeOnlineCount, 1)
}

func TestWSGateway_ProfileTopics(t *testing.T) {
	t.Parallel()

	hub := NewHub(discardLogger(), nil, nil, nil)
	ts := startWSTestServer(t, NewWSGateway(discardLogger(), hub, nil, testWSConfig()))
	conn := mustDialWS(t, ts.URL, "")

	writeEnvelopeWS(t, conn, v1.TypeProfileJoin, v1.ProfileTopicPayload{UserID: "9"})
	echo := decodePayload[v1.ProfileTopicPayload](t, readUntilType(t, conn, v1.TypeProfileJoin, 4))
	if echo.UserID != "9" {
		t.Fatalf("join echo=%+v", echo)
	}

	NewNotifier(hub).BioItemUpdated("9", map[string]string{"title": "about"})
	_ = readUntilType(t, conn, v1.TypeBioItemUpdated, 4)

	writeEnvelopeWS(t, conn, v1.TypeProfileJoin, v1.ProfileTopicPayload{UserID: "bad id"})
	errEnv := decodePayload[v1.ErrorPayload](t, readUntilType(t, conn, v1.TypeError, 4))
	if errEnv.Code != "profile_join_failed" {
		t.Fatalf("error=%+v", errEnv)
	}

	writeEnvelopeWS(t, conn, v1.TypeProfileLeave, v1.ProfileTopicPayload{UserID: "9"})
	_ = readUntilType(t, conn, v1.TypeProfileLeave, 4)
	if n := hub.PushTo(ProfileTopic("9"), v1.TypeBioItemUpdated, nil); n != 0 {
		t.Fatalf("push after leave reached %d connections", n)
	}

	for i := 0; i < maxProfileTopics; i++ {
		writeEnvelopeWS(t, conn, v1.TypeProfileJoin, v1.ProfileTopicPayload{UserID: "p" + string(rune('a'+i))})
		_ = readUntilType(t, conn, v1.TypeProfileJoin, 4)
	}
	writeEnvelopeWS(t, conn, v1.TypeProfileJoin, v1.ProfileTopicPayload{UserID: "one-too-many"})
	if e := decodePayload[v1.ErrorPayload](t, readUntilType(t, conn, v1.TypeError, 4)); !strings.Contains(e.Message, "too many") {
		t.Fatalf("limit error=%+v", e)
	}
}

func TestWSGateway_BadInput(t *testing.T) {
	t.Parallel()

	ts := startWSTestServer(t, NewWSGateway(discardLogger(), NewHub(discardLogger(), nil, nil, nil), nil, testWSConfig()))
	conn := mustDialWS(t, ts.URL, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if e := decodePayload[v1.ErrorPayload](t, readUntilType(t, conn, v1.TypeError, 4)); e.Code != "bad_json" {
		t.Fatalf("error=%+v", e)
	}

	// Server-only types are not valid client calls.
	writeEnvelopeWS(t, conn, v1.TypeTelegramMessageNew, struct{}{})
	if e := decodePayload[v1.ErrorPayload](t, readUntilType(t, conn, v1.TypeError, 4)); e.Code != "bad_envelope" {
		t.Fatalf("error=%+v", e)
	}
}

func TestWSGateway_OriginPolicy(t *testing.T) {
	t.Parallel()

	cfg := DefaultWSConfig()
	cfg.OriginRequired = true
	cfg.AllowedOrigins = []string{"http://localhost"}

	ts := startWSTestServer(t, NewWSGateway(discardLogger(), NewHub(discardLogger(), nil, nil, nil), nil, cfg))

	cases := []struct {
		origin string
		want   int
	}{
		{origin: "", want: http.StatusForbidden},
		{origin: "https://evil.example", want: http.StatusForbidden},
	}
	for _, tc := range cases {
		_, resp, err := dialWS(t, ts.URL, tc.origin, "")
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil || resp == nil || resp.StatusCode != tc.want {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			t.Fatalf("origin %q: status=%d err=%v want=%d", tc.origin, status, err, tc.want)
		}
	}

	conn, resp, err := dialWS(t, ts.URL, "http://localhost", "")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("allowed origin dial: %v", err)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatternsFromAllowedOrigins([]string{"http://localhost:3000", "https://LOCALHOST", "*", "https://app.example.com"})
	if strings.Join(got, ",") != "app.example.com,localhost" {
		t.Fatalf("patterns=%v", got)
	}
}

func TestWSConfig_ZeroValuesTakeDefaults(t *testing.T) {
	t.Parallel()

	def := DefaultWSConfig()
	g := NewWSGateway(discardLogger(), nil, nil, WSConfig{SendQueueSize: 1, AllowedOrigins: []string{"https://carads.example.com:8443"}})

	if g.cfg.SendQueueSize != wsMinSendQueueSize {
		t.Fatalf("send queue=%d want=%d", g.cfg.SendQueueSize, wsMinSendQueueSize)
	}
	if g.cfg.WriteTimeout != def.WriteTimeout || g.cfg.ReadIdleTimeout != def.ReadIdleTimeout {
		t.Fatalf("timeouts=%s/%s", g.cfg.WriteTimeout, g.cfg.ReadIdleTimeout)
	}
	if g.cfg.HeartbeatInterval != def.HeartbeatInterval || g.cfg.RateEvents != def.RateEvents {
		t.Fatalf("heartbeat=%s rate=%d", g.cfg.HeartbeatInterval, g.cfg.RateEvents)
	}
	if g.cfg.OriginRequired {
		t.Fatalf("explicit false origin requirement was overridden")
	}
	if !slices.Equal(g.originPatterns, []string{"carads.example.com"}) {
		t.Fatalf("origin patterns=%v", g.originPatterns)
	}
}
