// Package main provides a CI-friendly WebSocket smoke test for the carads realtime layer.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack session establishment (and the bearer identity when -token is set)
//   - online_count broadcast and online_count_get
//   - profile_join / profile_leave echo
//   - telegram_message_new + telegram_today_count fanout to every client after a
//     synthetic webhook update (when -webhook is set)
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "carads/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "carads.realtime.v1"
	maxReadBytes       = 1 << 20 // 1MiB

	secretHeader = "X-Telegram-Bot-Api-Secret-Token"
)

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string
	userID    string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL      = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin     = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		token      = flag.String("token", os.Getenv("CARADS_SMOKE_TOKEN"), "Access token for client A (optional)")
		profile    = flag.String("profile", "smoke-profile", "Profile user id client B watches")
		webhookURL = flag.String("webhook", "", "Webhook URL; when set a synthetic update is posted (e.g. http://127.0.0.1:8080/api/telegram/webhook)")
		chatID     = flag.Int64("chat", -1002027760235, "Chat id of the synthetic update")
		secret     = flag.String("secret", os.Getenv("CARADS_TELEGRAM_WEBHOOK_SECRET"), "Webhook secret header value")
		timeout    = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *token, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, "", *timeout)
	defer closeWS(b.conn)

	if *token != "" && a.userID == "" {
		fatalf("hello_ack for A carries no user_id although -token was set")
	}
	if *verbose {
		fmt.Printf("connected: A=%s (user=%q) B=%s origin=%q\n", a.sessionID, a.userID, b.sessionID, *origin)
	}

	online := mustOnlineCount(root, a, *timeout)
	if online < 2 {
		fatalf("online_count=%d want >= 2", online)
	}

	mustProfile(root, b, v1.TypeProfileJoin, *profile, *timeout)

	if *webhookURL != "" {
		messageID := time.Now().UnixNano() % 1_000_000_000
		mustPostUpdate(*webhookURL, *secret, *chatID, messageID, *timeout)
		for _, c := range []*smokeClient{a, b} {
			mustAssertMessageNew(root, c, messageID, *timeout)
			_ = c.mustReadUntilType(root, v1.TypeTelegramTodayCount, *timeout)
		}
		if *verbose {
			fmt.Printf("fanout ok: message_id=%d\n", messageID)
		}
	}

	mustProfile(root, b, v1.TypeProfileLeave, *profile, *timeout)

	fmt.Printf("OK: A=%s B=%s online=%d\n", a.sessionID, b.sessionID, online)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWriteWithTimeout(parent, conn, envelope(name+"-hello", v1.TypeHello, v1.HelloPayload{}), stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing session_id (%s)", name)
	}
	c.sessionID = p.SessionID
	c.userID = p.UserID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if env.V != v1.Version {
				select {
				case c.errCh <- fmt.Errorf("bad envelope version: %q", env.V):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustOnlineCount(parent context.Context, c *smokeClient, stepTimeout time.Duration) int64 {
	mustWriteWithTimeout(parent, c.conn, envelope(c.name+"-online", v1.TypeOnlineCountGet, struct{}{}), stepTimeout)

	// Broadcast counts may already be queued; the latest one wins.
	env := c.mustReadUntilType(parent, v1.TypeOnlineCount, stepTimeout)
	for {
		next, ok := c.tryRead(v1.TypeOnlineCount, 300*time.Millisecond)
		if !ok {
			break
		}
		env = next
	}

	var p v1.OnlineCountPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal online_count payload (%s): %v", c.name, err)
	}
	return p.Count
}

func mustProfile(parent context.Context, c *smokeClient, typ, userID string, stepTimeout time.Duration) {
	mustWriteWithTimeout(parent, c.conn, envelope(c.name+"-"+typ, typ, v1.ProfileTopicPayload{UserID: userID}), stepTimeout)

	echo := c.mustReadUntilType(parent, typ, stepTimeout)

	var p v1.ProfileTopicPayload
	if err := json.Unmarshal(echo.Payload, &p); err != nil {
		fatalf("unmarshal %s echo payload (%s): %v", typ, c.name, err)
	}
	if p.UserID != userID {
		fatalf("%s echo user_id mismatch (%s): got=%q want=%q", typ, c.name, p.UserID, userID)
	}
}

func mustPostUpdate(webhookURL, secret string, chatID, messageID int64, stepTimeout time.Duration) {
	body, err := json.Marshal(map[string]any{
		"update_id": messageID,
		"message": map[string]any{
			"message_id": messageID,
			"chat":       map[string]any{"id": chatID},
			"from":       map[string]any{"username": "smoke", "first_name": "Smoke"},
			"text":       fmt.Sprintf("smoke %d", messageID),
		},
	})
	if err != nil {
		fatalf("marshal update: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		fatalf("build webhook request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(secretHeader, secret)
	}

	resp, err := (&http.Client{Timeout: stepTimeout}).Do(req)
	if err != nil {
		fatalf("post webhook: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		fatalf("webhook status=%d want=200", resp.StatusCode)
	}
}

func mustAssertMessageNew(parent context.Context, c *smokeClient, messageID int64, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeTelegramMessageNew, stepTimeout)

	var p v1.TelegramMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal telegram_message_new payload (%s): %v", c.name, err)
	}
	if p.MessageID != messageID {
		fatalf("message_id mismatch (%s): got=%d want=%d (is -chat the allowed chat and -secret correct?)", c.name, p.MessageID, messageID)
	}
	if p.ReceivedAt.IsZero() || p.TelegramLink == "" {
		fatalf("telegram_message_new incomplete (%s): %+v", c.name, p)
	}
}

// tryRead returns the next envelope of wantType if one arrives within wait.
func (c *smokeClient) tryRead(wantType string, wait time.Duration) (v1.Envelope, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return v1.Envelope{}, false
		case env, ok := <-c.inbox:
			if !ok {
				return v1.Envelope{}, false
			}
			if env.Type == wantType {
				return env, true
			}
		}
	}
}

// mustReadUntilType skips unrelated pushes (online counts, fanout) and fails on server errors.
func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func envelope(id, typ string, payload any) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
