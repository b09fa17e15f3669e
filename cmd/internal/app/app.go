// Package app wires the carads server runtime: config, logging, storage, HTTP routes,
// the realtime gateway and the daily purge.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"carads/cmd/internal/auth"
	"carads/cmd/internal/metrics"
	"carads/cmd/internal/realtime"
	"carads/cmd/internal/retention"
	"carads/cmd/internal/stats"
	"carads/cmd/internal/telegram"
	"carads/cmd/security/token"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// App is the carads server runtime. It owns the stores and every HTTP-facing component.
type App struct {
	cfg Config
	log Logger

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	stores *stores

	hub      *realtime.Hub
	ws       *realtime.WSGateway
	realtime *realtime.Handler
	telegram *telegram.Handler
	stats    *stats.Handler
	purge    *retention.Scheduler
}

// New constructs a fully wired App from config and logger.
// With a database and CARADS_DB_AUTO_MIGRATE the schema is created here.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	loc, err := cfg.PurgeLocation()
	if err != nil {
		return nil, fmt.Errorf("purge timezone %q: %w", cfg.PurgeTimezone, err)
	}

	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	verifier, err := auth.NewVerifier(authCfg)
	if err != nil {
		return nil, err
	}

	secret, err := token.NewVerifier(cfg.TelegramWebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("telegram webhook secret: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if st.dbEnabled() && cfg.DBAutoMigrate {
		if err := st.migrate(ctx); err != nil {
			st.close()
			return nil, err
		}
		log.Info("db.migrate.done", "schema", cfg.DBSchema)
	}

	hub := realtime.NewHub(log, nil, nil, m)

	gw, err := telegram.NewGateway(st.messages, hub, telegram.Config{
		AllowedChatID: cfg.TelegramAllowedChatID,
		Links: telegram.LinkBuilder{
			Base:        cfg.TelegramLinkBase,
			StripPrefix: cfg.TelegramLinkStripPrefix,
		},
		Secret: secret,
	}, log, m)
	if err != nil {
		st.close()
		return nil, err
	}

	tracker, err := stats.NewTracker(st.views, hub, log, m)
	if err != nil {
		st.close()
		return nil, err
	}

	log.Info("app.config",
		"telegram_chat_id", cfg.TelegramAllowedChatID,
		"webhook_secret", secret.Enabled(),
		"webhook_secret_fp", token.Fingerprint(cfg.TelegramWebhookSecret),
		"auth_enabled", verifier.Enabled(),
		"purge_enabled", cfg.PurgeEnabled,
		"purge_timezone", loc.String(),
		"ws_require_auth", cfg.WS.RequireAuth,
		"ws_allowed_origins", strings.Join(cfg.WS.AllowedOrigins, ","),
	)

	return &App{
		cfg:      cfg,
		log:      log,
		registry: reg,
		metrics:  m,
		stores:   st,
		hub:      hub,
		ws:       realtime.NewWSGateway(log, hub, verifier, cfg.WS),
		realtime: realtime.NewHandler(hub, verifier, log),
		telegram: telegram.NewHandler(gw, log),
		stats:    stats.NewHandler(tracker, verifier, log),
		purge: retention.NewScheduler(st.messages, loc, log,
			retention.WithFallbackDelay(cfg.PurgeFallbackDelay),
			retention.WithMetrics(m),
		),
	}, nil
}

// Handler returns the full middleware-wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a)
	return WithRequestLogging(WithSecurityHeaders(WithCORS(mux, a.cfg, a.log)), a.log)
}

// Run serves HTTP and runs the purge loop until ctx is cancelled or the server fails.
// Stores are closed before it returns.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.stores.dbEnabled(),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	if a.cfg.PurgeEnabled {
		g.Go(func() error { return a.purge.Run(gctx) })
	} else {
		a.log.Info("purge.scheduler.disabled")
	}

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

// Migrate creates the database schema. It fails without a database.
func (a *App) Migrate(ctx context.Context) error {
	if err := a.stores.migrate(ctx); err != nil {
		return err
	}
	a.log.Info("db.migrate.done", "schema", a.cfg.DBSchema)
	return nil
}

// Purge deletes messages received before before, or before the start of the
// current day in the purge timezone when before is zero.
func (a *App) Purge(ctx context.Context, before time.Time) (int64, error) {
	if !a.stores.dbEnabled() {
		return 0, ErrNoDatabase
	}
	if before.IsZero() {
		return a.purge.RunOnce(ctx)
	}

	n, err := a.stores.messages.PurgeBefore(ctx, before)
	a.metrics.PurgeRun(n, err)
	if err != nil {
		a.log.Error("purge.run.fail", "before", before.UTC(), "err", err)
		return 0, err
	}
	a.log.Info("purge.run.done", "before", before.UTC(), "deleted", n)
	return n, nil
}

// Close releases the stores and the pool. It is safe to call more than once.
func (a *App) Close() {
	if a.stores != nil {
		a.stores.close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
