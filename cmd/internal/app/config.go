package app

import (
	"time"

	"carads/cmd/internal/pgsql"
	"carads/cmd/internal/realtime"
	"carads/cmd/internal/retention"
	"carads/cmd/internal/telegram"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL   string
	DBSchema      string
	DBMaxConns    int32
	DBMinConns    int32
	DBAutoMigrate bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	TelegramAllowedChatID   int64
	TelegramLinkBase        string
	TelegramLinkStripPrefix string
	TelegramWebhookSecret   string

	RetentionCapacity int

	PurgeEnabled       bool
	PurgeTimezone      string
	PurgeFallbackDelay time.Duration

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	WS realtime.WSConfig
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	ws := realtime.DefaultWSConfig()

	return Config{
		HTTPAddr:  EnvString("CARADS_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("CARADS_LOG_LEVEL", "info"),
		LogFormat: EnvString("CARADS_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("CARADS_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CARADS_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CARADS_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CARADS_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("CARADS_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:   EnvString("CARADS_DATABASE_URL", ""),
		DBSchema:      EnvString("CARADS_DB_SCHEMA", pgsql.DefaultSchema),
		DBMaxConns:    EnvInt32("CARADS_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("CARADS_DB_MIN_CONNS", 0),
		DBAutoMigrate: EnvBool("CARADS_DB_AUTO_MIGRATE", true),

		ReadinessRequireDB: EnvBool("CARADS_READINESS_REQUIRE_DB", false),

		TelegramAllowedChatID:   EnvInt64("CARADS_TELEGRAM_ALLOWED_CHAT_ID", telegram.DefaultAllowedChatID),
		TelegramLinkBase:        EnvString("CARADS_TELEGRAM_LINK_BASE", telegram.DefaultLinkBase),
		TelegramLinkStripPrefix: EnvString("CARADS_TELEGRAM_LINK_STRIP_PREFIX", telegram.DefaultStripPrefix),
		TelegramWebhookSecret:   EnvString("CARADS_TELEGRAM_WEBHOOK_SECRET", ""),

		RetentionCapacity: EnvInt("CARADS_RETENTION_CAPACITY", retention.DefaultCapacity),

		PurgeEnabled:       EnvBool("CARADS_PURGE_ENABLED", true),
		PurgeTimezone:      EnvString("CARADS_PURGE_TIMEZONE", "UTC"),
		PurgeFallbackDelay: EnvDuration("CARADS_PURGE_FALLBACK_DELAY", retention.DefaultFallbackDelay),

		CORSAllowedOrigins:   EnvCSV("CARADS_CORS_ALLOWED_ORIGINS", ""),
		CORSAllowCredentials: EnvBool("CARADS_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("CARADS_CORS_MAX_AGE_SECONDS", 600),

		WS: realtime.WSConfig{
			RequireAuth:       EnvBool("CARADS_WS_REQUIRE_AUTH", ws.RequireAuth),
			DevInsecure:       EnvBool("CARADS_WS_DEV_INSECURE", ws.DevInsecure),
			OriginRequired:    EnvBool("CARADS_WS_ORIGIN_REQUIRED", ws.OriginRequired),
			AllowedOrigins:    EnvCSV("CARADS_WS_ALLOWED_ORIGINS", realtime.DefaultWSAllowedOrigins),
			WriteTimeout:      EnvDuration("CARADS_WS_WRITE_TIMEOUT", ws.WriteTimeout),
			ReadIdleTimeout:   EnvDuration("CARADS_WS_READ_IDLE_TIMEOUT", ws.ReadIdleTimeout),
			SendQueueSize:     EnvInt("CARADS_WS_SEND_QUEUE", ws.SendQueueSize),
			HeartbeatInterval: EnvDuration("CARADS_WS_HEARTBEAT_INTERVAL", ws.HeartbeatInterval),
			HeartbeatTimeout:  EnvDuration("CARADS_WS_HEARTBEAT_TIMEOUT", ws.HeartbeatTimeout),
			RateEvents:        EnvInt("CARADS_WS_RATE_EVENTS", ws.RateEvents),
			RateWindow:        EnvDuration("CARADS_WS_RATE_WINDOW", ws.RateWindow),
		},
	}
}

// PurgeLocation resolves PurgeTimezone. An empty name means UTC.
func (c Config) PurgeLocation() (*time.Location, error) {
	if c.PurgeTimezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.PurgeTimezone)
}
