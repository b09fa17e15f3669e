package app

import (
	"context"
	"time"
)

// Serve builds the App and runs it until ctx is cancelled.
func Serve(ctx context.Context, cfg Config) error {
	a, err := New(ctx, cfg, NewLogger(cfg.LogLevel, cfg.LogFormat))
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// Migrate creates the database schema and exits.
func Migrate(ctx context.Context, cfg Config) error {
	cfg.DBAutoMigrate = false
	if cfg.DatabaseURL == "" {
		return ErrNoDatabase
	}

	a, err := New(ctx, cfg, NewLogger(cfg.LogLevel, cfg.LogFormat))
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Migrate(ctx)
}

// Purge runs one purge against the database and reports how many messages were deleted.
func Purge(ctx context.Context, cfg Config, before time.Time) (int64, error) {
	if cfg.DatabaseURL == "" {
		return 0, ErrNoDatabase
	}

	a, err := New(ctx, cfg, NewLogger(cfg.LogLevel, cfg.LogFormat))
	if err != nil {
		return 0, err
	}
	defer a.Close()
	return a.Purge(ctx, before)
}
