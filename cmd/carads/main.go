package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"carads/cmd/internal/app"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		httpAddr  string
		logLevel  string
		logFormat string
	)

	loadConfig := func() app.Config {
		cfg := app.LoadConfig()
		if httpAddr != "" {
			cfg.HTTPAddr = httpAddr
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if logFormat != "" {
			cfg.LogFormat = logFormat
		}
		return cfg
	}

	rootCmd := &cobra.Command{
		Use:           "carads",
		Short:         "Classifieds realtime event layer",
		Long:          "carads ingests Telegram channel posts, keeps a bounded message log and fans events out over WebSocket.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides CARADS_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: json|pretty (overrides CARADS_LOG_FORMAT)")

	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP and WebSocket server with the daily purge",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return app.Serve(ctx, loadConfig())
		},
	}
	serveCmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address (overrides CARADS_HTTP_ADDR)")
	rootCmd.AddCommand(serveCmd)

	// Running the bare binary serves.
	rootCmd.RunE = serveCmd.RunE
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			return app.Migrate(ctx, loadConfig())
		},
	})

	var before string
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete messages received before today (or --before) and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cutoff time.Time
			if before != "" {
				t, err := time.Parse(time.RFC3339, before)
				if err != nil {
					return fmt.Errorf("invalid --before: %w", err)
				}
				cutoff = t
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			n, err := app.Purge(ctx, loadConfig(), cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d messages\n", n)
			return nil
		},
	}
	purgeCmd.Flags().StringVar(&before, "before", "", "RFC3339 cutoff (default: start of today in CARADS_PURGE_TIMEZONE)")
	rootCmd.AddCommand(purgeCmd)

	return rootCmd
}
