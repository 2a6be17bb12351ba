// Command CarPulse runs the car catalog and price chart bot.
//
// The serve command connects a messaging transport and the HTTP API, chat
// talks to the bot on the terminal, and vehicles and chart work on the
// catalog file directly.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/BTreeMap/CarPulse/internal/api"
	"github.com/spf13/cobra"
)

func main() {
	cfg, err := loadEnvironmentConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flags are bound to cfg with the
// environment values as defaults, so flags override the environment.
func newRootCmd(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "carpulse",
		Short:         "Car catalog and price chart bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeLogger(cmd.ErrOrStderr(), cfg.LogLevel); err != nil {
				return err
			}
			cfg.resolve()
			slog.Debug("Final configuration",
				"state_dir", cfg.StateDir,
				"catalog_file", cfg.CatalogFile,
				"session_dsn_set", cfg.SessionDSN != "",
				"transport", cfg.Transport,
				"api_addr", cfg.APIAddr)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for CarPulse data (overrides $CARPULSE_STATE_DIR)")
	pf.StringVar(&cfg.CatalogFile, "catalog", cfg.CatalogFile, "catalog file (overrides $CATALOG_FILE)")
	pf.StringSliceVar(&cfg.Periods, "periods", cfg.Periods, "comma-separated period labels, oldest first (overrides $CARPULSE_PERIODS)")
	pf.StringVar(&cfg.SessionDSN, "session-dsn", cfg.SessionDSN, "session store DSN: memory, SQLite path, bolt:// path or PostgreSQL DSN (overrides $SESSION_DSN)")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error (overrides $LOG_LEVEL)")

	root.AddCommand(
		newServeCmd(cfg),
		newChatCmd(cfg),
		newVehiclesCmd(cfg),
		newChartCmd(cfg),
	)
	return root
}

// initializeLogger sets up structured logging at the configured level.
func initializeLogger(w io.Writer, level string) error {
	l, err := parseLogLevel(level)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
	slog.SetDefault(logger)
	return nil
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(cfg *Config, sessions api.SessionCounter) []api.Option {
	var apiOpts []api.Option
	if cfg.APIAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(cfg.APIAddr))
	}
	if sessions != nil {
		apiOpts = append(apiOpts, api.WithSessionCounter(sessions))
	}
	return apiOpts
}
