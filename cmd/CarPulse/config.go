package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/CarPulse/internal/api"
	"github.com/BTreeMap/CarPulse/internal/models"
	"github.com/BTreeMap/CarPulse/internal/scheduler"
	"github.com/BTreeMap/CarPulse/internal/store"
	"github.com/BTreeMap/CarPulse/internal/telegram"
	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CarPulse state data
	DefaultStateDir = "/var/lib/carpulse"
	// DefaultWhatsAppDBFileName is the default whatsmeow SQLite database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultChartDir is the directory, relative to the state dir, where the console writes charts
	DefaultChartDir = "charts"
	// DefaultTelegramRequestTimeout must exceed the long-poll timeout
	DefaultTelegramRequestTimeout = 45 * time.Second
)

// Transports accepted by the serve command.
const (
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
	TransportTelegram = "telegram"
	TransportNone     = "none"
)

// Config holds the process configuration. Values come from defaults, then
// .env and the environment, then command line flags.
type Config struct {
	StateDir string `env:"CARPULSE_STATE_DIR"`
	// CatalogFile defaults to <state dir>/cars.txt.
	CatalogFile string `env:"CATALOG_FILE"`
	// Periods are the price history labels, oldest first.
	Periods []string `env:"CARPULSE_PERIODS" envSeparator:","`
	// SessionDSN selects the session store; empty means in-memory.
	SessionDSN  string `env:"SESSION_DSN"`
	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL"`
	Transport   string `env:"CARPULSE_TRANSPORT"`
	APIAddr     string `env:"API_ADDR"`
	// PublicURL is the externally reachable base URL of the API server.
	PublicURL string        `env:"PUBLIC_URL"`
	MediaTTL  time.Duration `env:"MEDIA_TTL"`
	// MediaPruneSchedule is the cron expression for dropping expired hosted charts.
	MediaPruneSchedule string `env:"MEDIA_PRUNE_SCHEDULE"`
	// ChartDir is where the console writes charts, defaults to <state dir>/charts.
	ChartDir string `env:"CHART_DIR"`

	WhatsApp WhatsAppConfig
	Twilio   TwilioConfig
	Telegram TelegramConfig
}

// WhatsAppConfig configures the whatsmeow transport.
type WhatsAppConfig struct {
	DBDSN       string `env:"WHATSAPP_DB_DSN"`
	QROutput    string `env:"WHATSAPP_QR_OUTPUT"`
	NumericCode bool   `env:"WHATSAPP_NUMERIC_CODE"`
}

// TwilioConfig configures the Twilio WhatsApp transport.
type TwilioConfig struct {
	AccountSID string `env:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	FromNumber string `env:"TWILIO_FROM_NUMBER"`
}

// TelegramConfig configures the Telegram Bot API transport.
type TelegramConfig struct {
	Token          string        `env:"TELEGRAM_TOKEN"`
	APIBase        string        `env:"TELEGRAM_API_BASE"`
	RequestTimeout time.Duration `env:"TELEGRAM_REQUEST_TIMEOUT"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		StateDir:  DefaultStateDir,
		Periods:   append([]string(nil), models.DefaultPeriodLabels...),
		LogLevel:  "info",
		Transport: TransportWhatsApp,
		APIAddr:   api.DefaultAddr,
		MediaTTL:  api.DefaultMediaTTL,

		MediaPruneSchedule: scheduler.DefaultMediaPruneSchedule,
		Telegram: TelegramConfig{
			APIBase:        telegram.DefaultAPIBase,
			RequestTimeout: DefaultTelegramRequestTimeout,
		},
	}
}

// loadEnvironmentConfig loads configuration from the .env file and environment variables.
func loadEnvironmentConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	cfg := Defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	slog.Debug("environment variables loaded",
		"CARPULSE_STATE_DIR", cfg.StateDir,
		"CATALOG_FILE", cfg.CatalogFile,
		"CARPULSE_PERIODS", len(cfg.Periods),
		"SESSION_DSN_SET", cfg.SessionDSN != "",
		"DATABASE_URL_SET", cfg.DatabaseURL != "",
		"CARPULSE_TRANSPORT", cfg.Transport,
		"API_ADDR", cfg.APIAddr,
		"PUBLIC_URL", cfg.PublicURL,
		"TELEGRAM_TOKEN_SET", cfg.Telegram.Token != "",
		"TWILIO_ACCOUNT_SID_SET", cfg.Twilio.AccountSID != "")
	return cfg, nil
}

// resolve fills the values derived from the state directory. It runs after
// flags are parsed so that --state-dir moves every derived path.
func (c *Config) resolve() {
	if c.CatalogFile == "" {
		c.CatalogFile = filepath.Join(c.StateDir, store.DefaultCatalogFile)
	}
	if c.ChartDir == "" {
		c.ChartDir = filepath.Join(c.StateDir, DefaultChartDir)
	}
	if c.SessionDSN == "" && c.DatabaseURL != "" {
		c.SessionDSN = c.DatabaseURL
		slog.Debug("Using DATABASE_URL as SESSION_DSN", "dsn_set", true)
	}
	if c.WhatsApp.DBDSN == "" {
		c.WhatsApp.DBDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
}

// periods validates the configured period labels.
func (c *Config) periods() (models.Periods, error) {
	labels := make([]string, 0, len(c.Periods))
	for _, l := range c.Periods {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	p, err := models.NewPeriods(labels...)
	if err != nil {
		return models.Periods{}, fmt.Errorf("invalid periods: %w", err)
	}
	return p, nil
}

// telegramBotURL returns the Bot API base URL including the token.
func (c *Config) telegramBotURL() string {
	return strings.TrimRight(c.Telegram.APIBase, "/") + "/bot" + c.Telegram.Token
}

// parseLogLevel maps LOG_LEVEL onto a slog level.
func parseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}
