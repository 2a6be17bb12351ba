package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/BTreeMap/CarPulse/internal/api"
	"github.com/BTreeMap/CarPulse/internal/messaging"
	"github.com/BTreeMap/CarPulse/internal/scheduler"
	"github.com/BTreeMap/CarPulse/internal/telegram"
	"github.com/BTreeMap/CarPulse/internal/twiliowhatsapp"
	"github.com/BTreeMap/CarPulse/internal/whatsapp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ErrPublicURLRequired is returned when Twilio is selected without a public URL for media.
var ErrPublicURLRequired = errors.New("twilio transport requires a public URL (set $PUBLIC_URL or --public-url)")

func newServeCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot on a messaging transport together with the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Transport, "transport", cfg.Transport, "messaging transport: whatsapp, twilio, telegram or none (overrides $CARPULSE_TRANSPORT)")
	f.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	f.StringVar(&cfg.PublicURL, "public-url", cfg.PublicURL, "public base URL of the API server (overrides $PUBLIC_URL)")
	f.StringVar(&cfg.WhatsApp.QROutput, "qr-output", cfg.WhatsApp.QROutput, "path to write the WhatsApp login QR code")
	f.BoolVar(&cfg.WhatsApp.NumericCode, "numeric-code", cfg.WhatsApp.NumericCode, "use a numeric WhatsApp login code instead of a QR code")
	f.StringVar(&cfg.WhatsApp.DBDSN, "whatsapp-db-dsn", cfg.WhatsApp.DBDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	return cmd
}

// runServe runs the transport, the dispatcher and the API server until ctx is cancelled.
func runServe(ctx context.Context, cfg *Config) error {
	slog.Info("Bootstrapping CarPulse", "transport", cfg.Transport)
	b, err := openBot(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	t, err := buildTransport(ctx, cfg)
	if err != nil {
		return err
	}
	apiOpts := append(buildAPIOptions(cfg, b.sessions), t.apiOpts...)
	server := api.NewServer(b.catalog, b.renderer, apiOpts...)

	if t.media != nil {
		sched := scheduler.NewScheduler()
		defer sched.Stop()
		if err := sched.AddPruneJob("media-prune", cfg.MediaPruneSchedule, t.media); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if t.svc != nil {
		if err := t.svc.Start(gctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		dispatcher := messaging.NewDispatcher(t.svc, b.engine)
		g.Go(func() error {
			dispatcher.Run(gctx)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return t.svc.Stop()
		})
	}
	g.Go(func() error {
		return server.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("CarPulse failed to run", "error", err)
		return err
	}
	slog.Info("CarPulse exited successfully")
	return nil
}

// transport is a configured messaging service together with what the API
// server needs to support it.
type transport struct {
	svc     messaging.Service // nil when serving the API only
	media   *api.MediaStore
	apiOpts []api.Option
}

// buildTransport creates the messaging service for the configured transport.
func buildTransport(ctx context.Context, cfg *Config) (transport, error) {
	switch cfg.Transport {
	case TransportWhatsApp:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(cfg)...)
		if err != nil {
			return transport{}, err
		}
		return transport{svc: messaging.NewWhatsAppService(client)}, nil

	case TransportTwilio:
		if cfg.PublicURL == "" {
			return transport{}, ErrPublicURLRequired
		}
		client, err := twiliowhatsapp.NewClient(buildTwilioOptions(cfg)...)
		if err != nil {
			return transport{}, err
		}
		media := api.NewMediaStore(cfg.PublicURL, cfg.MediaTTL)
		opts := []messaging.TwilioOption{messaging.WithMediaHost(media)}
		if cfg.Twilio.AuthToken != "" {
			opts = append(opts, messaging.WithWebhookValidator(twiliowhatsapp.NewWebhookValidator(cfg.Twilio.AuthToken), cfg.PublicURL))
		}
		svc := messaging.NewTwilioService(client, opts...)
		return transport{
			svc:   svc,
			media: media,
			apiOpts: []api.Option{
				api.WithMediaStore(media),
				api.WithTwilioWebhook(svc.TwilioWebhookHandler),
			},
		}, nil

	case TransportTelegram:
		if cfg.Telegram.Token == "" {
			return transport{}, errors.New("telegram transport requires $TELEGRAM_TOKEN")
		}
		client := telegram.NewClient(cfg.telegramBotURL(), cfg.Telegram.RequestTimeout)
		return transport{svc: messaging.NewTelegramService(client)}, nil

	case TransportNone:
		slog.Info("No messaging transport selected, serving the API only")
		return transport{}, nil

	default:
		return transport{}, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(cfg *Config) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if cfg.WhatsApp.QROutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.WhatsApp.QROutput))
	}
	if cfg.WhatsApp.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if cfg.WhatsApp.DBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(cfg.WhatsApp.DBDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio configuration options
func buildTwilioOptions(cfg *Config) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if cfg.Twilio.AccountSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(cfg.Twilio.AccountSID))
	}
	if cfg.Twilio.AuthToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(cfg.Twilio.AuthToken))
	}
	if cfg.Twilio.FromNumber != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(cfg.Twilio.FromNumber))
	}
	return opts
}
