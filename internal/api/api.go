// Package api provides the HTTP server of CarPulse.
//
// It exposes the vehicle catalog as JSON, renders price charts as PNG, hosts
// chart images for transports that fetch media by URL and receives Twilio
// webhooks.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CarPulse/internal/models"
)

// Server defaults
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 5 * time.Second
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
)

// CatalogService is the catalog access the API needs.
type CatalogService interface {
	Snapshot() (models.Catalog, models.PriceHistory)
	Periods() models.Periods
	Upsert(v models.Vehicle, prices []int) error
}

// ChartRenderer renders a PNG price chart.
type ChartRenderer interface {
	Render(names []string, w models.Window) ([]byte, error)
}

// SessionCounter reports the number of stored conversation sessions.
type SessionCounter interface {
	CountSessions(ctx context.Context) (int, error)
}

// Opts holds optional server configuration.
type Opts struct {
	Addr          string
	Media         *MediaStore
	Sessions      SessionCounter
	TwilioWebhook http.HandlerFunc
}

// Option configures the Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithMediaStore enables GET /media/{id}.
func WithMediaStore(m *MediaStore) Option {
	return func(o *Opts) {
		o.Media = m
	}
}

// WithSessionCounter adds the session count to /health.
func WithSessionCounter(c SessionCounter) Option {
	return func(o *Opts) {
		o.Sessions = c
	}
}

// WithTwilioWebhook enables POST /webhook/twilio.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) {
		o.TwilioWebhook = h
	}
}

// Server serves the CarPulse HTTP API.
type Server struct {
	catalog  CatalogService
	renderer ChartRenderer
	opts     Opts
	mux      *http.ServeMux
}

// NewServer creates a server over the given catalog and renderer.
func NewServer(catalog CatalogService, renderer ChartRenderer, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		catalog:  catalog,
		renderer: renderer,
		opts:     cfg,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/vehicles", s.vehiclesHandler)
	s.mux.HandleFunc("/vehicles/", s.vehicleHandler)
	s.mux.HandleFunc("/chart", s.chartHandler)
	if s.opts.Media != nil {
		s.mux.HandleFunc(mediaPathPrefix, s.mediaHandler)
	}
	if s.opts.TwilioWebhook != nil {
		s.mux.HandleFunc("/webhook/twilio", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				methodNotAllowed(w, http.MethodPost)
				return
			}
			s.opts.TwilioWebhook(w, r)
		})
	}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.mux,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server.Run: shutdown failed", "error", err)
			return err
		}
		return nil
	}
}
