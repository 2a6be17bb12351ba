package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/CarPulse/internal/models"
	"github.com/BTreeMap/CarPulse/internal/twiliowhatsapp"
)

// TwilioSignatureHeader carries the request signature on Twilio webhooks.
const TwilioSignatureHeader = "X-Twilio-Signature"

// ErrNoMediaHost is returned when an image is sent through Twilio without a media host.
var ErrNoMediaHost = errors.New("twilio service has no media host for images")

// MediaHost publishes an image and returns a public URL Twilio can fetch it from.
type MediaHost interface {
	Host(image []byte, filename string) (string, error)
}

// TwilioOpts holds optional collaborators of the Twilio service.
type TwilioOpts struct {
	MediaHost MediaHost
	Validator *twiliowhatsapp.WebhookValidator
	PublicURL string // external base URL of the webhook, used for signature checks
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioOpts)

// WithMediaHost sets the host used to publish chart images.
func WithMediaHost(host MediaHost) TwilioOption {
	return func(o *TwilioOpts) {
		o.MediaHost = host
	}
}

// WithWebhookValidator enables signature validation of inbound webhooks.
// publicURL is the scheme and host Twilio uses to reach this server.
func WithWebhookValidator(v *twiliowhatsapp.WebhookValidator, publicURL string) TwilioOption {
	return func(o *TwilioOpts) {
		o.Validator = v
		o.PublicURL = strings.TrimRight(publicURL, "/")
	}
}

// TwilioService implements the Service interface using Twilio API
type TwilioService struct {
	client twiliowhatsapp.TwilioWhatsAppSender // Could be real Twilio client or MockClient
	opts   TwilioOpts
	inbox  *inbox
}

// NewTwilioService creates a new TwilioService. Inbound messages arrive
// through TwilioWebhookHandler.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &TwilioService{
		client: client,
		opts:   cfg,
		inbox:  newInbox("TwilioService"),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// The "whatsapp:" channel prefix and all other non-digits are removed.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone("TwilioService", recipient)
}

// Start is a no-op for Twilio; inbound traffic is pushed to the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.inbox.stop()
	return nil
}

// e164 returns the canonical number in the form Twilio expects.
func (s *TwilioService) e164(to string) (string, error) {
	if s.inbox.isStopped() {
		return "", ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return "", err
	}
	return "+" + canonical, nil
}

// SendMessage sends a message via Twilio
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	addr, err := s.e164(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, addr, body)
}

// SendImage publishes the image on the media host and sends its URL as a media message.
func (s *TwilioService) SendImage(ctx context.Context, to string, image []byte, filename, caption string) error {
	addr, err := s.e164(to)
	if err != nil {
		slog.Error("TwilioService SendImage validation error", "error", err, "to", to)
		return err
	}
	if s.opts.MediaHost == nil {
		return ErrNoMediaHost
	}
	url, err := s.opts.MediaHost.Host(image, filename)
	if err != nil {
		return fmt.Errorf("failed to host image %s: %w", filename, err)
	}
	slog.Debug("TwilioService hosted image", "to", addr, "filename", filename, "url", url)
	return s.client.SendMedia(ctx, addr, caption, url)
}

// SendChoices sends the prompt followed by a numbered list of the labels.
func (s *TwilioService) SendChoices(ctx context.Context, to string, prompt string, labels []string) error {
	return s.SendMessage(ctx, to, FormatNumberedChoices(prompt, labels))
}

// Responses returns the channel for incoming messages
func (s *TwilioService) Responses() <-chan models.Response {
	return s.inbox.responses
}

// webhookURL reconstructs the URL Twilio signed.
func (s *TwilioService) webhookURL(r *http.Request) string {
	if s.opts.PublicURL != "" {
		return s.opts.PublicURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// TwilioWebhookHandler handles inbound Twilio webhook requests.
// It parses incoming messages and emits them as models.Response into the Responses() channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Twilio webhook received")

	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.opts.Validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !s.opts.Validator.Validate(s.webhookURL(r), params, r.Header.Get(TwilioSignatureHeader)) {
			slog.Warn("Twilio webhook signature rejected", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || strings.TrimSpace(body) == "" {
		slog.Warn("Twilio webhook missing fields", "from", from, "body_length", len(body))
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	slog.Info("Inbound WhatsApp message from Twilio", "from", from, "body_length", len(body))
	s.inbox.emit(models.Response{From: from, Body: body, Time: time.Now().Unix()})

	// Replies are sent through the REST API, so the TwiML answer stays empty.
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "<Response></Response>")
}
