// Package messaging connects the conversation engine to chat transports.
//
// Each transport implements Service. The Dispatcher consumes inbound
// responses, runs them through the engine and delivers the resulting actions.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CarPulse/internal/models"
)

// Constants shared by the messaging services
const (
	// DefaultChannelBufferSize defines the default buffer size for response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines how long an inbound response may wait for channel space
	DefaultChannelTimeout = 1 * time.Second
	// MinPhoneDigits is the shortest accepted phone number after canonicalization
	MinPhoneDigits = 6
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// The canonical form is also the stable user id handed to the engine.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendImage sends a PNG image with a caption.
	SendImage(ctx context.Context, to string, image []byte, filename, caption string) error

	// SendChoices presents a prompt with selectable labels.
	SendChoices(ctx context.Context, to string, prompt string, labels []string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the responses channel.
	Stop() error

	// Responses returns a channel of incoming user messages.
	Responses() <-chan models.Response
}

// FormatNumberedChoices renders a choice prompt as text for transports
// without native buttons. Users may reply with the number or the label.
func FormatNumberedChoices(prompt string, labels []string) string {
	var b strings.Builder
	b.WriteString(prompt)
	for i, label := range labels {
		fmt.Fprintf(&b, "\n%d. %s", i+1, label)
	}
	return b.String()
}

// canonicalPhone removes every non-digit and checks the remaining length.
func canonicalPhone(component, recipient string) (string, error) {
	if strings.TrimSpace(recipient) == "" {
		return "", models.ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}
	if canonical != recipient {
		slog.Debug(component+" canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// inbox is the responses channel of a service together with its stop state.
// The channel may close before the service stops, e.g. when console input ends,
// while outbound sends stay allowed until stop.
type inbox struct {
	component string
	mu        sync.RWMutex
	stopped   bool
	closed    bool
	responses chan models.Response
}

func newInbox(component string) *inbox {
	return &inbox{
		component: component,
		responses: make(chan models.Response, DefaultChannelBufferSize),
	}
}

func (b *inbox) isStopped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stopped
}

// emit forwards a response, dropping it if the channel stays full for DefaultChannelTimeout.
// It holds the read lock so that close cannot race with the send.
func (b *inbox) emit(response models.Response) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		slog.Warn(b.component+" dropping inbound response (service stopped)", "from", response.From)
		return false
	}
	select {
	case b.responses <- response:
		slog.Debug(b.component+" emitted inbound response", "from", response.From)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(b.component+" responses channel blocked, dropping message", "from", response.From, "timeout", DefaultChannelTimeout)
		return false
	}
}

// closeResponses closes the responses channel without stopping outbound sends.
func (b *inbox) closeResponses() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.responses)
	}
}

// stop marks the inbox stopped and closes the responses channel. It is idempotent.
func (b *inbox) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	if !b.closed {
		b.closed = true
		close(b.responses)
	}
	slog.Info(b.component + " stopped and channels closed")
}
