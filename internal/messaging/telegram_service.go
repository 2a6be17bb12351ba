package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CarPulse/internal/models"
	"github.com/BTreeMap/CarPulse/internal/telegram"
)

// Telegram polling defaults
const (
	DefaultTelegramPollTimeout = 30 // seconds, passed to getUpdates
	DefaultTelegramRetryDelay  = 3 * time.Second
)

// TelegramClient is the subset of the Bot API used by TelegramService.
type TelegramClient interface {
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendChoices(ctx context.Context, chatID int64, text string, labels []string) error
	SendPhoto(ctx context.Context, chatID int64, image []byte, filename, caption string) error
}

// TelegramService implements Service on top of the Telegram Bot API.
// Recipients are chat ids in decimal form.
type TelegramService struct {
	client      TelegramClient
	pollTimeout int
	retryDelay  time.Duration
	inbox       *inbox

	mu     sync.Mutex
	offset int64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTelegramService creates a TelegramService polling with the default timeouts.
func NewTelegramService(client TelegramClient) *TelegramService {
	return &TelegramService{
		client:      client,
		pollTimeout: DefaultTelegramPollTimeout,
		retryDelay:  DefaultTelegramRetryDelay,
		inbox:       newInbox("TelegramService"),
	}
}

// ValidateAndCanonicalizeRecipient checks that the recipient is a numeric chat id.
func (s *TelegramService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	trimmed := strings.TrimSpace(recipient)
	if trimmed == "" {
		return "", models.ErrEmptyRecipient
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", recipient, err)
	}
	return strconv.FormatInt(id, 10), nil
}

func (s *TelegramService) chatID(to string) (int64, error) {
	if s.inbox.isStopped() {
		return 0, ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(canonical, 10, 64)
}

// Start launches the long-polling loop.
func (s *TelegramService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("telegram service already started")
	}
	pollCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.poll(pollCtx)
	slog.Info("TelegramService polling started")
	return nil
}

// Stop ends polling and closes the responses channel.
func (s *TelegramService) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.inbox.stop()
	return nil
}

func (s *TelegramService) poll(ctx context.Context) {
	defer s.wg.Done()
	for ctx.Err() == nil {
		s.mu.Lock()
		offset := s.offset
		s.mu.Unlock()

		updates, err := s.client.GetUpdates(ctx, offset, s.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("TelegramService getUpdates failed", "error", err, "retry_in", s.retryDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retryDelay):
			}
			continue
		}
		for _, u := range updates {
			s.handleUpdate(u)
		}
	}
}

func (s *TelegramService) handleUpdate(u telegram.Update) {
	s.mu.Lock()
	if u.UpdateID >= s.offset {
		s.offset = u.UpdateID + 1
	}
	s.mu.Unlock()

	if u.Message == nil || strings.TrimSpace(u.Message.Text) == "" {
		slog.Debug("TelegramService ignoring update without text", "update_id", u.UpdateID)
		return
	}
	s.inbox.emit(models.Response{
		From: strconv.FormatInt(u.Message.Chat.ID, 10),
		Body: u.Message.Text,
		Time: u.Message.Date,
	})
}

// SendMessage sends a text message.
func (s *TelegramService) SendMessage(ctx context.Context, to string, body string) error {
	id, err := s.chatID(to)
	if err != nil {
		return err
	}
	return s.client.SendMessage(ctx, id, body)
}

// SendImage uploads the PNG as a photo.
func (s *TelegramService) SendImage(ctx context.Context, to string, image []byte, filename, caption string) error {
	id, err := s.chatID(to)
	if err != nil {
		return err
	}
	return s.client.SendPhoto(ctx, id, image, filename, caption)
}

// SendChoices sends the prompt with an inline keyboard of the labels.
func (s *TelegramService) SendChoices(ctx context.Context, to string, prompt string, labels []string) error {
	id, err := s.chatID(to)
	if err != nil {
		return err
	}
	return s.client.SendChoices(ctx, id, prompt, labels)
}

// Responses returns the channel of inbound messages.
func (s *TelegramService) Responses() <-chan models.Response {
	return s.inbox.responses
}
