package messaging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CarPulse/internal/models"
)

// ConsoleUser is the user id of the single console conversation.
const ConsoleUser = "console"

// ConsoleService implements Service over a line-oriented reader and writer.
// Images are written to a directory and announced on the output.
type ConsoleService struct {
	in       io.Reader
	out      io.Writer
	imageDir string
	inbox    *inbox

	outMu   sync.Mutex
	startMu sync.Mutex
	started bool
}

// NewConsoleService creates a console service reading from in and writing to out.
func NewConsoleService(in io.Reader, out io.Writer, imageDir string) *ConsoleService {
	return &ConsoleService{
		in:       in,
		out:      out,
		imageDir: imageDir,
		inbox:    newInbox("ConsoleService"),
	}
}

// ValidateAndCanonicalizeRecipient accepts any non-empty identifier.
func (s *ConsoleService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	trimmed := strings.TrimSpace(recipient)
	if trimmed == "" {
		return "", models.ErrEmptyRecipient
	}
	return trimmed, nil
}

// Start reads lines from the input until it ends or ctx is cancelled, then
// closes the responses channel. Sending stays possible until Stop.
func (s *ConsoleService) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return fmt.Errorf("console service already started")
	}
	s.started = true

	go func() {
		defer s.inbox.closeResponses()
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			s.inbox.emit(models.Response{From: ConsoleUser, Body: line, Time: time.Now().Unix()})
		}
		if err := scanner.Err(); err != nil {
			slog.Error("ConsoleService input error", "error", err)
		}
	}()
	return nil
}

// Stop closes the responses channel.
func (s *ConsoleService) Stop() error {
	s.inbox.stop()
	return nil
}

func (s *ConsoleService) write(text string) error {
	if s.inbox.isStopped() {
		return ErrServiceStopped
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	_, err := fmt.Fprintln(s.out, text)
	return err
}

// SendMessage prints the message.
func (s *ConsoleService) SendMessage(ctx context.Context, to string, body string) error {
	return s.write(body)
}

// SendImage writes the image into the image directory and prints its path.
func (s *ConsoleService) SendImage(ctx context.Context, to string, image []byte, filename, caption string) error {
	if s.inbox.isStopped() {
		return ErrServiceStopped
	}
	if err := os.MkdirAll(s.imageDir, 0755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	path := filepath.Join(s.imageDir, filepath.Base(filename))
	if err := os.WriteFile(path, image, 0644); err != nil {
		return fmt.Errorf("failed to write image %s: %w", path, err)
	}
	slog.Debug("ConsoleService image written", "path", path, "bytes", len(image))
	return s.write(fmt.Sprintf("[image: %s] %s", path, caption))
}

// SendChoices prints the prompt followed by a numbered list of the labels.
func (s *ConsoleService) SendChoices(ctx context.Context, to string, prompt string, labels []string) error {
	return s.write(FormatNumberedChoices(prompt, labels))
}

// Responses returns the channel of input lines.
func (s *ConsoleService) Responses() <-chan models.Response {
	return s.inbox.responses
}
