package messaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/CarPulse/internal/chart"
	"github.com/BTreeMap/CarPulse/internal/flow"
	"github.com/BTreeMap/CarPulse/internal/models"
	"github.com/BTreeMap/CarPulse/internal/store"
)

// recordingService is an in-memory Service that records deliveries.
type recordingService struct {
	mu        sync.Mutex
	sent      []string
	responses chan models.Response
	sendErr   error
}

func newRecordingService() *recordingService {
	return &recordingService{responses: make(chan models.Response, DefaultChannelBufferSize)}
}

func (s *recordingService) ValidateAndCanonicalizeRecipient(r string) (string, error) {
	if strings.TrimSpace(r) == "" {
		return "", models.ErrEmptyRecipient
	}
	return strings.TrimSpace(r), nil
}

func (s *recordingService) record(entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, entry)
	return nil
}

func (s *recordingService) SendMessage(ctx context.Context, to, body string) error {
	return s.record(to + " text: " + body)
}

func (s *recordingService) SendImage(ctx context.Context, to string, image []byte, filename, caption string) error {
	return s.record(to + " image: " + filename)
}

func (s *recordingService) SendChoices(ctx context.Context, to, prompt string, labels []string) error {
	return s.record(to + " choices: " + prompt + " [" + strings.Join(labels, "|") + "]")
}

func (s *recordingService) Start(ctx context.Context) error { return nil }

func (s *recordingService) Stop() error {
	close(s.responses)
	return nil
}

func (s *recordingService) Responses() <-chan models.Response { return s.responses }

func (s *recordingService) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type handlerFunc func(ctx context.Context, userID, text string) ([]models.Action, error)

func (f handlerFunc) Handle(ctx context.Context, userID, text string) ([]models.Action, error) {
	return f(ctx, userID, text)
}

func TestDispatcher_DeliversActionsInOrder(t *testing.T) {
	svc := newRecordingService()
	d := NewDispatcher(svc, handlerFunc(func(ctx context.Context, userID, text string) ([]models.Action, error) {
		return []models.Action{
			models.TextAction("one"),
			models.ImageAction([]byte{1}, "chart.png", "caption"),
			models.ChoicesAction("pick", "A", "B"),
		}, nil
	}))

	if err := d.ProcessResponse(context.Background(), models.Response{From: "u1", Body: "x"}); err != nil {
		t.Fatalf("ProcessResponse failed: %v", err)
	}
	want := []string{"u1 text: one", "u1 image: chart.png", "u1 choices: pick [A|B]"}
	got := svc.Sent()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDispatcher_SendsFailureNotice(t *testing.T) {
	svc := newRecordingService()
	d := NewDispatcher(svc, handlerFunc(func(ctx context.Context, userID, text string) ([]models.Action, error) {
		return nil, errors.New("store down")
	}))

	err := d.ProcessResponse(context.Background(), models.Response{From: "u1", Body: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	got := svc.Sent()
	if len(got) != 1 || got[0] != "u1 text: "+flow.MsgGenericFailure {
		t.Errorf("expected failure notice, got %v", got)
	}
}

func TestDispatcher_StopsAtDeliveryError(t *testing.T) {
	svc := newRecordingService()
	svc.sendErr = errors.New("transport down")
	d := NewDispatcher(svc, handlerFunc(func(ctx context.Context, userID, text string) ([]models.Action, error) {
		return []models.Action{models.TextAction("a"), models.TextAction("b")}, nil
	}))
	if err := d.ProcessResponse(context.Background(), models.Response{From: "u1", Body: "x"}); err == nil {
		t.Error("expected delivery error")
	}
}

func TestDispatcher_KeepsPerUserOrder(t *testing.T) {
	svc := newRecordingService()
	var mu sync.Mutex
	seen := map[string][]string{}
	d := NewDispatcher(svc, handlerFunc(func(ctx context.Context, userID, text string) ([]models.Action, error) {
		mu.Lock()
		seen[userID] = append(seen[userID], text)
		mu.Unlock()
		return nil, nil
	}))

	const perUser = 20
	for i := 0; i < perUser; i++ {
		for _, u := range []string{"alice", "bob", "carol"} {
			svc.responses <- models.Response{From: u, Body: fmt.Sprint(i)}
		}
	}
	svc.Stop()
	d.Run(context.Background())

	for _, u := range []string{"alice", "bob", "carol"} {
		if len(seen[u]) != perUser {
			t.Fatalf("user %s: expected %d messages, got %d", u, perUser, len(seen[u]))
		}
		for i, body := range seen[u] {
			if body != fmt.Sprint(i) {
				t.Errorf("user %s: message %d out of order: %s", u, i, body)
				break
			}
		}
	}
	if d.ActiveUsers() != 0 {
		t.Errorf("expected no active users after drain, got %d", d.ActiveUsers())
	}
}

func TestDispatcher_ConsoleConversation(t *testing.T) {
	catalog := store.NewCatalogStore(filepath.Join(t.TempDir(), "cars.txt"), models.DefaultPeriods())
	if report := catalog.LoadWithReport(); !report.Seeded {
		t.Fatalf("expected seeded catalog, got %+v", report)
	}
	engine := flow.NewEngine(catalog, chart.NewRenderer(catalog), flow.NewMockSessionManager())

	var out bytes.Buffer
	imageDir := t.TempDir()
	svc := NewConsoleService(strings.NewReader("/start\nPrice chart\nToyota Camry\nAll months\n"), &out, imageDir)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	NewDispatcher(svc, engine).Run(ctx)
	svc.Stop()

	text := out.String()
	if !strings.Contains(text, flow.MsgWelcome) {
		t.Errorf("expected welcome menu, got:\n%s", text)
	}
	if !strings.Contains(text, "[image: ") {
		t.Errorf("expected an image to be written, got:\n%s", text)
	}
}
