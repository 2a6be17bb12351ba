package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/CarPulse/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// Ensure the services implement the Service interface
func TestServicesImplementService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
	var _ Service = (*TwilioService)(nil)
	var _ Service = (*TelegramService)(nil)
	var _ Service = (*ConsoleService)(nil)
}

func TestWhatsAppService_Send(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	ctx := context.Background()

	if err := svc.SendMessage(ctx, "+1 555 123 4567", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if err := svc.SendChoices(ctx, "15551234567", "Choose a car:", []string{"BMW X5", "Cancel"}); err != nil {
		t.Fatalf("SendChoices returned error: %v", err)
	}
	if err := svc.SendImage(ctx, "15551234567", []byte{1, 2, 3}, "BMW_X5_price_chart.png", "Price chart"); err != nil {
		t.Fatalf("SendImage returned error: %v", err)
	}

	sent := mockClient.Messages()
	if len(sent) != 3 {
		t.Fatalf("expected 3 sent messages, got %d", len(sent))
	}
	if sent[0].To != "15551234567" {
		t.Errorf("expected canonical recipient, got %q", sent[0].To)
	}
	if sent[1].Body != "Choose a car:\n1. BMW X5\n2. Cancel" {
		t.Errorf("unexpected choices body: %q", sent[1].Body)
	}
	if len(sent[2].Image) != 3 || sent[2].Caption != "Price chart" {
		t.Errorf("unexpected image message: %+v", sent[2])
	}

	if err := svc.SendMessage(ctx, "12", "x"); err == nil {
		t.Error("expected validation error for short number")
	}
}

// Test Start and Stop do not error and close channels
func TestWhatsAppService_StartStop(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	response, ok := <-svc.Responses()
	if ok {
		t.Errorf("expected responses channel closed, got value %v", response)
	}
	if err := svc.SendMessage(context.Background(), "15551234567", "late"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func incomingMessage(user string, msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Sender: types.NewJID(user, types.DefaultUserServer),
				Chat:   types.NewJID(user, types.DefaultUserServer),
			},
			Timestamp: time.Unix(1700000000, 0),
		},
		Message: msg,
	}
}

func TestWhatsAppService_HandleIncomingMessage(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	svc.handleEvent(incomingMessage("15551234567", &waE2E.Message{Conversation: proto.String("/start")}))
	svc.handleEvent(incomingMessage("15551234567", &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("2")},
	}))
	svc.handleEvent(incomingMessage("15551234567", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}))

	own := incomingMessage("15551234567", &waE2E.Message{Conversation: proto.String("echo")})
	own.Info.IsFromMe = true
	svc.handleEvent(own)
	svc.handleEvent(&events.Connected{})

	svc.Stop()
	var got []string
	for r := range svc.Responses() {
		if r.From != "15551234567" || r.Time != 1700000000 {
			t.Errorf("unexpected response metadata: %+v", r)
		}
		got = append(got, r.Body)
	}
	if len(got) != 2 || got[0] != "/start" || got[1] != "2" {
		t.Errorf("expected text messages only, got %v", got)
	}
}
