package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestGetUpdates_MapsCallbackQueryToMessage(t *testing.T) {
	var answered bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/getUpdates":
			_, _ = io.WriteString(w, `{"ok":true,"result":[
				{"update_id":10,"message":{"message_id":1,"chat":{"id":123},"date":1700000000,"text":"/start"}},
				{"update_id":11,"callback_query":{"id":"cb-1","data":"Toyota Camry","message":{"chat":{"id":123},"date":1700000001}}},
				{"update_id":12}
			]}`)
		case "/answerCallbackQuery":
			answered = true
			_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	updates, err := c.GetUpdates(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("GetUpdates failed: %v", err)
	}
	if len(updates) != 3 {
		t.Fatalf("unexpected updates: %#v", updates)
	}
	if updates[0].Message.Text != "/start" {
		t.Errorf("unexpected text: %q", updates[0].Message.Text)
	}
	if updates[1].Message == nil || updates[1].Message.Text != "Toyota Camry" || updates[1].Message.Chat.ID != 123 {
		t.Fatalf("unexpected callback mapped message: %#v", updates[1].Message)
	}
	if updates[2].Message != nil || updates[2].UpdateID != 12 {
		t.Errorf("unsupported update should carry only its id: %#v", updates[2])
	}
	if !answered {
		t.Fatal("expected answerCallbackQuery to be called")
	}
}

func TestGetUpdates_ReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).GetUpdates(context.Background(), 0, 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 401 {
		t.Fatalf("expected APIError 401, got %v", err)
	}
}

func TestSendChoices_SendsInlineKeyboard(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sendMessage" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	if err := c.SendChoices(context.Background(), 123, "Choose the period for the chart:", []string{"3 months", "All months"}); err != nil {
		t.Fatalf("SendChoices failed: %v", err)
	}
	if !strings.Contains(gotBody, `"inline_keyboard"`) {
		t.Fatalf("expected inline keyboard payload, got: %s", gotBody)
	}
	if !strings.Contains(gotBody, `"callback_data":"3 months"`) || !strings.Contains(gotBody, `"callback_data":"All months"`) {
		t.Fatalf("expected label callback data, got: %s", gotBody)
	}

	long := "Mercedes-Benz AMG GT 63 S E Performance 4-Door Coupe Edition " + strings.Repeat("X", MaxCallbackData)
	if err := c.SendChoices(context.Background(), 123, "Choose a car:", []string{"Toyota Camry", long, "Cancel"}); err != nil {
		t.Fatalf("SendChoices with a long label failed: %v", err)
	}
	if !strings.Contains(gotBody, `"text":"`+long+`","callback_data":"2"`) {
		t.Errorf("expected position as callback data for the long label, got: %s", gotBody)
	}
	if !strings.Contains(gotBody, `"callback_data":"Toyota Camry"`) {
		t.Errorf("expected short labels to keep their callback data, got: %s", gotBody)
	}
}

func TestSendPhoto_UploadsMultipart(t *testing.T) {
	var gotCaption, gotChat, gotFilename string
	var gotImage []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sendPhoto" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotCaption = r.FormValue("caption")
		gotChat = r.FormValue("chat_id")
		f, hdr, err := r.FormFile("photo")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotFilename = hdr.Filename
		gotImage, _ = io.ReadAll(f)
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2*time.Second)
	img := []byte{0x89, 'P', 'N', 'G'}
	if err := c.SendPhoto(context.Background(), 42, img, "BMW_X5_price_chart.png", "Price chart for BMW X5 over all months"); err != nil {
		t.Fatalf("SendPhoto failed: %v", err)
	}
	if gotChat != "42" || gotCaption != "Price chart for BMW X5 over all months" || gotFilename != "BMW_X5_price_chart.png" {
		t.Errorf("unexpected form: chat=%q caption=%q filename=%q", gotChat, gotCaption, gotFilename)
	}
	if string(gotImage) != string(img) {
		t.Errorf("image bytes not uploaded intact")
	}
}

func TestTruncate(t *testing.T) {
	if truncate("héllo", 2) != "hé" {
		t.Error("truncate should count runes")
	}
	if truncate("ok", 10) != "ok" {
		t.Error("short strings are unchanged")
	}
}
