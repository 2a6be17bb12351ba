// Package telegram is a minimal Telegram Bot API client for CarPulse.
//
// It long-polls getUpdates, sends text, photos and inline keyboards, and maps
// callback queries from keyboard buttons to plain text messages.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// API limits.
const (
	DefaultAPIBase   = "https://api.telegram.org"
	MaxMessageLength = 4096
	MaxCaptionLength = 1024
	// MaxCallbackData is the byte limit on inline button callback data.
	MaxCallbackData = 64
)

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	httpClient *http.Client
}

// BotURL returns the API base URL for a bot token.
func BotURL(token string) string {
	return DefaultAPIBase + "/bot" + token
}

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>").
func NewClient(apiBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase: strings.TrimRight(apiBase, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
}

// APIError is returned when Telegram answers with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s failed (%d): %s", e.Method, e.Code, e.Description)
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// User is the sender of a message.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// Message is the subset of a Telegram message CarPulse uses.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

// Update is an inbound event. Callback queries are delivered as messages
// whose Text is the button's callback data.
type Update struct {
	UpdateID int64
	Message  *Message
}

type rawUpdate struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *callbackQuery `json:"callback_query,omitempty"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	Message *Message `json:"message,omitempty"`
}

// InlineKeyboardButton is one button of an inline keyboard.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// InlineKeyboardMarkup is an inline keyboard attached to a message.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      int64                 `json:"chat_id"`
	Text        string                `json:"text"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// do executes a request and decodes the Telegram envelope.
func (c *Client) do(req *http.Request, method string) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}
	var tgResp Response
	if err := json.Unmarshal(body, &tgResp); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	if !tgResp.OK {
		return nil, &APIError{Method: method, Code: tgResp.ErrorCode, Description: tgResp.Description}
	}
	return tgResp.Result, nil
}

func (c *Client) postJSON(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method)
}

// GetUpdates calls the getUpdates API, long-polling for up to timeout seconds.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/getUpdates?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	result, err := c.do(req, "getUpdates")
	if err != nil {
		return nil, err
	}

	var raws []rawUpdate
	if err := json.Unmarshal(result, &raws); err != nil {
		return nil, fmt.Errorf("failed to parse getUpdates result: %w", err)
	}
	updates := make([]Update, 0, len(raws))
	for _, ru := range raws {
		if ru.Message != nil {
			updates = append(updates, Update{UpdateID: ru.UpdateID, Message: ru.Message})
			continue
		}
		if ru.CallbackQuery != nil && ru.CallbackQuery.Message != nil {
			msg := *ru.CallbackQuery.Message
			msg.Text = strings.TrimSpace(ru.CallbackQuery.Data)
			if msg.Date == 0 {
				msg.Date = time.Now().Unix()
			}
			updates = append(updates, Update{UpdateID: ru.UpdateID, Message: &msg})
			if err := c.answerCallbackQuery(ctx, ru.CallbackQuery.ID); err != nil {
				slog.Warn("telegram answerCallbackQuery failed", "error", err, "update_id", ru.UpdateID)
			}
			continue
		}
		// Still counts for the offset so the update is not redelivered.
		updates = append(updates, Update{UpdateID: ru.UpdateID})
	}
	return updates, nil
}

// SendMessage sends a text message to the given chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := c.postJSON(ctx, "sendMessage", sendMessageRequest{
		ChatID: chatID,
		Text:   truncate(text, MaxMessageLength),
	})
	return err
}

// SendChoices sends a prompt with one inline button per label. Pressing a
// button delivers the label back as the callback data, or its 1-based
// position when the label does not fit in MaxCallbackData bytes.
func (c *Client) SendChoices(ctx context.Context, chatID int64, text string, labels []string) error {
	keyboard := &InlineKeyboardMarkup{InlineKeyboard: make([][]InlineKeyboardButton, 0, len(labels))}
	for i, label := range labels {
		data := label
		if len(data) > MaxCallbackData {
			data = strconv.Itoa(i + 1)
		}
		keyboard.InlineKeyboard = append(keyboard.InlineKeyboard, []InlineKeyboardButton{{Text: label, CallbackData: data}})
	}
	_, err := c.postJSON(ctx, "sendMessage", sendMessageRequest{
		ChatID:      chatID,
		Text:        truncate(text, MaxMessageLength),
		ReplyMarkup: keyboard,
	})
	return err
}

// SendPhoto uploads an image as multipart form data.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, image []byte, filename, caption string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return err
	}
	if caption != "" {
		if err := mw.WriteField("caption", truncate(caption, MaxCaptionLength)); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("photo", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(image); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/sendPhoto", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	_, err = c.do(req, "sendPhoto")
	return err
}

func (c *Client) answerCallbackQuery(ctx context.Context, callbackID string) error {
	callbackID = strings.TrimSpace(callbackID)
	if callbackID == "" {
		return nil
	}
	_, err := c.postJSON(ctx, "answerCallbackQuery", map[string]string{"callback_query_id": callbackID})
	return err
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}

// SentMessage records an outbound call made through MockClient.
type SentMessage struct {
	ChatID   int64
	Text     string
	Choices  []string
	Image    []byte
	Filename string
}

// MockClient is an in-memory stand-in for Client used in tests.
// Each GetUpdates call returns the next queued batch, or blocks until the
// context is done once the queue is empty.
type MockClient struct {
	mu      sync.Mutex
	batches [][]Update
	Sent    []SentMessage
	Err     error
}

// NewMockClient creates a MockClient that returns the given update batches in order.
func NewMockClient(batches ...[]Update) *MockClient {
	return &MockClient{batches: batches}
}

func (m *MockClient) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	m.mu.Lock()
	if len(m.batches) > 0 {
		next := m.batches[0]
		m.batches = m.batches[1:]
		m.mu.Unlock()
		return next, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *MockClient) SendMessage(ctx context.Context, chatID int64, text string) error {
	return m.record(SentMessage{ChatID: chatID, Text: text})
}

func (m *MockClient) SendChoices(ctx context.Context, chatID int64, text string, labels []string) error {
	return m.record(SentMessage{ChatID: chatID, Text: text, Choices: append([]string(nil), labels...)})
}

func (m *MockClient) SendPhoto(ctx context.Context, chatID int64, image []byte, filename, caption string) error {
	return m.record(SentMessage{ChatID: chatID, Text: caption, Image: image, Filename: filename})
}

func (m *MockClient) record(msg SentMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, msg)
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.Sent...)
}
