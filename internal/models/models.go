package models

import "errors"

// ActionType defines what kind of outbound message an Action carries.
type ActionType string

const (
	// ActionTypeText sends plain text.
	ActionTypeText ActionType = "text"
	// ActionTypeImage sends a PNG image with a caption.
	ActionTypeImage ActionType = "image"
	// ActionTypeChoices presents a prompt with selectable labels.
	ActionTypeChoices ActionType = "choices"
)

// Validation constants for outbound actions
const (
	// MaxChoiceLabelLength matches the smallest button payload limit among the supported transports.
	MaxChoiceLabelLength = 64
	// MaxTextLength defines the maximum allowed length for a text body
	MaxTextLength = 4096
)

// Error variables for action validation
var (
	ErrEmptyText       = errors.New("text action requires a body")
	ErrTextTooLong     = errors.New("text body exceeds maximum length")
	ErrEmptyImage      = errors.New("image action requires image data")
	ErrNoChoices       = errors.New("choices action requires at least one label")
	ErrChoiceTooLong   = errors.New("choice label exceeds maximum length")
	ErrInvalidAction   = errors.New("invalid action type")
	ErrEmptyRecipient  = errors.New("recipient cannot be empty")
	ErrEmptyChoiceText = errors.New("choice label cannot be empty")
)

// Action is one outbound message produced by the conversation engine.
type Action struct {
	Type     ActionType `json:"type"`
	Text     string     `json:"text,omitempty"`     // body for text, prompt for choices
	Image    []byte     `json:"-"`                  // PNG bytes for image actions
	Filename string     `json:"filename,omitempty"` // suggested file name for image actions
	Caption  string     `json:"caption,omitempty"`  // caption for image actions
	Choices  []string   `json:"choices,omitempty"`  // ordered labels for choice actions
}

// TextAction builds a plain text action.
func TextAction(text string) Action {
	return Action{Type: ActionTypeText, Text: text}
}

// ImageAction builds an image action.
func ImageAction(image []byte, filename, caption string) Action {
	return Action{Type: ActionTypeImage, Image: image, Filename: filename, Caption: caption}
}

// ChoicesAction builds a choice prompt action.
func ChoicesAction(prompt string, choices ...string) Action {
	return Action{Type: ActionTypeChoices, Text: prompt, Choices: choices}
}

// Validate checks that the action carries what its type requires.
func (a Action) Validate() error {
	switch a.Type {
	case ActionTypeText:
		if a.Text == "" {
			return ErrEmptyText
		}
		if len(a.Text) > MaxTextLength {
			return ErrTextTooLong
		}
	case ActionTypeImage:
		if len(a.Image) == 0 {
			return ErrEmptyImage
		}
	case ActionTypeChoices:
		if len(a.Choices) == 0 {
			return ErrNoChoices
		}
		for _, c := range a.Choices {
			if c == "" {
				return ErrEmptyChoiceText
			}
			if len(c) > MaxChoiceLabelLength {
				return ErrChoiceTooLong
			}
		}
	default:
		return ErrInvalidAction
	}
	return nil
}

// Response represents an incoming message from a user.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// API Response types for consistent JSON responses

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
