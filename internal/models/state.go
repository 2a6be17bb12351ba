// Per-user conversation sessions.

package models

import "time"

// MaxSelection is the number of vehicles a comparison collects.
const MaxSelection = 2

// Session represents the conversation state of one user.
type Session struct {
	UserID    string    `json:"user_id"`
	State     StateType `json:"state"`
	Intent    Intent    `json:"intent,omitempty"`
	Selection []string  `json:"selection,omitempty"` // vehicle names collected so far, in order
	Offered   []string  `json:"offered,omitempty"`   // choice labels last presented to the user
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates an idle session for the given user.
func NewSession(userID string, now time.Time) *Session {
	return &Session{
		UserID:    userID,
		State:     StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsIdle reports whether the session has no flow in progress.
func (s *Session) IsIdle() bool {
	return s.State == StateIdle || s.State == ""
}

// Transition moves the session to a new state.
func (s *Session) Transition(to StateType, now time.Time) {
	s.State = to
	s.UpdatedAt = now
}

// Select appends a vehicle to the pending selection.
func (s *Session) Select(name string) {
	s.Selection = append(s.Selection, name)
}

// Reset returns the session to idle and discards any pending selection.
func (s *Session) Reset(now time.Time) {
	s.State = StateIdle
	s.Intent = IntentNone
	s.Selection = nil
	s.Offered = nil
	s.UpdatedAt = now
}

// Clone returns an independent copy of the session.
func (s *Session) Clone() *Session {
	out := *s
	out.Selection = append([]string(nil), s.Selection...)
	out.Offered = append([]string(nil), s.Offered...)
	return &out
}
