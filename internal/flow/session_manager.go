package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/CarPulse/internal/models"
	"github.com/BTreeMap/CarPulse/internal/store"
)

// SessionManager loads and persists per-user conversation sessions.
type SessionManager interface {
	// Load returns the session of a user, or a fresh idle session if none is stored
	Load(ctx context.Context, userID string) (*models.Session, error)

	// Save persists the session; idle sessions with nothing pending are removed instead
	Save(ctx context.Context, session *models.Session) error

	// Clear removes any stored session of the user
	Clear(ctx context.Context, userID string) error
}

// StoreBasedSessionManager implements SessionManager using a SessionStore backend.
type StoreBasedSessionManager struct {
	store store.SessionStore
	now   func() time.Time
}

// NewStoreBasedSessionManager creates a new SessionManager backed by a SessionStore.
func NewStoreBasedSessionManager(st store.SessionStore) *StoreBasedSessionManager {
	slog.Debug("Creating StoreBasedSessionManager")
	return &StoreBasedSessionManager{store: st, now: time.Now}
}

// Load retrieves the session of a user.
func (sm *StoreBasedSessionManager) Load(ctx context.Context, userID string) (*models.Session, error) {
	sess, err := sm.store.GetSession(ctx, userID)
	if err != nil {
		slog.Error("SessionManager Load error", "error", err, "userID", userID)
		return nil, err
	}
	if sess == nil {
		slog.Debug("SessionManager Load not found, starting idle session", "userID", userID)
		return models.NewSession(userID, sm.now()), nil
	}
	if !models.IsValidState(sess.State) {
		slog.Warn("SessionManager Load found unknown state, resetting", "userID", userID, "state", sess.State)
		sess.Reset(sm.now())
	}
	slog.Debug("SessionManager Load found", "userID", userID, "state", sess.State, "selection", sess.Selection)
	return sess, nil
}

// Save persists the session or removes it when nothing is left to remember.
func (sm *StoreBasedSessionManager) Save(ctx context.Context, session *models.Session) error {
	if session.IsIdle() && len(session.Offered) == 0 {
		return sm.Clear(ctx, session.UserID)
	}
	if err := sm.store.SaveSession(ctx, *session); err != nil {
		slog.Error("SessionManager Save error", "error", err, "userID", session.UserID, "state", session.State)
		return err
	}
	slog.Debug("SessionManager Save succeeded", "userID", session.UserID, "state", session.State)
	return nil
}

// Clear removes the stored session of a user.
func (sm *StoreBasedSessionManager) Clear(ctx context.Context, userID string) error {
	if err := sm.store.DeleteSession(ctx, userID); err != nil {
		slog.Error("SessionManager Clear error", "error", err, "userID", userID)
		return err
	}
	slog.Debug("SessionManager Clear succeeded", "userID", userID)
	return nil
}
