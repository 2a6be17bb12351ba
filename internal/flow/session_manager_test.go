package flow

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/CarPulse/internal/models"
)

func TestSessionManagerLoadsFreshIdleSession(t *testing.T) {
	sm := NewMockSessionManager()
	sess, err := sm.Load(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.UserID != "u1" || !sess.IsIdle() {
		t.Errorf("unexpected session: %+v", sess)
	}
}

func TestSessionManagerSaveRemovesEmptyIdleSessions(t *testing.T) {
	ctx := context.Background()
	sm := NewMockSessionManager()
	sess := models.NewSession("u1", time.Now())
	sess.Transition(models.StateAwaitingFirstVehicle, time.Now())
	if err := sm.Save(ctx, sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, _ := sm.store.CountSessions(ctx); n != 1 {
		t.Fatalf("expected stored session, have %d", n)
	}

	sess.Reset(time.Now())
	if err := sm.Save(ctx, sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, _ := sm.store.CountSessions(ctx); n != 0 {
		t.Errorf("idle session without offered choices should be removed, have %d", n)
	}
}

func TestSessionManagerResetsUnknownState(t *testing.T) {
	ctx := context.Background()
	sm := NewMockSessionManager()
	if err := sm.store.SaveSession(ctx, models.Session{UserID: "u1", State: "LEGACY", Selection: []string{"x"}}); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	sess, err := sm.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sess.IsIdle() || len(sess.Selection) != 0 {
		t.Errorf("expected reset session, got %+v", sess)
	}
}
