package flow

import (
	"github.com/BTreeMap/CarPulse/internal/store"
)

// NewMockSessionManager creates a session manager backed by an in-memory store for testing
func NewMockSessionManager() *StoreBasedSessionManager {
	return NewStoreBasedSessionManager(store.NewInMemoryStore())
}
