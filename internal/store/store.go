// Package store provides storage backends for CarPulse.
//
// It includes the flat-file vehicle catalog store and the conversation
// session stores (in-memory, SQLite, PostgreSQL and BoltDB).
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/CarPulse/internal/models"
)

// DSN types returned by DetectDSNType.
const (
	DSNTypeMemory   = "memory"
	DSNTypeSQLite   = "sqlite"
	DSNTypePostgres = "postgres"
	DSNTypeBolt     = "bolt"
)

// SessionStore persists conversation sessions keyed by user identifier.
// Get returns (nil, nil) when the user has no session.
type SessionStore interface {
	GetSession(ctx context.Context, userID string) (*models.Session, error)
	SaveSession(ctx context.Context, session models.Session) error
	DeleteSession(ctx context.Context, userID string) error
	CountSessions(ctx context.Context) (int, error)
	Close() error
}

// Opts holds configuration options for session stores.
type Opts struct {
	DSN string // database connection string or file path
}

// Option defines a configuration option for session stores.
type Option func(*Opts)

// WithDSN sets the connection string used by the session store.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return WithDSN(dsn)
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return WithDSN(dsn)
}

// WithBoltPath sets the BoltDB file path.
func WithBoltPath(path string) Option {
	return WithDSN(strings.TrimPrefix(path, "bolt://"))
}

// DetectDSNType classifies a connection string.
// An empty DSN or "memory" selects the in-memory store.
func DetectDSNType(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "" || dsn == DSNTypeMemory:
		return DSNTypeMemory
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), isKeyValueDSN(dsn):
		return DSNTypePostgres
	case strings.HasPrefix(dsn, "bolt://"), strings.HasSuffix(dsn, ".bolt"), strings.HasSuffix(dsn, ".bbolt"):
		return DSNTypeBolt
	default:
		return DSNTypeSQLite
	}
}

// isKeyValueDSN reports whether dsn looks like a libpq key=value connection string.
func isKeyValueDSN(dsn string) bool {
	if strings.Contains(dsn, "?") {
		return false
	}
	for _, key := range []string{"host=", "dbname=", "user="} {
		if strings.Contains(dsn, key) {
			return true
		}
	}
	return false
}

// NewSessionStore opens the session store matching the DSN type.
func NewSessionStore(dsn string) (SessionStore, error) {
	kind := DetectDSNType(dsn)
	slog.Debug("NewSessionStore selecting backend", "dsn_type", kind)
	switch kind {
	case DSNTypeMemory:
		return NewInMemoryStore(), nil
	case DSNTypePostgres:
		return NewPostgresStore(WithPostgresDSN(dsn))
	case DSNTypeBolt:
		return NewBoltStore(WithBoltPath(dsn))
	case DSNTypeSQLite:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	default:
		return nil, fmt.Errorf("unsupported session store DSN type %q", kind)
	}
}

// InMemoryStore keeps sessions in a process-local map.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
}

// NewInMemoryStore creates an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]models.Session)}
}

// GetSession returns a copy of the stored session.
func (s *InMemoryStore) GetSession(ctx context.Context, userID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	return sess.Clone(), nil
}

// SaveSession stores a copy of the session.
func (s *InMemoryStore) SaveSession(ctx context.Context, session models.Session) error {
	if session.UserID == "" {
		return models.ErrEmptyRecipient
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.UserID] = *session.Clone()
	return nil
}

// DeleteSession removes the session of a user. Deleting a missing session is not an error.
func (s *InMemoryStore) DeleteSession(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

// CountSessions returns the number of stored sessions.
func (s *InMemoryStore) CountSessions(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
