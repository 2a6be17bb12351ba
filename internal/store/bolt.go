// This file implements a BoltDB-backed session store.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/CarPulse/internal/models"
	bolt "go.etcd.io/bbolt"
)

// DefaultBoltTimeout bounds how long opening waits for the file lock held by another process.
const DefaultBoltTimeout = 2 * time.Second

var sessionsBucket = []byte("sessions")

// BoltStore persists sessions as JSON values in a single BoltDB bucket.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the BoltDB file named by the DSN option.
func NewBoltStore(opts ...Option) (*BoltStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewBoltStore invoked", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("BoltStore path not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DSN), DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "path", cfg.DSN)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := bolt.Open(cfg.DSN, 0o600, &bolt.Options{Timeout: DefaultBoltTimeout})
	if err != nil {
		slog.Error("Failed to open BoltDB", "error", err, "path", cfg.DSN)
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(sessionsBucket)
		return e
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions bucket: %w", err)
	}
	slog.Debug("BoltStore opened", "path", cfg.DSN)
	return &BoltStore{db: db}, nil
}

// GetSession retrieves the session of a user, or nil if none is stored.
func (s *BoltStore) GetSession(ctx context.Context, userID string) (*models.Session, error) {
	var sess *models.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(sessionsBucket).Get([]byte(userID))
		if v == nil {
			return nil
		}
		var decoded models.Session
		if err := json.Unmarshal(v, &decoded); err != nil {
			return err
		}
		sess = &decoded
		return nil
	})
	if err != nil {
		slog.Error("BoltStore GetSession failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to load session for %s: %w", userID, err)
	}
	return sess, nil
}

// SaveSession stores or replaces the session of a user.
func (s *BoltStore) SaveSession(ctx context.Context, session models.Session) error {
	if session.UserID == "" {
		return models.ErrEmptyRecipient
	}
	enc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(session.UserID), enc)
	})
	if err != nil {
		slog.Error("BoltStore SaveSession failed", "error", err, "userID", session.UserID)
		return fmt.Errorf("failed to save session for %s: %w", session.UserID, err)
	}
	slog.Debug("BoltStore SaveSession succeeded", "userID", session.UserID, "state", session.State)
	return nil
}

// DeleteSession removes the session of a user.
func (s *BoltStore) DeleteSession(ctx context.Context, userID string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(userID))
	})
	if err != nil {
		slog.Error("BoltStore DeleteSession failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete session for %s: %w", userID, err)
	}
	return nil
}

// CountSessions returns the number of stored sessions.
func (s *BoltStore) CountSessions(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(sessionsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the BoltDB file.
func (s *BoltStore) Close() error {
	slog.Debug("Closing BoltDB")
	return s.db.Close()
}
