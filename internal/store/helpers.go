package store

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/CarPulse/internal/models"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// encodeList renders a string list as a JSON array for storage.
// A nil list is stored as an empty array.
func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(b), nil
}

// decodeList parses a JSON array written by encodeList.
func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("failed to decode list: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list, nil
}

// scanSession scans a session row laid out as
// user_id, state, intent, selection, offered, created_at, updated_at.
func scanSession(row rowScanner) (models.Session, error) {
	var s models.Session
	var state, intent, selection, offered string
	if err := row.Scan(&s.UserID, &state, &intent, &selection, &offered, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return s, err
	}
	s.State = models.StateType(state)
	s.Intent = models.Intent(intent)

	var err error
	if s.Selection, err = decodeList(selection); err != nil {
		slog.Error("scanSession selection decode failed", "error", err, "userID", s.UserID)
		return s, err
	}
	if s.Offered, err = decodeList(offered); err != nil {
		slog.Error("scanSession offered decode failed", "error", err, "userID", s.UserID)
		return s, err
	}
	return s, nil
}

// sessionColumns returns the encoded column values of a session in scanSession order.
func sessionColumns(s models.Session) ([]any, error) {
	selection, err := encodeList(s.Selection)
	if err != nil {
		return nil, err
	}
	offered, err := encodeList(s.Offered)
	if err != nil {
		return nil, err
	}
	return []any{s.UserID, string(s.State), string(s.Intent), selection, offered, s.CreatedAt, s.UpdatedAt}, nil
}
