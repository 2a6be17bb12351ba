package api

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Media hosting defaults
const (
	DefaultMediaTTL      = 15 * time.Minute
	DefaultMaxMediaItems = 256
	mediaPathPrefix      = "/media/"
)

type mediaItem struct {
	image    []byte
	filename string
	expires  time.Time
}

// MediaStore keeps rendered charts in memory for a limited time so that
// transports fetching images by URL (Twilio) can download them.
type MediaStore struct {
	mu       sync.Mutex
	baseURL  string
	ttl      time.Duration
	maxItems int
	items    map[string]mediaItem
	now      func() time.Time
}

// NewMediaStore creates a media store whose URLs start with baseURL.
func NewMediaStore(baseURL string, ttl time.Duration) *MediaStore {
	if ttl <= 0 {
		ttl = DefaultMediaTTL
	}
	return &MediaStore{
		baseURL:  strings.TrimRight(baseURL, "/"),
		ttl:      ttl,
		maxItems: DefaultMaxMediaItems,
		items:    make(map[string]mediaItem),
		now:      time.Now,
	}
}

// Host stores the image and returns its public URL.
func (m *MediaStore) Host(image []byte, filename string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("cannot host empty image %q", filename)
	}
	if m.baseURL == "" {
		return "", fmt.Errorf("media store has no public base URL")
	}
	id := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	if len(m.items) >= m.maxItems {
		m.evictOldestLocked()
	}
	m.items[id] = mediaItem{
		image:    append([]byte(nil), image...),
		filename: filename,
		expires:  m.now().Add(m.ttl),
	}
	slog.Debug("MediaStore hosted image", "id", id, "filename", filename, "bytes", len(image))
	return m.baseURL + mediaPathPrefix + id, nil
}

// Get returns a hosted image that has not expired.
func (m *MediaStore) Get(id string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, "", false
	}
	if !m.now().Before(item.expires) {
		delete(m.items, id)
		return nil, "", false
	}
	return item.image, item.filename, true
}

// Len returns the number of stored images, expired ones included until pruned.
func (m *MediaStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Prune drops expired images and returns how many were removed.
func (m *MediaStore) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pruneLocked()
}

func (m *MediaStore) pruneLocked() int {
	now := m.now()
	removed := 0
	for id, item := range m.items {
		if !now.Before(item.expires) {
			delete(m.items, id)
			removed++
		}
	}
	return removed
}

func (m *MediaStore) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, item := range m.items {
		if oldestID == "" || item.expires.Before(oldest) {
			oldestID, oldest = id, item.expires
		}
	}
	if oldestID != "" {
		delete(m.items, oldestID)
	}
}
