// Package session keeps a client's login between runs.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xtrntr/unifi/internal/models"
)

// Duration is how long a saved session stays valid without a token refresh
const Duration = 5 * 24 * time.Hour

// Data is a saved session
type Data struct {
	Token     string       `json:"token"`
	User      *models.User `json:"user"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// Store holds at most one session, in memory and optionally in a JSON file
type Store struct {
	mu     sync.Mutex
	path   string
	data   *Data
	loaded bool
	now    func() time.Time
}

// NewStore creates a store persisted at path. An empty path keeps the session in memory only.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Save replaces the session and starts a new validity period
func (s *Store) Save(token string, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = &Data{Token: token, User: user, ExpiresAt: s.now().Add(Duration)}
	s.loaded = true
	return s.persist()
}

// Load returns the current session. Expired or tokenless sessions are cleared
// and reported as absent.
func (s *Store) Load() (*Data, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (*Data, bool) {
	if !s.loaded {
		s.loaded = true
		s.data = s.read()
	}
	if s.data == nil {
		return nil, false
	}
	if s.data.Token == "" || s.now().After(s.data.ExpiresAt) {
		s.clear()
		return nil, false
	}
	d := *s.data
	return &d, true
}

// UpdateToken swaps in a refreshed token and extends the session. It does
// nothing when no valid session exists.
func (s *Store) UpdateToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.load(); !ok {
		return nil
	}
	s.data.Token = token
	s.data.ExpiresAt = s.now().Add(Duration)
	return s.persist()
}

// Clear drops the session
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clear()
}

func (s *Store) clear() error {
	s.data = nil
	s.loaded = true
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// Remaining is the validity left on the session, zero when there is none
func (s *Store) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.load()
	if !ok {
		return 0
	}
	return max(0, d.ExpiresAt.Sub(s.now()))
}

// FormatRemaining renders a validity period as days and hours
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "Expired"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	if days > 0 {
		return fmt.Sprintf("%d %s %d %s", days, plural("day", days), hours, plural("hour", hours))
	}
	return fmt.Sprintf("%d %s", hours, plural("hour", hours))
}

func plural(unit string, n int) string {
	if n > 1 {
		return unit + "s"
	}
	return unit
}

// read returns nil for a missing or corrupt file
func (s *Store) read() *Data {
	if s.path == "" {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		os.Remove(s.path)
		return nil
	}
	return &d
}

func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}
	raw, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}
