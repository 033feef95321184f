package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/unifi/internal/models"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestStore(path string) (*Store, *clock) {
	c := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewStore(path)
	s.now = c.now
	return s, c
}

func TestStore_SaveAndExpire(t *testing.T) {
	s, c := newTestStore("")
	user := &models.User{ID: "u1", Name: "alice"}

	_, ok := s.Load()
	assert.False(t, ok)

	require.NoError(t, s.Save("tok", user))
	d, ok := s.Load()
	require.True(t, ok)
	assert.Equal(t, "tok", d.Token)
	assert.Equal(t, "u1", d.User.ID)
	assert.Equal(t, c.t.Add(Duration), d.ExpiresAt)

	c.t = c.t.Add(Duration)
	_, ok = s.Load()
	assert.True(t, ok, "still valid at the expiry instant")

	c.t = c.t.Add(time.Millisecond)
	_, ok = s.Load()
	assert.False(t, ok)
	assert.Zero(t, s.Remaining())
}

func TestStore_UpdateToken(t *testing.T) {
	s, c := newTestStore("")

	require.NoError(t, s.UpdateToken("ignored"))
	_, ok := s.Load()
	assert.False(t, ok, "no session to update")

	require.NoError(t, s.Save("old", &models.User{ID: "u1"}))
	c.t = c.t.Add(4 * 24 * time.Hour)
	require.NoError(t, s.UpdateToken("new"))

	d, ok := s.Load()
	require.True(t, ok)
	assert.Equal(t, "new", d.Token)
	assert.Equal(t, Duration, s.Remaining())
}

func TestStore_TokenlessSessionCleared(t *testing.T) {
	s, _ := newTestStore("")
	require.NoError(t, s.Save("", &models.User{ID: "u1"}))
	_, ok := s.Load()
	assert.False(t, ok)
}

func TestStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	s, _ := newTestStore(path)
	require.NoError(t, s.Save("tok", &models.User{ID: "u1"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, _ := newTestStore(path)
	d, ok := reopened.Load()
	require.True(t, ok)
	assert.Equal(t, "tok", d.Token)

	require.NoError(t, reopened.Clear())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s, _ := newTestStore(path)
	_, ok := s.Load()
	assert.False(t, ok)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "Expired"},
		{-time.Hour, "Expired"},
		{30 * time.Minute, "0 hour"},
		{time.Hour, "1 hour"},
		{5 * time.Hour, "5 hours"},
		{24 * time.Hour, "1 day 0 hour"},
		{Duration, "5 days 0 hour"},
		{2*24*time.Hour + 3*time.Hour + 10*time.Minute, "2 days 3 hours"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatRemaining(tt.d), tt.d.String())
	}
}
