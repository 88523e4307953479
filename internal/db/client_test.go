package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koraltal167/moviesquad/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCredentialsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	// Fresh database: not logged in.
	creds, err := s.Credentials()
	require.NoError(t, err)
	assert.Nil(t, creds)

	saved := Credentials{
		Token: "jwt-abc",
		User:  models.User{ID: "u1", Username: "alice", Email: "alice@example.com"},
	}
	require.NoError(t, s.SaveCredentials(saved))

	creds, err = s.Credentials()
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "jwt-abc", creds.Token)
	assert.Equal(t, "alice", creds.User.Username)
}

func TestSaveCredentialsReplacesPreviousLogin(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveCredentials(Credentials{Token: "old", User: models.User{ID: "u1"}}))
	require.NoError(t, s.SaveCredentials(Credentials{Token: "new", User: models.User{ID: "u2"}}))

	creds, err := s.Credentials()
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "new", creds.Token)
	assert.Equal(t, "u2", creds.User.ID)
}

func TestClearCredentials(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.ClearCredentials(), "clearing an empty store is fine")

	require.NoError(t, s.SaveCredentials(Credentials{Token: "t", User: models.User{ID: "u1"}}))
	require.NoError(t, s.ClearCredentials())

	creds, err := s.Credentials()
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestPreferences(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetPreference("theme")
	require.NoError(t, err)
	assert.Empty(t, v, "missing preference reads as empty")

	require.NoError(t, s.SetPreference("theme", "dark"))
	require.NoError(t, s.SetPreference("theme", "light"))

	v, err = s.GetPreference("theme")
	require.NoError(t, err)
	assert.Equal(t, "light", v)
}

func TestCachedMessagesChronologicalWithLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, content := range []string{"one", "two", "three"} {
		require.NoError(t, s.CacheMessage(models.Message{
			ID:             content,
			ChatIdentifier: "u1_u2",
			Sender:         models.User{ID: "u2", Username: "bob"},
			RecipientID:    "u1",
			Content:        content,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}
	// A message for another conversation never bleeds in.
	require.NoError(t, s.CacheMessage(models.Message{
		ID:             "other",
		ChatIdentifier: "u1_u3",
		RecipientID:    "u1",
		Content:        "other",
		CreatedAt:      base,
	}))

	msgs, err := s.CachedMessages("u1_u2", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"one", "two", "three"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})
	assert.Equal(t, "bob", msgs[0].Sender.Username)

	// The limit keeps the most recent entries, still chronological.
	msgs, err = s.CachedMessages("u1_u2", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "three", msgs[1].Content)
}

func TestCacheMessageIsIdempotentByID(t *testing.T) {
	s := newTestStore(t)
	msg := models.Message{
		ID:             "m1",
		ChatIdentifier: "u1_u2",
		RecipientID:    "u1",
		Content:        "once",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.CacheMessage(msg))
	require.NoError(t, s.CacheMessage(msg))

	msgs, err := s.CachedMessages("u1_u2", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestClearCachedMessages(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CacheMessage(models.Message{
		ID: "m1", ChatIdentifier: "u1_u2", RecipientID: "u1", Content: "bye", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.ClearCachedMessages("u1_u2"))

	msgs, err := s.CachedMessages("u1_u2", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
