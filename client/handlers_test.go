package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/koraltal167/moviesquad/internal/api"
	"github.com/koraltal167/moviesquad/internal/config"
	"github.com/koraltal167/moviesquad/internal/db"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.LoadFrom(dir)
	require.NoError(t, err)

	store, err := db.Open(filepath.Join(dir, "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(cfg, api.New("http://127.0.0.1:0", time.Second), store, zap.NewNop().Sugar())
	t.Cleanup(h.Shutdown)
	return h
}

// Session pushes and command replies land on the same UI connection from
// different goroutines; this hammers both paths at once. Run under the
// race detector it also proves the writes are serialized.
func TestUIWritesAreSerialized(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	const n = 200

	var mu sync.Mutex
	replies, pushes := 0, 0
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			mu.Lock()
			switch msg["type"] {
			case "error":
				replies++
			case "tick":
				pushes++
			}
			done := replies >= n && pushes >= n
			mu.Unlock()
			if done {
				return
			}
		}
	}()

	// Commands from the UI race broadcasts from the session side.
	go func() {
		for i := 0; i < n; i++ {
			conn.WriteJSON(map[string]interface{}{"type": "send_message", "content": "x"})
		}
	}()
	for i := 0; i < n; i++ {
		h.broadcastJSON(map[string]interface{}{"type": "tick"})
	}

	select {
	case <-readDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for replies and pushes")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, replies, n)
	assert.GreaterOrEqual(t, pushes, n)
}

func TestPreferencesRoundTrip(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandlePreferences))
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"key": "theme", "value": "dark"})
	req, err := http.NewRequest(http.MethodPut, srv.URL, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "?key=theme")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "dark", got["value"])
}

func TestPreferencesRejectsBadRequests(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandlePreferences))
	defer srv.Close()

	// Missing key on read.
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown key reads as empty, not an error.
	resp, err = http.Get(srv.URL + "?key=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Empty(t, got["value"])

	req, err := http.NewRequest(http.MethodPut, srv.URL, strings.NewReader("{not json"))
	require.NoError(t, err)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, srv.URL, nil)
	require.NoError(t, err)
	resp3, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp3.StatusCode)
}
