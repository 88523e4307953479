package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koraltal167/moviesquad/internal/models"
)

func newClient(srv *httptest.Server) *Client {
	return New(srv.URL, 5*time.Second)
}

func TestLoginSendsCredentialsAndDecodesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/auth/login", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice@example.com", body["email"])
		assert.Equal(t, "hunter2", body["password"])

		json.NewEncoder(w).Encode(AuthResponse{
			Token: "jwt-xyz",
			User:  models.User{ID: "u1", Username: "alice"},
		})
	}))
	defer srv.Close()

	resp, err := newClient(srv).Login(context.Background(), "alice@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "jwt-xyz", resp.Token)
	assert.Equal(t, "alice", resp.User.Username)
}

func TestTokenHeaderIsAttached(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("x-auth-token")
		json.NewEncoder(w).Encode(models.User{ID: "u1"})
	}))
	defer srv.Close()

	c := newClient(srv)
	_, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gotHeader, "anonymous client sends no token")

	c.SetToken("jwt-abc")
	_, err = c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jwt-abc", gotHeader)

	c.SetToken("")
	_, err = c.Me(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gotHeader, "clearing the token reverts to anonymous")
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newClient(srv).MyConversations(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestBackendErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "group not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newClient(srv).Group(context.Background(), "g1")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "group not found", apiErr.Body)
	assert.Contains(t, apiErr.Error(), "404")
}

func TestSearchUsersEncodesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/user/search", r.URL.Path)
		assert.Equal(t, "bob smith", r.URL.Query().Get("q"))
		json.NewEncoder(w).Encode([]models.User{{ID: "u2", Username: "bob"}})
	}))
	defer srv.Close()

	users, err := newClient(srv).SearchUsers(context.Background(), "bob smith")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Username)
}

func TestDeleteRequestsHaveNoResponseBody(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, newClient(srv).DeletePost(context.Background(), "p1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/api/posts/p1", gotPath)
}

func TestFriendRequestsDecodesList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/user/friends/requests", r.URL.Path)
		json.NewEncoder(w).Encode([]models.FriendRequest{{
			ID:   "fr1",
			From: models.User{ID: "u2", Username: "bob"},
		}})
	}))
	defer srv.Close()

	reqs, err := newClient(srv).FriendRequests(context.Background())
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "fr1", reqs[0].ID)
	assert.Equal(t, "bob", reqs[0].From.Username)
}

func TestContextCancellationAborts(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newClient(srv).Posts(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMyConversationsDecodesList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/conversations/me", r.URL.Path)
		json.NewEncoder(w).Encode([]models.Conversation{{
			ChatIdentifier:   "u1_u2",
			OtherParticipant: models.User{ID: "u2", Username: "bob"},
		}})
	}))
	defer srv.Close()

	convs, err := newClient(srv).MyConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "u1_u2", convs[0].ChatIdentifier)
	assert.Equal(t, "bob", convs[0].OtherParticipant.Username)
}
