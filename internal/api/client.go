package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/koraltal167/moviesquad/internal/models"
)

// ErrUnauthorized is returned when the backend rejects the token. Callers
// treat it as "session expired": clear credentials and force re-login.
var ErrUnauthorized = errors.New("unauthorized")

// Client is the REST client for the MovieSquad backend. The chat channel
// is separate (see internal/chat); this covers everything request/response.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a client for the given backend base URL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken installs the auth token used on subsequent requests. An empty
// token reverts the client to anonymous.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("x-auth-token", c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// Error is a non-401 backend rejection.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Body)
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Login authenticates with the backend and returns the session token.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	var resp AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates an account and returns the session token.
func (c *Client) Register(ctx context.Context, username, email, password string) (*AuthResponse, error) {
	var resp AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// MyConversations returns the current user's conversation list, most
// recently active first.
func (c *Client) MyConversations(ctx context.Context) ([]models.Conversation, error) {
	var convs []models.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations/me", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// PostInput is the payload for creating a post.
type PostInput struct {
	Content string        `json:"content"`
	Movie   *models.Movie `json:"movie,omitempty"`
	GroupID string        `json:"groupId,omitempty"`
}

// Posts returns the global feed.
func (c *Client) Posts(ctx context.Context) ([]models.Post, error) {
	var posts []models.Post
	if err := c.do(ctx, http.MethodGet, "/api/posts", nil, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// Post returns a single post.
func (c *Client) Post(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	if err := c.do(ctx, http.MethodGet, "/api/posts/"+url.PathEscape(id), nil, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// CreatePost publishes a new post.
func (c *Client) CreatePost(ctx context.Context, in PostInput) (*models.Post, error) {
	var post models.Post
	if err := c.do(ctx, http.MethodPost, "/api/posts", in, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// UpdatePost edits a post's content.
func (c *Client) UpdatePost(ctx context.Context, id, content string) (*models.Post, error) {
	var post models.Post
	err := c.do(ctx, http.MethodPut, "/api/posts/"+url.PathEscape(id),
		map[string]string{"content": content}, &post)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// DeletePost removes a post.
func (c *Client) DeletePost(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/posts/"+url.PathEscape(id), nil, nil)
}

// AddComment appends a comment and returns the updated post.
func (c *Client) AddComment(ctx context.Context, postID, content string) (*models.Post, error) {
	var post models.Post
	err := c.do(ctx, http.MethodPost, "/api/posts/"+url.PathEscape(postID)+"/comments",
		map[string]string{"content": content}, &post)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// DeleteComment removes a comment from a post.
func (c *Client) DeleteComment(ctx context.Context, postID, commentID string) error {
	path := "/api/posts/" + url.PathEscape(postID) + "/comments/" + url.PathEscape(commentID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ToggleLike likes or unlikes a post and returns the updated post.
func (c *Client) ToggleLike(ctx context.Context, postID string) (*models.Post, error) {
	var post models.Post
	err := c.do(ctx, http.MethodPut, "/api/posts/"+url.PathEscape(postID)+"/like", nil, &post)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// GroupInput is the payload for creating or updating a group.
type GroupInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPrivate   bool   `json:"isPrivate"`
}

// Groups returns all visible groups.
func (c *Client) Groups(ctx context.Context) ([]models.Group, error) {
	var groups []models.Group
	if err := c.do(ctx, http.MethodGet, "/api/groups", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// Group returns a single group.
func (c *Client) Group(ctx context.Context, id string) (*models.Group, error) {
	var group models.Group
	if err := c.do(ctx, http.MethodGet, "/api/groups/"+url.PathEscape(id), nil, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// CreateGroup creates a group owned by the current user.
func (c *Client) CreateGroup(ctx context.Context, in GroupInput) (*models.Group, error) {
	var group models.Group
	if err := c.do(ctx, http.MethodPost, "/api/groups", in, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// UpdateGroup edits a group.
func (c *Client) UpdateGroup(ctx context.Context, id string, in GroupInput) (*models.Group, error) {
	var group models.Group
	if err := c.do(ctx, http.MethodPut, "/api/groups/"+url.PathEscape(id), in, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// DeleteGroup removes a group.
func (c *Client) DeleteGroup(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/groups/"+url.PathEscape(id), nil, nil)
}

// JoinGroup joins a public group.
func (c *Client) JoinGroup(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/groups/"+url.PathEscape(id)+"/join", nil, nil)
}

// LeaveGroup leaves a group.
func (c *Client) LeaveGroup(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/groups/"+url.PathEscape(id)+"/leave", nil, nil)
}

// RequestJoinGroup asks to join a private group.
func (c *Client) RequestJoinGroup(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/groups/"+url.PathEscape(id)+"/request-join", nil, nil)
}

// GroupRequests lists pending join requests for a group the current user
// administers.
func (c *Client) GroupRequests(ctx context.Context, id string) ([]models.User, error) {
	var users []models.User
	err := c.do(ctx, http.MethodGet, "/api/groups/"+url.PathEscape(id)+"/requests", nil, &users)
	if err != nil {
		return nil, err
	}
	return users, nil
}

// ApproveJoinRequest approves a pending join request.
func (c *Client) ApproveJoinRequest(ctx context.Context, groupID, userID string) error {
	path := "/api/groups/" + url.PathEscape(groupID) + "/requests/" + url.PathEscape(userID) + "/approve"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// RejectJoinRequest rejects a pending join request.
func (c *Client) RejectJoinRequest(ctx context.Context, groupID, userID string) error {
	path := "/api/groups/" + url.PathEscape(groupID) + "/requests/" + url.PathEscape(userID) + "/reject"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// RemoveMember removes a member from a group.
func (c *Client) RemoveMember(ctx context.Context, groupID, userID string) error {
	path := "/api/groups/" + url.PathEscape(groupID) + "/members/" + url.PathEscape(userID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// SetAdmin grants or revokes group admin for a member.
func (c *Client) SetAdmin(ctx context.Context, groupID, userID string, admin bool) error {
	path := "/api/groups/" + url.PathEscape(groupID) + "/members/" + url.PathEscape(userID) + "/admin"
	return c.do(ctx, http.MethodPut, path, map[string]bool{"isAdmin": admin}, nil)
}

// GroupPosts returns the posts of one group.
func (c *Client) GroupPosts(ctx context.Context, id string) ([]models.Post, error) {
	var posts []models.Post
	err := c.do(ctx, http.MethodGet, "/api/groups/"+url.PathEscape(id)+"/posts", nil, &posts)
	if err != nil {
		return nil, err
	}
	return posts, nil
}

// UserUpdate is the payload for editing the current user's profile.
type UserUpdate struct {
	Username       string `json:"username,omitempty"`
	Bio            string `json:"bio,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// Me returns the current user.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.do(ctx, http.MethodGet, "/api/user/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateMe edits the current user's profile.
func (c *Client) UpdateMe(ctx context.Context, in UserUpdate) (*models.User, error) {
	var user models.User
	if err := c.do(ctx, http.MethodPut, "/api/user/me", in, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateSettings replaces the current user's settings.
func (c *Client) UpdateSettings(ctx context.Context, settings map[string]interface{}) error {
	return c.do(ctx, http.MethodPut, "/api/user/me/settings", settings, nil)
}

// Friends returns the current user's friends.
func (c *Client) Friends(ctx context.Context) ([]models.User, error) {
	var friends []models.User
	if err := c.do(ctx, http.MethodGet, "/api/user/me/friends", nil, &friends); err != nil {
		return nil, err
	}
	return friends, nil
}

// RemoveFriend unfriends a user.
func (c *Client) RemoveFriend(ctx context.Context, friendID string) error {
	return c.do(ctx, http.MethodDelete, "/api/user/me/friends/"+url.PathEscape(friendID), nil, nil)
}

// FriendRequests lists pending friend requests addressed to the current
// user.
func (c *Client) FriendRequests(ctx context.Context) ([]models.FriendRequest, error) {
	var reqs []models.FriendRequest
	if err := c.do(ctx, http.MethodGet, "/api/user/friends/requests", nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// SendFriendRequest sends a friend request.
func (c *Client) SendFriendRequest(ctx context.Context, recipientID string) error {
	return c.do(ctx, http.MethodPost, "/api/user/friends/request",
		map[string]string{"recipientId": recipientID}, nil)
}

// AcceptFriendRequest accepts a pending friend request.
func (c *Client) AcceptFriendRequest(ctx context.Context, requestID string) error {
	return c.do(ctx, http.MethodPost, "/api/user/friends/accept",
		map[string]string{"requestId": requestID}, nil)
}

// RejectFriendRequest rejects a pending friend request.
func (c *Client) RejectFriendRequest(ctx context.Context, requestID string) error {
	return c.do(ctx, http.MethodPost, "/api/user/friends/reject",
		map[string]string{"requestId": requestID}, nil)
}

// Profile returns another user's public profile.
func (c *Client) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	if err := c.do(ctx, http.MethodGet, "/api/user/profile/"+url.PathEscape(userID), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// AddFavoriteMovie adds a movie to the current user's favorites.
func (c *Client) AddFavoriteMovie(ctx context.Context, movie models.Movie) error {
	return c.do(ctx, http.MethodPost, "/api/user/me/favorite-movies", movie, nil)
}

// RemoveFavoriteMovie removes a movie from the current user's favorites.
func (c *Client) RemoveFavoriteMovie(ctx context.Context, tmdbID int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/user/me/favorite-movies/%d", tmdbID), nil, nil)
}

// SearchUsers searches users by name or email.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]models.User, error) {
	var users []models.User
	path := "/api/user/search?q=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// SearchMovies searches TMDB through the backend proxy.
func (c *Client) SearchMovies(ctx context.Context, query string) ([]models.Movie, error) {
	var movies []models.Movie
	path := "/api/tmdb/search?query=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &movies); err != nil {
		return nil, err
	}
	return movies, nil
}
