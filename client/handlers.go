package client

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/koraltal167/moviesquad/internal/api"
	"github.com/koraltal167/moviesquad/internal/auth"
	"github.com/koraltal167/moviesquad/internal/chat"
	"github.com/koraltal167/moviesquad/internal/config"
	"github.com/koraltal167/moviesquad/internal/db"
	"github.com/koraltal167/moviesquad/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler bridges the local UI to the chat session and the backend REST
// API. UI clients attach over a websocket and receive JSON state pushes;
// they are fan-out only, and a slow client is dropped rather than
// blocking the session.
type Handler struct {
	cfg *config.Config
	api *api.Client
	db  *db.Store
	log *zap.SugaredLogger

	mu      sync.Mutex
	session *chat.Session

	uiMu      sync.Mutex
	uiClients map[*uiClient]struct{}
	broadcast chan []byte
}

// uiClient is one attached UI websocket. Every write goes through its
// mutex: the broadcast loop and the per-connection reader both reply on
// the same conn, and gorilla allows only one concurrent writer.
type uiClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *uiClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *uiClient) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// NewHandler creates the UI bridge.
func NewHandler(cfg *config.Config, apiClient *api.Client, store *db.Store, log *zap.SugaredLogger) *Handler {
	h := &Handler{
		cfg:       cfg,
		api:       apiClient,
		db:        store,
		log:       log,
		uiClients: make(map[*uiClient]struct{}),
		broadcast: make(chan []byte, 256),
	}
	go h.runBroadcast()
	return h
}

// StartSavedSession resumes the chat session from persisted credentials,
// if any. Missing or expired credentials leave the daemon logged out; the
// UI then only gets the login surface.
func (h *Handler) StartSavedSession(ctx context.Context) error {
	creds, err := h.db.Credentials()
	if err != nil {
		return err
	}
	if creds == nil {
		h.log.Info("no saved credentials, waiting for login")
		return nil
	}
	if _, err := auth.Inspect(creds.Token); err != nil {
		h.log.Infow("discarding saved credentials", "err", err)
		return h.db.ClearCredentials()
	}
	return h.startSession(ctx, creds.User, creds.Token)
}

func (h *Handler) startSession(ctx context.Context, user models.User, token string) error {
	h.api.SetToken(token)

	conn := chat.NewConnector(h.cfg.Backend.SocketURL, h.cfg.Chat.ReconnectMaxElapsed, h.log)
	timeline := chat.NewTimeline(conn, h.cfg.Chat.TypingDebounce)
	sess := chat.NewSession(user, token, h.api, h.db, conn, timeline, h.log)
	sess.SetHistoryCacheLimit(h.cfg.Chat.HistoryCacheLimit)
	sess.SetNotify(h.pushEvent)
	sess.SetOnAuthExpired(func() {
		h.api.SetToken("")
		h.dropSession()
		h.broadcastJSON(map[string]interface{}{"type": "auth_expired"})
	})

	if err := sess.Start(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	h.session = sess
	h.mu.Unlock()
	return nil
}

func (h *Handler) currentSession() *chat.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

func (h *Handler) dropSession() {
	h.mu.Lock()
	sess := h.session
	h.session = nil
	h.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

// Shutdown tears down the chat session. Safe to call multiple times.
func (h *Handler) Shutdown() {
	h.dropSession()
}

func (h *Handler) runBroadcast() {
	for data := range h.broadcast {
		h.uiMu.Lock()
		for c := range h.uiClients {
			if err := c.write(data); err != nil {
				h.log.Debugw("dropping ui client", "id", c.id, "err", err)
				c.conn.Close()
				delete(h.uiClients, c)
			}
		}
		h.uiMu.Unlock()
	}
}

func (h *Handler) broadcastJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Errorw("failed to marshal ui push", "err", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full
	}
}

// pushEvent forwards applied session events to the UI.
func (h *Handler) pushEvent(ev chat.Event) {
	sess := h.currentSession()
	switch e := ev.(type) {
	case chat.Connected:
		h.broadcastJSON(map[string]interface{}{"type": "connection", "state": "connected"})
		if sess != nil {
			h.broadcastJSON(map[string]interface{}{"type": "conversations", "conversations": sess.Conversations()})
		}
	case chat.Disconnected:
		h.broadcastJSON(map[string]interface{}{
			"type": "connection", "state": "disconnected", "terminal": e.Terminal,
		})
	case chat.Reconnecting:
		h.broadcastJSON(map[string]interface{}{
			"type": "connection", "state": "connecting", "attempt": e.Attempt,
		})
	case chat.MessageReceived:
		h.broadcastJSON(map[string]interface{}{"type": "message", "message": e.Message})
		if sess != nil {
			h.broadcastJSON(map[string]interface{}{"type": "conversations", "conversations": sess.Conversations()})
		}
	case chat.HistoryReceived:
		h.broadcastJSON(map[string]interface{}{
			"type": "history", "chat_identifier": e.ChatIdentifier, "messages": e.Messages,
		})
	case chat.PeerTyping:
		kind := "typing"
		if e.Stopped {
			kind = "stop_typing"
		}
		h.broadcastJSON(map[string]interface{}{
			"type": kind, "chat_identifier": e.ChatIdentifier, "user_id": e.UserID,
		})
	case chat.ChatRejected:
		h.broadcastJSON(map[string]interface{}{"type": "error", "error": e.Reason, "code": e.Code})
	}
}

// HandleIndex serves the UI shell.
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, h.cfg.Listen.WebDir+"/index.html")
}

// HandleWebSocket accepts UI websocket connections.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("ui websocket upgrade failed", "err", err)
		return
	}

	c := &uiClient{id: uuid.New().String(), conn: conn}
	h.uiMu.Lock()
	h.uiClients[c] = struct{}{}
	h.uiMu.Unlock()

	h.sendInitialState(c)
	go h.handleUIMessages(c)
}

func (h *Handler) sendInitialState(c *uiClient) {
	sess := h.currentSession()
	if sess == nil {
		c.writeJSON(map[string]interface{}{"type": "logged_out"})
		return
	}
	c.writeJSON(map[string]interface{}{
		"type":          "state",
		"user":          sess.User(),
		"connection":    sess.ConnectionState().String(),
		"conversations": sess.Conversations(),
	})
}

func (h *Handler) handleUIMessages(c *uiClient) {
	defer func() {
		h.uiMu.Lock()
		delete(h.uiClients, c)
		h.uiMu.Unlock()
		c.conn.Close()
	}()

	for {
		var msg map[string]interface{}
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debugw("ui websocket closed", "id", c.id, "err", err)
			}
			return
		}
		h.handleUIMessage(c, msg)
	}
}

func (h *Handler) handleUIMessage(c *uiClient, msg map[string]interface{}) {
	msgType, _ := msg["type"].(string)
	sess := h.currentSession()
	if sess == nil {
		c.writeJSON(map[string]interface{}{"type": "error", "error": "not logged in"})
		return
	}

	switch msgType {
	case "select_conversation":
		chatID, _ := msg["chat_identifier"].(string)
		if err := sess.OpenConversation(chatID); err != nil {
			c.writeJSON(map[string]interface{}{"type": "error", "error": err.Error()})
		}

	case "new_conversation":
		userID, _ := msg["user_id"].(string)
		username, _ := msg["username"].(string)
		picture, _ := msg["profile_picture"].(string)
		if userID == "" {
			c.writeJSON(map[string]interface{}{"type": "error", "error": "missing user_id"})
			return
		}
		conv, err := sess.StartConversation(models.User{
			ID: userID, Username: username, ProfilePicture: picture,
		})
		if err != nil {
			c.writeJSON(map[string]interface{}{"type": "error", "error": err.Error()})
			return
		}
		h.broadcastJSON(map[string]interface{}{"type": "conversations", "conversations": sess.Conversations()})
		c.writeJSON(map[string]interface{}{"type": "conversation_opened", "conversation": conv})

	case "send_message":
		content, _ := msg["content"].(string)
		if _, err := sess.SendMessage(content); err != nil {
			c.writeJSON(map[string]interface{}{"type": "error", "error": err.Error()})
		}

	case "input":
		text, _ := msg["text"].(string)
		sess.Input(text)

	default:
		c.writeJSON(map[string]interface{}{"type": "error", "error": "unknown command"})
	}
}

// HandleSession implements login (POST) and logout (DELETE).
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		resp, err := h.api.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			status := http.StatusBadGateway
			if err == api.ErrUnauthorized {
				status = http.StatusUnauthorized
			}
			http.Error(w, err.Error(), status)
			return
		}
		if err := h.db.SaveCredentials(db.Credentials{Token: resp.Token, User: resp.User}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.dropSession()
		if err := h.startSession(context.Background(), resp.User, resp.Token); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"user": resp.User})

	case http.MethodDelete:
		h.dropSession()
		h.api.SetToken("")
		if err := h.db.ClearCredentials(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// HandlePreferences reads (GET) and writes (PUT) UI preferences in the
// local store.
func (h *Handler) HandlePreferences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "Missing key", http.StatusBadRequest)
			return
		}
		value, err := h.db.GetPreference(key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"value": value})

	case http.MethodPut:
		var req struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		if err := h.db.SetPreference(req.Key, req.Value); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// HandleUserSearch proxies the user search used by the new-conversation
// picker.
func (h *Handler) HandleUserSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "Missing q", http.StatusBadRequest)
		return
	}
	users, err := h.api.SearchUsers(r.Context(), q)
	if err != nil {
		status := http.StatusBadGateway
		if err == api.ErrUnauthorized {
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}
