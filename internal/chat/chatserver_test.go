package chat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koraltal167/moviesquad/internal/models"
	"github.com/koraltal167/moviesquad/internal/protocol"
)

// stubServer is an in-process stand-in for the backend's chat endpoint.
// It speaks the real wire protocol: auth handshake first, then joins,
// sends, and typing signals. Messages sent by the client are echoed back
// as message frames, the way the real server confirms delivery to the
// sender.
type stubServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	validToken string
	user       models.User

	mu           sync.Mutex
	history      map[string][]models.Message
	historyDelay map[string]time.Duration
	conns        []*stubConn
	frames       chan stubFrame
}

type stubFrame struct {
	Type protocol.MessageType
	Data json.RawMessage
}

type stubConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *stubConn) write(msgType protocol.MessageType, data interface{}) error {
	raw, err := protocol.Encode(msgType, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func newStubServer(validToken string, user models.User) *stubServer {
	s := &stubServer{
		upgrader:     websocket.Upgrader{},
		validToken:   validToken,
		user:         user,
		history:      make(map[string][]models.Message),
		historyDelay: make(map[string]time.Duration),
		frames:       make(chan stubFrame, 64),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *stubServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *stubServer) close() {
	s.srv.Close()
}

// seedHistory installs stored messages served on join.
func (s *stubServer) seedHistory(chatID string, msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[chatID] = msgs
}

// delayHistory makes the history frame for one conversation lag, to
// simulate a slow fetch.
func (s *stubServer) delayHistory(chatID string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyDelay[chatID] = d
}

// dropActive closes the most recent connection server-side, simulating
// network loss.
func (s *stubServer) dropActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) > 0 {
		s.conns[len(s.conns)-1].conn.Close()
	}
}

// push sends a frame to the most recent connection, simulating a server
// push such as a message from the peer.
func (s *stubServer) push(msgType protocol.MessageType, data interface{}) {
	s.mu.Lock()
	var c *stubConn
	if len(s.conns) > 0 {
		c = s.conns[len(s.conns)-1]
	}
	s.mu.Unlock()
	if c != nil {
		c.write(msgType, data)
	}
}

// pushRaw sends raw bytes, for malformed-frame tests.
func (s *stubServer) pushRaw(data []byte) {
	s.mu.Lock()
	var c *stubConn
	if len(s.conns) > 0 {
		c = s.conns[len(s.conns)-1]
	}
	s.mu.Unlock()
	if c != nil {
		c.mu.Lock()
		c.conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
	}
}

// connCount returns how many connections the server has accepted.
func (s *stubServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *stubServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sc := &stubConn{conn: conn}

	// Auth is the first frame of every session.
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	env, err := protocol.ParseEnvelope(raw)
	if err != nil || env.Type != protocol.TypeAuth {
		conn.Close()
		return
	}
	var authMsg protocol.AuthMessage
	if err := json.Unmarshal(env.Data, &authMsg); err != nil || authMsg.Token != s.validToken {
		sc.write(protocol.TypeError, protocol.ErrorMessage{
			Code:    protocol.ErrCodeUnauthorized,
			Message: "invalid token",
		})
		conn.Close()
		return
	}
	sc.write(protocol.TypeAuthOK, protocol.AuthOKMessage{User: s.user})

	s.mu.Lock()
	s.conns = append(s.conns, sc)
	s.mu.Unlock()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.ParseEnvelope(raw)
		if err != nil {
			continue
		}
		select {
		case s.frames <- stubFrame{Type: env.Type, Data: env.Data}:
		default:
		}
		s.dispatch(sc, env)
	}
}

func (s *stubServer) dispatch(sc *stubConn, env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeJoin:
		var msg protocol.JoinMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		chatID := models.ChatIdentifier(s.user.ID, msg.UserID)

		s.mu.Lock()
		msgs := s.history[chatID]
		delay := s.historyDelay[chatID]
		s.mu.Unlock()

		sc.write(protocol.TypeJoined, protocol.JoinedMessage{ChatIdentifier: chatID})
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			sc.write(protocol.TypeHistory, protocol.HistoryMessage{
				ChatIdentifier: chatID,
				Messages:       msgs,
			})
		}()

	case protocol.TypeSendMessage:
		var msg protocol.SendMessageMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		m := models.Message{
			ID:             uuid.New().String(),
			ChatIdentifier: models.ChatIdentifier(s.user.ID, msg.RecipientID),
			Sender:         s.user,
			RecipientID:    msg.RecipientID,
			Content:        msg.Content,
			CreatedAt:      time.Now().UTC(),
		}
		s.mu.Lock()
		s.history[m.ChatIdentifier] = append(s.history[m.ChatIdentifier], m)
		s.mu.Unlock()
		sc.write(protocol.TypeMessage, protocol.MessageMessage{Message: m})
	}
}

// awaitFrame waits for the stub to receive a frame of the given type.
func (s *stubServer) awaitFrame(msgType protocol.MessageType, timeout time.Duration) (stubFrame, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case f := <-s.frames:
			if f.Type == msgType {
				return f, true
			}
		case <-deadline:
			return stubFrame{}, false
		}
	}
}

// collectEvents drains events from a connector into a recorder so tests
// can assert on what arrived.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	closed chan struct{}
}

func recordEvents(c *Connector) *eventRecorder {
	r := &eventRecorder{closed: make(chan struct{})}
	go func() {
		defer close(r.closed)
		for ev := range c.Events() {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// await waits until pred matches any recorded event.
func (r *eventRecorder) await(timeout time.Duration, pred func(Event) bool) (Event, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, ev := range r.snapshot() {
			if pred(ev) {
				return ev, true
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil, false
}
