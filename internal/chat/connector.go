package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/koraltal167/moviesquad/internal/protocol"
)

var (
	// ErrEmptyMessage is returned when a send carries no content after
	// trimming. Rejected locally, nothing is emitted.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrNotConnected is returned for outbound operations without an
	// established connection.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyStarted is returned by Connect when a session is already
	// running. One session per Connector.
	ErrAlreadyStarted = errors.New("connector already started")
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 65536
	sendBuffer   = 256
	eventBuffer  = 64
)

// authError marks a server-side authentication rejection. Terminal.
type authError struct {
	reason string
}

func (e *authError) Error() string {
	return "authentication failed: " + e.reason
}

// Connector owns the chat websocket session: dialing, the auth handshake,
// read/write pumps, and reconnection with bounded backoff. Server frames
// are translated into the Event union consumed from Events().
type Connector struct {
	url        string
	dialer     *websocket.Dialer
	log        *zap.SugaredLogger
	maxElapsed time.Duration

	events chan Event

	mu      sync.Mutex
	state   ConnectionState
	conn    *websocket.Conn
	send    chan []byte
	joined  []string // other-user IDs to (re)join, in join order
	started bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewConnector creates a connector for the given websocket URL.
// maxElapsed caps the total time spent reconnecting after a network
// failure before the connector gives up.
func NewConnector(socketURL string, maxElapsed time.Duration, log *zap.SugaredLogger) *Connector {
	return &Connector{
		url:        socketURL,
		dialer:     &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		log:        log,
		maxElapsed: maxElapsed,
		events:     make(chan Event, eventBuffer),
		done:       make(chan struct{}),
		state:      StateDisconnected,
	}
}

// Events returns the stream of connection and chat events. The channel is
// closed when the session ends for good (disconnect, auth failure, or an
// exhausted reconnect schedule).
func (c *Connector) Events() <-chan Event {
	return c.events
}

// State returns the current connection state.
func (c *Connector) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the session with the given auth token. It returns
// immediately; the outcome of the attempt arrives on Events() as exactly
// one of Connected, AuthFailed, or Disconnected.
func (c *Connector) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()
	c.setState(StateConnecting)

	go c.run(ctx, token)
	return nil
}

// Disconnect releases the transport. Idempotent; safe to call at any
// point, including before Connect.
func (c *Connector) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Join requests message history and live delivery for the conversation
// with another user. Idempotent from the server's perspective; the pair
// is remembered so it is re-joined after a reconnect.
func (c *Connector) Join(otherUserID string) error {
	if otherUserID == "" {
		return fmt.Errorf("join: empty user id")
	}
	c.mu.Lock()
	if !containsString(c.joined, otherUserID) {
		c.joined = append(c.joined, otherUserID)
	}
	c.mu.Unlock()

	data, err := protocol.Encode(protocol.TypeJoin, protocol.JoinMessage{UserID: otherUserID})
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

// Send dispatches a message. Fire-and-forget: success means the frame was
// accepted for sending, not that it was delivered. Empty or
// whitespace-only content is rejected locally with ErrEmptyMessage.
func (c *Connector) Send(recipientID, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	data, err := protocol.Encode(protocol.TypeSendMessage, protocol.SendMessageMessage{
		RecipientID: recipientID,
		Content:     content,
	})
	if err != nil {
		return err
	}
	if err := c.enqueue(data); err != nil {
		return err
	}
	metricMessagesSent.Inc()
	return nil
}

// Typing sends the advisory typing signal. Best effort, no delivery
// guarantee.
func (c *Connector) Typing(recipientID string) {
	c.advisory(protocol.TypeTyping, recipientID)
}

// StopTyping sends the advisory stopped-typing signal. Best effort.
func (c *Connector) StopTyping(recipientID string) {
	c.advisory(protocol.TypeStopTyping, recipientID)
}

func (c *Connector) advisory(msgType protocol.MessageType, recipientID string) {
	data, err := protocol.Encode(msgType, protocol.TypingMessage{RecipientID: recipientID})
	if err != nil {
		return
	}
	if err := c.enqueue(data); err != nil {
		c.log.Debugw("advisory signal dropped", "type", msgType, "err", err)
	}
}

func (c *Connector) enqueue(data []byte) error {
	c.mu.Lock()
	send := c.send
	c.mu.Unlock()
	if send == nil {
		return ErrNotConnected
	}
	select {
	case send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (c *Connector) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	metricConnectionState.Set(float64(s))
}

func (c *Connector) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// emit delivers an event to the consumer. The connector is the only
// writer, so closing events at the end of run is safe.
func (c *Connector) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warnw("event buffer full, dropping event", "event", fmt.Sprintf("%T", ev))
	}
}

// run drives connect / reconnect until the session ends.
func (c *Connector) run(ctx context.Context, token string) {
	defer close(c.events)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = c.maxElapsed
	attempt := 0

	for {
		authed, err := c.runOnce(ctx, token)
		if c.closed() || ctx.Err() != nil {
			if c.State() != StateAuthError {
				c.setState(StateDisconnected)
			}
			return
		}

		var ae *authError
		if errors.As(err, &ae) {
			c.setState(StateAuthError)
			c.emit(AuthFailed{Reason: ae.reason})
			return
		}

		if authed {
			// The previous connection was healthy; start the
			// schedule over.
			bo.Reset()
			attempt = 0
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			c.setState(StateDisconnected)
			c.emit(Disconnected{Err: err, Terminal: true})
			return
		}

		c.setState(StateConnecting)
		c.emit(Disconnected{Err: err})
		attempt++
		c.emit(Reconnecting{Attempt: attempt})
		metricReconnects.Inc()
		c.log.Infow("reconnecting", "attempt", attempt, "wait", wait, "err", err)

		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		case <-c.done:
			c.setState(StateDisconnected)
			return
		case <-time.After(wait):
		}
	}
}

// runOnce performs one dial + auth handshake and, on success, pumps the
// connection until it drops. authed reports whether the handshake
// completed, which resets the backoff schedule.
func (c *Connector) runOnce(ctx context.Context, token string) (authed bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.url, err)
	}

	// Auth is the first frame of every session.
	data, err := protocol.Encode(protocol.TypeAuth, protocol.AuthMessage{Token: token})
	if err != nil {
		conn.Close()
		return false, err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return false, fmt.Errorf("send auth: %w", err)
	}

	// The first frame back decides the outcome of the attempt.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	_, first, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return false, fmt.Errorf("read auth reply: %w", err)
	}
	env, err := protocol.ParseEnvelope(first)
	if err != nil {
		conn.Close()
		return false, fmt.Errorf("parse auth reply: %w", err)
	}

	var authOK protocol.AuthOKMessage
	switch env.Type {
	case protocol.TypeAuthOK:
		if err := unmarshalData(env, &authOK); err != nil {
			conn.Close()
			return false, fmt.Errorf("parse auth_ok: %w", err)
		}
	case protocol.TypeError:
		var msg protocol.ErrorMessage
		if err := unmarshalData(env, &msg); err != nil {
			conn.Close()
			return false, fmt.Errorf("parse auth error: %w", err)
		}
		conn.Close()
		if msg.Code == protocol.ErrCodeUnauthorized {
			return false, &authError{reason: msg.Message}
		}
		return false, fmt.Errorf("server refused connection: [%s] %s", msg.Code, msg.Message)
	default:
		conn.Close()
		return false, fmt.Errorf("unexpected first frame %q", env.Type)
	}

	send := make(chan []byte, sendBuffer)
	c.mu.Lock()
	if c.closed() {
		c.mu.Unlock()
		conn.Close()
		return true, nil
	}
	c.conn = conn
	c.send = send
	joined := append([]string(nil), c.joined...)
	c.mu.Unlock()

	c.setState(StateConnected)
	metricConnects.Inc()
	c.emit(Connected{User: authOK.User})
	c.log.Infow("chat connected", "user", authOK.User.Username)

	// Restore joined conversations so history and live delivery resume
	// without UI action.
	for _, id := range joined {
		if data, err := protocol.Encode(protocol.TypeJoin, protocol.JoinMessage{UserID: id}); err == nil {
			select {
			case send <- data:
			default:
			}
		}
	}

	go c.writePump(conn, send)
	err = c.readPump(conn)

	c.mu.Lock()
	c.conn = nil
	c.send = nil
	c.mu.Unlock()
	conn.Close()
	return true, err
}

func (c *Connector) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := c.handleFrame(message); err != nil {
			return err
		}
	}
}

func (c *Connector) writePump(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleFrame translates one server frame into an event. Malformed
// payloads are logged and dropped; a bad frame never ends the session.
// The exception is an unauthorized error, which is terminal.
func (c *Connector) handleFrame(data []byte) error {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		metricDroppedFrames.Inc()
		c.log.Warnw("dropping unparseable frame", "err", err)
		return nil
	}

	switch env.Type {
	case protocol.TypeJoined:
		var msg protocol.JoinedMessage
		if err := unmarshalData(env, &msg); err != nil {
			c.dropFrame(env.Type, err)
			return nil
		}
		c.log.Debugw("joined conversation", "chat", msg.ChatIdentifier)

	case protocol.TypeHistory:
		var msg protocol.HistoryMessage
		if err := unmarshalData(env, &msg); err != nil {
			c.dropFrame(env.Type, err)
			return nil
		}
		c.emit(HistoryReceived{ChatIdentifier: msg.ChatIdentifier, Messages: msg.Messages})

	case protocol.TypeMessage:
		var msg protocol.MessageMessage
		if err := unmarshalData(env, &msg); err != nil {
			c.dropFrame(env.Type, err)
			return nil
		}
		metricMessagesReceived.Inc()
		c.emit(MessageReceived{Message: msg.Message})

	case protocol.TypePeerTyping, protocol.TypePeerStop:
		var msg protocol.PeerTypingMessage
		if err := unmarshalData(env, &msg); err != nil {
			c.dropFrame(env.Type, err)
			return nil
		}
		c.emit(PeerTyping{
			ChatIdentifier: msg.ChatIdentifier,
			UserID:         msg.UserID,
			Stopped:        env.Type == protocol.TypePeerStop,
		})

	case protocol.TypeError:
		var msg protocol.ErrorMessage
		if err := unmarshalData(env, &msg); err != nil {
			c.dropFrame(env.Type, err)
			return nil
		}
		if msg.Code == protocol.ErrCodeUnauthorized {
			return &authError{reason: msg.Message}
		}
		c.emit(ChatRejected{Code: msg.Code, Reason: msg.Message})

	default:
		metricDroppedFrames.Inc()
		c.log.Warnw("dropping frame of unknown type", "type", env.Type)
	}
	return nil
}

func (c *Connector) dropFrame(msgType protocol.MessageType, err error) {
	metricDroppedFrames.Inc()
	c.log.Warnw("dropping malformed frame", "type", msgType, "err", err)
}

func unmarshalData(env *protocol.Envelope, out interface{}) error {
	return json.Unmarshal(env.Data, out)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
