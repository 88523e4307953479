package chat

import "github.com/koraltal167/moviesquad/internal/models"

// Event is the sealed union of everything the Connector can report.
// Consumers dispatch with a type switch.
type Event interface {
	event()
}

// Connected reports a successful, authenticated connection. Emitted once
// per attempt, including reconnects.
type Connected struct {
	User models.User
}

// AuthFailed reports that the backend rejected the token. Terminal: the
// Connector will not retry, and the session owner must invalidate the
// stored credentials.
type AuthFailed struct {
	Reason string
}

// Disconnected reports transport loss. Terminal is true when the
// reconnect schedule has been exhausted; otherwise a reconnect attempt
// follows.
type Disconnected struct {
	Err      error
	Terminal bool
}

// Reconnecting reports that a reconnect attempt is about to start.
type Reconnecting struct {
	Attempt int
}

// HistoryReceived carries the stored messages of one conversation, in
// chronological order.
type HistoryReceived struct {
	ChatIdentifier string
	Messages       []models.Message
}

// MessageReceived carries one live inbound or echoed outbound message.
type MessageReceived struct {
	Message models.Message
}

// PeerTyping reports the remote participant's typing state.
type PeerTyping struct {
	ChatIdentifier string
	UserID         string
	Stopped        bool
}

// ChatRejected is an application-level refusal from the server (for
// example a disallowed join). It does not tear down the connection.
type ChatRejected struct {
	Code   string
	Reason string
}

func (Connected) event()       {}
func (AuthFailed) event()      {}
func (Disconnected) event()    {}
func (Reconnecting) event()    {}
func (HistoryReceived) event() {}
func (MessageReceived) event() {}
func (PeerTyping) event()      {}
func (ChatRejected) event()    {}

// ConnectionState is the Connector's externally observable state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateAuthError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthError:
		return "auth_error"
	default:
		return "unknown"
	}
}
