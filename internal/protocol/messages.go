package protocol

import (
	"encoding/json"

	"github.com/koraltal167/moviesquad/internal/models"
)

// MessageType identifies the type of WebSocket frame.
type MessageType string

const (
	// Client -> Server
	TypeAuth        MessageType = "auth"
	TypeJoin        MessageType = "join"
	TypeSendMessage MessageType = "send_message"
	TypeTyping      MessageType = "typing"
	TypeStopTyping  MessageType = "stop_typing"

	// Server -> Client
	TypeAuthOK     MessageType = "auth_ok"
	TypeJoined     MessageType = "joined"
	TypeHistory    MessageType = "history"
	TypeMessage    MessageType = "message"
	TypePeerTyping MessageType = "peer_typing"
	TypePeerStop   MessageType = "peer_stop_typing"
	TypeError      MessageType = "error"
)

// Envelope wraps all WebSocket frames with a type field.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AuthMessage is sent by the client as the first frame of a session.
type AuthMessage struct {
	Token string `json:"token"`
}

// JoinMessage requests history and live delivery for the conversation
// with another user.
type JoinMessage struct {
	UserID string `json:"user_id"`
}

// SendMessageMessage dispatches a direct message.
type SendMessageMessage struct {
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
}

// TypingMessage is the advisory typing / stop-typing signal.
type TypingMessage struct {
	RecipientID string `json:"recipient_id"`
}

// AuthOKMessage is sent by the server after successful authentication.
type AuthOKMessage struct {
	User models.User `json:"user"`
}

// JoinedMessage confirms a join request.
type JoinedMessage struct {
	ChatIdentifier string `json:"chat_identifier"`
}

// HistoryMessage carries the stored messages of one conversation.
type HistoryMessage struct {
	ChatIdentifier string           `json:"chat_identifier"`
	Messages       []models.Message `json:"messages"`
}

// MessageMessage is sent by the server when a new message arrives.
type MessageMessage struct {
	Message models.Message `json:"message"`
}

// PeerTypingMessage reports the remote participant's typing state.
type PeerTypingMessage struct {
	ChatIdentifier string `json:"chat_identifier"`
	UserID         string `json:"user_id"`
}

// ErrorMessage is sent by the server when a request is refused.
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidMsg   = "invalid_message"
	ErrCodeInternal     = "internal_error"
)

// NewEnvelope creates an envelope with the given type and data.
func NewEnvelope(msgType MessageType, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type: msgType,
		Data: raw,
	}, nil
}

// ParseEnvelope parses a JSON frame into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Encode marshals an envelope for the wire.
func Encode(msgType MessageType, data interface{}) ([]byte, error) {
	env, err := NewEnvelope(msgType, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
