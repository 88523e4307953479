package models

import "strings"

// Conversation is a one-to-one messaging thread. ChatIdentifier is the
// dedup key: both participants derive the same value independently.
type Conversation struct {
	ChatIdentifier   string   `json:"chatIdentifier"`
	OtherParticipant User     `json:"otherParticipant"`
	LastMessage      *Message `json:"lastMessage"`
	Participants     []User   `json:"participants,omitempty"`
}

// ChatIdentifier computes the canonical conversation key for a pair of
// user IDs: the two IDs sorted lexicographically and joined with "_".
func ChatIdentifier(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}

// SplitChatIdentifier returns the two participant IDs encoded in a
// conversation key. The second return is false if the key is malformed.
func SplitChatIdentifier(id string) (string, string, bool) {
	a, b, ok := strings.Cut(id, "_")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// NewConversation builds the thread between the current user and another
// participant, with no messages yet.
func NewConversation(current, other User) Conversation {
	return Conversation{
		ChatIdentifier:   ChatIdentifier(current.ID, other.ID),
		OtherParticipant: other,
		Participants:     []User{current, other},
	}
}
