package models

import "time"

// Message represents a direct message between two users. Messages are
// immutable once created; ordering within a conversation follows event
// arrival, not CreatedAt.
type Message struct {
	ID             string    `json:"_id"`
	ChatIdentifier string    `json:"chatIdentifier"`
	Sender         User      `json:"sender"`
	RecipientID    string    `json:"recipientId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}
