package models

import "time"

// FriendRequest is a pending friend request addressed to the current user.
type FriendRequest struct {
	ID        string    `json:"_id"`
	From      User      `json:"from"`
	CreatedAt time.Time `json:"createdAt"`
}
