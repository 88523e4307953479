package models

import "time"

// Group is a discussion group. Admins and pending join requests are
// managed server-side; the client only renders them.
type Group struct {
	ID              string    `json:"_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	IsPrivate       bool      `json:"isPrivate"`
	Owner           User      `json:"owner"`
	Members         []User    `json:"members,omitempty"`
	AdminIDs        []string  `json:"admins,omitempty"`
	PendingRequests []User    `json:"pendingRequests,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}
