package models

import "time"

// Post is a feed entry, optionally attached to a movie and/or a group.
type Post struct {
	ID        string    `json:"_id"`
	Author    User      `json:"author"`
	Content   string    `json:"content"`
	Movie     *Movie    `json:"movie,omitempty"`
	GroupID   string    `json:"groupId,omitempty"`
	Likes     []string  `json:"likes,omitempty"` // user IDs
	Comments  []Comment `json:"comments,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Comment is a reply attached to a post.
type Comment struct {
	ID        string    `json:"_id"`
	Author    User      `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
