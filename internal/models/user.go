package models

// User represents a MovieSquad account as the backend reports it.
type User struct {
	ID             string `json:"_id"`
	Username       string `json:"username"`
	Email          string `json:"email,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
	Bio            string `json:"bio,omitempty"`
	IsOnline       bool   `json:"isOnline,omitempty"`
}

// Profile is the public view of a user, as returned by /api/user/profile/:id.
type Profile struct {
	User           User     `json:"user"`
	FavoriteGenres []string `json:"favoriteGenres,omitempty"`
	FavoriteMovies []Movie  `json:"favoriteMovies,omitempty"`
	FriendCount    int      `json:"friendCount"`
	PostCount      int      `json:"postCount"`
}
