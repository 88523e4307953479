package models

// Movie is a TMDB search result referenced by posts and favorites.
type Movie struct {
	TMDBID      int    `json:"tmdbId"`
	Title       string `json:"title"`
	PosterPath  string `json:"posterPath,omitempty"`
	ReleaseDate string `json:"releaseDate,omitempty"`
	Overview    string `json:"overview,omitempty"`
}
