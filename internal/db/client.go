package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/koraltal167/moviesquad/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Store handles the client's local persistence: saved credentials,
// preferences, and a per-conversation message cache. It replaces the
// browser-storage session state of the web client with an explicit store.
type Store struct {
	db *sql.DB
}

// Credentials are the persisted login state. Their absence means
// "not logged in".
type Credentials struct {
	Token string
	User  models.User
}

// Open opens or creates the client database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_fk=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS credentials (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			token TEXT NOT NULL,
			user_json TEXT NOT NULL,
			saved_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS preferences (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS cached_messages (
			message_id TEXT PRIMARY KEY,
			chat_identifier TEXT NOT NULL,
			sender_json TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_cached_messages_chat
			ON cached_messages(chat_identifier, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveCredentials stores the login token and current user, replacing any
// previous login.
func (s *Store) SaveCredentials(creds Credentials) error {
	userJSON, err := json.Marshal(creds.User)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO credentials (id, token, user_json, saved_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			user_json = excluded.user_json,
			saved_at = excluded.saved_at
	`, creds.Token, string(userJSON), time.Now().UTC())
	return err
}

// Credentials returns the saved login, or nil if the user is not logged in.
func (s *Store) Credentials() (*Credentials, error) {
	var token, userJSON string
	err := s.db.QueryRow(`SELECT token, user_json FROM credentials WHERE id = 1`).
		Scan(&token, &userJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var creds Credentials
	creds.Token = token
	if err := json.Unmarshal([]byte(userJSON), &creds.User); err != nil {
		return nil, fmt.Errorf("corrupt saved user: %w", err)
	}
	return &creds, nil
}

// ClearCredentials removes the saved login. Safe to call when none exists.
func (s *Store) ClearCredentials() error {
	_, err := s.db.Exec(`DELETE FROM credentials WHERE id = 1`)
	return err
}

// GetPreference retrieves a preference value.
func (s *Store) GetPreference(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetPreference sets a preference value.
func (s *Store) SetPreference(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// CacheMessage caches a message locally.
func (s *Store) CacheMessage(msg models.Message) error {
	senderJSON, err := json.Marshal(msg.Sender)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO cached_messages
			(message_id, chat_identifier, sender_json, recipient_id, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ChatIdentifier, string(senderJSON), msg.RecipientID, msg.Content, msg.CreatedAt)
	return err
}

// CachedMessages retrieves the most recent cached messages for a
// conversation, in chronological order.
func (s *Store) CachedMessages(chatIdentifier string, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(`
		SELECT message_id, chat_identifier, sender_json, recipient_id, content, created_at
		FROM cached_messages
		WHERE chat_identifier = ?
		ORDER BY created_at DESC LIMIT ?
	`, chatIdentifier, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var senderJSON string
		if err := rows.Scan(&m.ID, &m.ChatIdentifier, &senderJSON, &m.RecipientID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(senderJSON), &m.Sender); err != nil {
			return nil, fmt.Errorf("corrupt cached sender: %w", err)
		}
		messages = append(messages, m)
	}
	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, rows.Err()
}

// ClearCachedMessages clears cached messages for a conversation.
func (s *Store) ClearCachedMessages(chatIdentifier string) error {
	_, err := s.db.Exec(`DELETE FROM cached_messages WHERE chat_identifier = ?`, chatIdentifier)
	return err
}
