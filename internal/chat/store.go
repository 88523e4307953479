package chat

import (
	"sync"

	"github.com/koraltal167/moviesquad/internal/models"
)

// Store is the in-memory projection of the current user's conversations,
// ordered most-recently-active first. It never holds two entries with the
// same chat identifier.
type Store struct {
	mu    sync.Mutex
	self  models.User
	order []string // chat identifiers, front = most recent
	byID  map[string]*models.Conversation
}

// NewStore creates an empty store for the given current user. The user is
// needed to derive the other participant when a conversation is
// synthesized from a message.
func NewStore(self models.User) *Store {
	return &Store{
		self: self,
		byID: make(map[string]*models.Conversation),
	}
}

// Load replaces the store contents with the server-fetched list, keeping
// the given order and dropping duplicates past the first occurrence.
func (s *Store) Load(initial []models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = s.order[:0]
	s.byID = make(map[string]*models.Conversation, len(initial))
	for i := range initial {
		conv := initial[i]
		if conv.ChatIdentifier == "" {
			continue
		}
		if _, ok := s.byID[conv.ChatIdentifier]; ok {
			continue
		}
		s.byID[conv.ChatIdentifier] = &conv
		s.order = append(s.order, conv.ChatIdentifier)
	}
}

// UpsertFromMessage applies a message to the store: the matching
// conversation gets the message as its last message and moves to the
// front, or a new conversation is synthesized when none exists. The other
// participant is derived by matching the message's sender and recipient
// against the current user. created reports whether an entry was added.
func (s *Store) UpsertFromMessage(msg models.Message) (conv models.Conversation, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := msg.ChatIdentifier
	if id == "" {
		id = models.ChatIdentifier(msg.Sender.ID, msg.RecipientID)
	}

	if existing, ok := s.byID[id]; ok {
		m := msg
		existing.LastMessage = &m
		s.moveToFront(id)
		return *existing, false
	}

	other := msg.Sender
	if msg.Sender.ID == s.self.ID {
		// Outbound echo: the other side is the recipient. The server
		// may not have attached a full user record, so fall back to a
		// bare reference, recovering the ID from the chat identifier
		// if the echo omitted the recipient.
		otherID := msg.RecipientID
		if otherID == "" {
			if a, b, ok := models.SplitChatIdentifier(id); ok {
				otherID = a
				if a == s.self.ID {
					otherID = b
				}
			}
		}
		other = models.User{ID: otherID}
	}
	m := msg
	c := models.Conversation{
		ChatIdentifier:   id,
		OtherParticipant: other,
		LastMessage:      &m,
		Participants:     []models.User{s.self, other},
	}
	s.byID[id] = &c
	s.order = append([]string{id}, s.order...)
	return c, true
}

// AddLocal inserts a conversation created by explicit user action. If an
// entry with the same chat identifier already exists, it is returned
// unchanged and nothing is inserted.
func (s *Store) AddLocal(conv models.Conversation) models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[conv.ChatIdentifier]; ok {
		return *existing
	}
	c := conv
	s.byID[c.ChatIdentifier] = &c
	s.order = append([]string{c.ChatIdentifier}, s.order...)
	return c
}

// MergeMissing appends conversations not yet present, preserving the
// order of existing entries. Used when the list is re-fetched while live
// events may already have updated the store.
func (s *Store) MergeMissing(convs []models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range convs {
		conv := convs[i]
		if conv.ChatIdentifier == "" {
			continue
		}
		if _, ok := s.byID[conv.ChatIdentifier]; ok {
			continue
		}
		s.byID[conv.ChatIdentifier] = &conv
		s.order = append(s.order, conv.ChatIdentifier)
	}
}

// Get returns the conversation with the given identifier, or false.
func (s *Store) Get(chatIdentifier string) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[chatIdentifier]
	if !ok {
		return models.Conversation{}, false
	}
	return *conv, true
}

// List returns the conversations, most recently active first.
func (s *Store) List() []models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

func (s *Store) moveToFront(id string) {
	for i, v := range s.order {
		if v == id {
			copy(s.order[1:i+1], s.order[:i])
			s.order[0] = id
			return
		}
	}
}
