package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/koraltal167/moviesquad/internal/api"
	"github.com/koraltal167/moviesquad/internal/models"
)

// MessageCache is the slice of the local store the session reads and
// writes messages through. Nil-able via NoCache for tests.
type MessageCache interface {
	CacheMessage(msg models.Message) error
	CachedMessages(chatIdentifier string, limit int) ([]models.Message, error)
	ClearCachedMessages(chatIdentifier string) error
	ClearCredentials() error
}

// noCache satisfies MessageCache with no-ops.
type noCache struct{}

func (noCache) CacheMessage(models.Message) error { return nil }
func (noCache) CachedMessages(string, int) ([]models.Message, error) {
	return nil, nil
}
func (noCache) ClearCachedMessages(string) error { return nil }
func (noCache) ClearCredentials() error          { return nil }

// NoCache is a MessageCache that stores nothing.
var NoCache MessageCache = noCache{}

// Session is the chat session: one user, one connection, one conversation
// store, one timeline. A single goroutine consumes the connector's event
// stream, so store and timeline updates are applied in event-arrival
// order and never observed half-applied.
type Session struct {
	user  models.User
	token string

	api      *api.Client
	cache    MessageCache
	conn     *Connector
	store    *Store
	timeline *Timeline
	log      *zap.SugaredLogger

	historyLimit int

	mu            sync.Mutex
	notify        func(Event)
	onAuthExpired func()

	loopDone chan struct{}
}

// NewSession wires a session together. The connector must not have been
// started yet; Start owns its lifecycle.
func NewSession(user models.User, token string, apiClient *api.Client, cache MessageCache, conn *Connector, timeline *Timeline, log *zap.SugaredLogger) *Session {
	if cache == nil {
		cache = NoCache
	}
	return &Session{
		user:         user,
		token:        token,
		api:          apiClient,
		cache:        cache,
		conn:         conn,
		store:        NewStore(user),
		timeline:     timeline,
		log:          log,
		historyLimit: 200,
		loopDone:     make(chan struct{}),
	}
}

// SetHistoryCacheLimit bounds how many locally cached messages are shown
// while a conversation's live history fetch is pending.
func (s *Session) SetHistoryCacheLimit(n int) {
	if n > 0 {
		s.historyLimit = n
	}
}

// SetNotify installs the UI hook called after each event has been applied
// to the store and timeline. Must be set before Start.
func (s *Session) SetNotify(fn func(Event)) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

// SetOnAuthExpired installs the handler invoked when the backend rejects
// the token: credentials are already cleared when it runs, and the owner
// should route the user back to login.
func (s *Session) SetOnAuthExpired(fn func()) {
	s.mu.Lock()
	s.onAuthExpired = fn
	s.mu.Unlock()
}

// Start loads the conversation list and opens the chat connection. The
// initial REST fetch and later history fetches are independent loading
// states; a failure to fetch conversations does not prevent the live
// connection from coming up.
func (s *Session) Start(ctx context.Context) error {
	convs, err := s.api.MyConversations(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			// Same invalidation as a mid-session auth failure: the
			// saved credentials are stale and must not be retried.
			if cerr := s.cache.ClearCredentials(); cerr != nil {
				s.log.Errorw("failed to clear credentials", "err", cerr)
			}
			return fmt.Errorf("load conversations: %w", err)
		}
		// Degraded start: live chat still works, the list fills in
		// from incoming messages.
		s.log.Warnw("initial conversation load failed", "err", err)
	} else {
		s.store.Load(convs)
	}

	if err := s.conn.Connect(ctx, s.token); err != nil {
		return err
	}
	go s.loop(ctx)
	return nil
}

// Close tears the session down. Idempotent; always releases the
// transport.
func (s *Session) Close() {
	s.conn.Disconnect()
}

// Done is closed when the event loop has drained, i.e. the session has
// fully ended.
func (s *Session) Done() <-chan struct{} {
	return s.loopDone
}

func (s *Session) loop(ctx context.Context) {
	defer close(s.loopDone)

	for ev := range s.conn.Events() {
		s.apply(ctx, ev)

		s.mu.Lock()
		notify := s.notify
		s.mu.Unlock()
		if notify != nil {
			notify(ev)
		}
	}
}

func (s *Session) apply(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case Connected:
		// The list may have changed while we were offline.
		go s.refreshConversations(ctx)

	case AuthFailed:
		s.log.Warnw("chat authentication failed", "reason", e.Reason)
		if err := s.cache.ClearCredentials(); err != nil {
			s.log.Errorw("failed to clear credentials", "err", err)
		}
		s.mu.Lock()
		onAuthExpired := s.onAuthExpired
		s.mu.Unlock()
		if onAuthExpired != nil {
			onAuthExpired()
		}

	case MessageReceived:
		s.store.UpsertFromMessage(e.Message)
		s.timeline.AppendIfMatching(e.Message)
		if err := s.cache.CacheMessage(e.Message); err != nil {
			s.log.Warnw("failed to cache message", "err", err)
		}

	case HistoryReceived:
		if s.timeline.ApplyHistory(e.ChatIdentifier, e.Messages) {
			// The fetched history is authoritative; rebuild the local
			// cache from it so deletions on the server propagate.
			if err := s.cache.ClearCachedMessages(e.ChatIdentifier); err != nil {
				s.log.Warnw("failed to reset message cache", "chat", e.ChatIdentifier, "err", err)
			}
			for _, m := range e.Messages {
				if err := s.cache.CacheMessage(m); err != nil {
					s.log.Warnw("failed to cache message", "err", err)
					break
				}
			}
		}

	case ChatRejected:
		s.log.Warnw("chat request rejected", "code", e.Code, "reason", e.Reason)

	case Disconnected:
		if e.Terminal {
			s.log.Errorw("chat connection lost for good", "err", e.Err)
		}
	}
}

func (s *Session) refreshConversations(ctx context.Context) {
	convs, err := s.api.MyConversations(ctx)
	if err != nil {
		s.log.Warnw("conversation refresh failed", "err", err)
		return
	}
	// Merge instead of replace: upserts applied while the fetch was in
	// flight must not be rolled back.
	s.store.MergeMissing(convs)
}

// User returns the session's current user.
func (s *Session) User() models.User {
	return s.user
}

// ConnectionState exposes the connector state for UI affordances.
func (s *Session) ConnectionState() ConnectionState {
	return s.conn.State()
}

// Conversations returns the conversation list, most recent first.
func (s *Session) Conversations() []models.Conversation {
	return s.store.List()
}

// OpenConversation opens an existing conversation by identifier.
func (s *Session) OpenConversation(chatIdentifier string) error {
	conv, ok := s.store.Get(chatIdentifier)
	if !ok {
		return fmt.Errorf("no conversation %q", chatIdentifier)
	}
	return s.open(conv)
}

// StartConversation begins (or resumes) a conversation with another user
// and opens it. Starting a chat that already exists reuses the existing
// entry.
func (s *Session) StartConversation(other models.User) (models.Conversation, error) {
	conv := s.store.AddLocal(models.NewConversation(s.user, other))
	return conv, s.open(conv)
}

// open switches the timeline to conv and shows locally cached messages
// until the live history fetch resolves.
func (s *Session) open(conv models.Conversation) error {
	if err := s.timeline.Open(conv); err != nil {
		return err
	}
	cached, err := s.cache.CachedMessages(conv.ChatIdentifier, s.historyLimit)
	if err != nil {
		s.log.Warnw("cached history read failed", "chat", conv.ChatIdentifier, "err", err)
		return nil
	}
	if len(cached) > 0 {
		s.timeline.Preload(conv.ChatIdentifier, cached)
	}
	return nil
}

// SendMessage trims and sends the compose input to the open conversation.
// Empty input or no open conversation is a silent no-op.
func (s *Session) SendMessage(content string) (bool, error) {
	return s.timeline.Send(content)
}

// Input feeds compose keystrokes into the typing indicator machine.
func (s *Session) Input(text string) {
	s.timeline.Input(text)
}

// Messages returns the open conversation's messages.
func (s *Session) Messages() []models.Message {
	return s.timeline.Messages()
}

// HistoryLoading reports whether the open conversation is still waiting
// for history.
func (s *Session) HistoryLoading() bool {
	return s.timeline.Loading()
}
