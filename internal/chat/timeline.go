package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/koraltal167/moviesquad/internal/models"
)

// Transport is the slice of the Connector the timeline drives. Split out
// so tests can observe emissions without a socket.
type Transport interface {
	Join(otherUserID string) error
	Send(recipientID, content string) error
	Typing(recipientID string)
	StopTyping(recipientID string)
}

// Timeline holds the message history of the one open conversation plus
// the local typing-indicator state machine. Messages for other
// conversations never enter the timeline; they only touch the Store.
type Timeline struct {
	conn     Transport
	debounce time.Duration

	mu       sync.Mutex
	active   *models.Conversation
	messages []models.Message
	loading  bool

	// typing cycle state; at most one Typing and one StopTyping
	// notification per Idle -> Typing -> Idle cycle.
	typing      bool
	typingTo    string
	typingTimer *time.Timer
}

// NewTimeline creates a timeline sending through the given transport.
// debounce is how long after the last keystroke the stopped-typing signal
// fires.
func NewTimeline(conn Transport, debounce time.Duration) *Timeline {
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Timeline{conn: conn, debounce: debounce}
}

// Open switches the timeline to a conversation: the previous history is
// cleared before any new history can arrive, a pending typing cycle to
// the previous peer is finished, and history plus live delivery are
// requested through the transport. Until the history lands the timeline
// is loading, which is distinct from loaded-and-empty.
func (t *Timeline) Open(conv models.Conversation) error {
	t.mu.Lock()
	t.finishTypingLocked()
	c := conv
	t.active = &c
	t.messages = nil
	t.loading = true
	t.mu.Unlock()

	return t.conn.Join(conv.OtherParticipant.ID)
}

// Close clears the timeline and finishes any pending typing cycle.
func (t *Timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finishTypingLocked()
	t.active = nil
	t.messages = nil
	t.loading = false
}

// Preload shows locally cached messages while the live history fetch is
// pending. Ignored unless the given conversation is open and still
// loading; the fetched history replaces the preview when it lands, so
// the loading flag stays set.
func (t *Timeline) Preload(chatIdentifier string, messages []models.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil || t.active.ChatIdentifier != chatIdentifier || !t.loading {
		return false
	}
	t.messages = append([]models.Message(nil), messages...)
	return true
}

// ApplyHistory populates the timeline from a history fetch. The result is
// discarded unless it targets the conversation that is open at resolution
// time, which is what makes a quick switch away and back safe.
func (t *Timeline) ApplyHistory(chatIdentifier string, messages []models.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil || t.active.ChatIdentifier != chatIdentifier {
		return false
	}
	t.messages = append([]models.Message(nil), messages...)
	t.loading = false
	return true
}

// AppendIfMatching appends a message only if it belongs to the open
// conversation. Messages arrive in event order; no re-sort by timestamp.
func (t *Timeline) AppendIfMatching(msg models.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil || t.active.ChatIdentifier != msg.ChatIdentifier {
		return false
	}
	t.messages = append(t.messages, msg)
	return true
}

// Send trims and dispatches the compose input. Empty input or no open
// conversation is a silent no-op, not an error. Accepted dispatch also
// finishes the typing cycle. accepted=true means the message was handed
// to the transport; delivery is not confirmed at this layer.
func (t *Timeline) Send(content string) (accepted bool, err error) {
	content = strings.TrimSpace(content)

	t.mu.Lock()
	if content == "" || t.active == nil {
		t.mu.Unlock()
		return false, nil
	}
	recipient := t.active.OtherParticipant.ID
	t.mu.Unlock()

	if err := t.conn.Send(recipient, content); err != nil {
		// The cycle stays open: nothing was sent, so the peer should
		// keep seeing the typing indicator until the timer expires.
		return false, err
	}

	t.mu.Lock()
	t.finishTypingLocked()
	t.mu.Unlock()
	return true, nil
}

// Input feeds the compose box state into the typing state machine. The
// first transition from empty to non-empty emits one typing notification;
// every further keystroke only resets the debounce timer. The
// stopped-typing notification fires when the timer elapses or the message
// is sent, whichever comes first, and exactly once per cycle.
func (t *Timeline) Input(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil {
		return
	}

	if !t.typing {
		if strings.TrimSpace(text) == "" {
			return
		}
		t.typing = true
		t.typingTo = t.active.OtherParticipant.ID
		t.conn.Typing(t.typingTo)
	}

	if t.typingTimer != nil {
		t.typingTimer.Stop()
	}
	t.typingTimer = time.AfterFunc(t.debounce, t.typingExpired)
}

func (t *Timeline) typingExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finishTypingLocked()
}

// finishTypingLocked ends the current typing cycle, emitting the
// stopped-typing notification if one is owed. Callers hold t.mu.
func (t *Timeline) finishTypingLocked() {
	if t.typingTimer != nil {
		t.typingTimer.Stop()
		t.typingTimer = nil
	}
	if !t.typing {
		return
	}
	t.typing = false
	t.conn.StopTyping(t.typingTo)
	t.typingTo = ""
}

// Active returns the open conversation, or false if none is open.
func (t *Timeline) Active() (models.Conversation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return models.Conversation{}, false
	}
	return *t.active, true
}

// Messages returns a copy of the open conversation's messages.
func (t *Timeline) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Message(nil), t.messages...)
}

// Loading reports whether a history fetch is outstanding.
func (t *Timeline) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}
