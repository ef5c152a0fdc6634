// Package presence tracks online/offline status and typing indicators from
// the inbound realtime stream. It consumes decoded frames from the event bus
// and forwards changes to registered callbacks and the external UI
// collaborator; it never touches the transport except to send the local
// user's typing signals.
package presence

import (
	"log"
	"sync"
	"time"

	"github.com/beacon/chat-app/internal/eventbus"
	"github.com/beacon/chat-app/internal/protocol"
	"github.com/beacon/chat-app/internal/realtime"
)

// DefaultTypingExpiry is how long a typing indicator stays lit without a
// refresh before it flips off automatically.
const DefaultTypingExpiry = 5 * time.Second

// Presence status values, mirroring the wire protocol.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Sender is the slice of the connection manager the tracker needs: typing
// signals are sent directly and only while connected, never queued. TrySend
// carries that guarantee itself, so the tracker does not inspect connection
// state.
type Sender interface {
	TrySend(msgType string, payload interface{}) (sent bool, err error)
}

// UI is the external render collaborator. Implementations are treated as
// opaque sinks; the tracker only decides what changed.
type UI interface {
	UpdatePresenceBadge(userID, status string)
	ShowTypingIndicator(chatID string, typingUsers []string)
}

// StatusCallback is invoked on every presence change.
type StatusCallback func(userID, status string)

// TypingCallback is invoked on every effective typing change (debounced).
type TypingCallback func(chatID, userID, username string, isTyping bool)

// Entry is the tracked presence state for one user.
type Entry struct {
	Status      string
	LastUpdated time.Time
}

// typingEntry is the tracked typing state for one (chat, user) pair. While
// isTyping is true the expiry timer is always armed; arming a new timer
// stops the previous handle first.
type typingEntry struct {
	isTyping bool
	username string
	since    time.Time
	expiry   *time.Timer
}

// Config holds tracker settings.
type Config struct {
	// LocalUserID is the id whose user_status frames are ignored (no
	// self-status). It is also updated automatically from the
	// authenticated event.
	LocalUserID string

	// TypingExpiry overrides DefaultTypingExpiry; tests shorten it.
	TypingExpiry time.Duration
}

// Tracker maintains the presence and typing maps for the session.
type Tracker struct {
	conn Sender
	ui   UI

	mu        sync.Mutex
	localUser string
	expiry    time.Duration
	users     map[string]*Entry
	typing    map[string]map[string]*typingEntry // chatID -> userID -> entry
	statusCbs []StatusCallback
	typingCbs []TypingCallback

	subs []*eventbus.Subscription
}

// New creates a Tracker and subscribes it to the inbound and authenticated
// topics on the bus. The ui collaborator may be nil.
func New(config Config, bus *eventbus.Bus, conn Sender, ui UI) (*Tracker, error) {
	expiry := config.TypingExpiry
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}

	t := &Tracker{
		conn:      conn,
		ui:        ui,
		localUser: config.LocalUserID,
		expiry:    expiry,
		users:     make(map[string]*Entry),
		typing:    make(map[string]map[string]*typingEntry),
	}

	sub, err := bus.Subscribe(eventbus.TopicInbound, t.handleInbound)
	if err != nil {
		return nil, err
	}
	t.subs = append(t.subs, sub)

	authSub, err := bus.Subscribe(eventbus.TopicAuthenticated, t.handleAuthenticated)
	if err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	t.subs = append(t.subs, authSub)

	return t, nil
}

// Close unsubscribes from the bus and cancels all typing expiry timers.
func (t *Tracker) Close() {
	for _, sub := range t.subs {
		sub.Unsubscribe()
	}

	t.mu.Lock()
	for _, chat := range t.typing {
		for _, entry := range chat {
			if entry.expiry != nil {
				entry.expiry.Stop()
				entry.expiry = nil
			}
		}
	}
	t.mu.Unlock()
}

// OnStatusChange registers a callback for presence changes.
func (t *Tracker) OnStatusChange(fn StatusCallback) {
	t.mu.Lock()
	t.statusCbs = append(t.statusCbs, fn)
	t.mu.Unlock()
}

// OnTypingChange registers a callback for typing changes.
func (t *Tracker) OnTypingChange(fn TypingCallback) {
	t.mu.Lock()
	t.typingCbs = append(t.typingCbs, fn)
	t.mu.Unlock()
}

// handleAuthenticated records the local user id so self-status frames can be
// ignored.
func (t *Tracker) handleAuthenticated(data interface{}) {
	auth, ok := data.(realtime.Authenticated)
	if !ok {
		return
	}
	t.mu.Lock()
	t.localUser = auth.UserID
	t.mu.Unlock()
}

// handleInbound demultiplexes the frames this tracker cares about.
func (t *Tracker) handleInbound(data interface{}) {
	switch m := data.(type) {
	case protocol.UserStatusMsg:
		t.UpdateUserStatus(m.UserID, m.Status)
	case protocol.TypingIndicatorMsg:
		t.UpdateTypingStatus(m.ChatID, m.UserID, m.Username, m.IsTyping)
	}
}

// UpdateUserStatus records a presence change for a user and notifies
// callbacks and the UI. Status frames for the local user are ignored.
func (t *Tracker) UpdateUserStatus(userID, status string) {
	t.mu.Lock()
	if userID == "" || userID == t.localUser {
		t.mu.Unlock()
		return
	}

	entry, ok := t.users[userID]
	if !ok {
		entry = &Entry{}
		t.users[userID] = entry
	}
	entry.Status = status
	entry.LastUpdated = time.Now()

	cbs := append([]StatusCallback(nil), t.statusCbs...)
	t.mu.Unlock()

	for _, fn := range cbs {
		fn(userID, status)
	}
	if t.ui != nil {
		t.ui.UpdatePresenceBadge(userID, status)
	}
}

// UpdateTypingStatus records a typing change for a (chat, user) pair. A
// repeat of the stored value is a no-op (debounce), as is a stop with no
// prior start. A transition to typing (re)arms the expiry timer that flips
// the entry off after the expiry window with no refresh.
func (t *Tracker) UpdateTypingStatus(chatID, userID, username string, isTyping bool) {
	t.mu.Lock()

	chat, ok := t.typing[chatID]
	if !ok {
		if !isTyping {
			// Stop with no prior start: nothing to change.
			t.mu.Unlock()
			return
		}
		chat = make(map[string]*typingEntry)
		t.typing[chatID] = chat
	}

	entry, ok := chat[userID]
	if !ok {
		if !isTyping {
			t.mu.Unlock()
			return
		}
		entry = &typingEntry{}
		chat[userID] = entry
	}

	if entry.isTyping == isTyping {
		if isTyping {
			// Identical repeat: refresh the expiry window but do not
			// re-notify.
			t.armExpiryLocked(entry, chatID, userID)
		}
		t.mu.Unlock()
		return
	}

	entry.isTyping = isTyping
	entry.username = username
	entry.since = time.Now()

	if isTyping {
		t.armExpiryLocked(entry, chatID, userID)
	} else if entry.expiry != nil {
		entry.expiry.Stop()
		entry.expiry = nil
	}

	t.notifyTypingLocked(chatID, userID, entry.username, isTyping)
}

// armExpiryLocked (re)arms the auto-expiry timer for an entry, stopping any
// previous handle first. Caller holds t.mu.
func (t *Tracker) armExpiryLocked(entry *typingEntry, chatID, userID string) {
	if entry.expiry != nil {
		entry.expiry.Stop()
	}
	entry.expiry = time.AfterFunc(t.expiry, func() {
		t.expireTyping(chatID, userID)
	})
}

// expireTyping flips an entry to not-typing after the expiry window passed
// without a refresh.
func (t *Tracker) expireTyping(chatID, userID string) {
	t.mu.Lock()
	chat := t.typing[chatID]
	if chat == nil {
		t.mu.Unlock()
		return
	}
	entry := chat[userID]
	if entry == nil || !entry.isTyping {
		t.mu.Unlock()
		return
	}

	entry.isTyping = false
	entry.expiry = nil

	t.notifyTypingLocked(chatID, userID, entry.username, false)
}

// notifyTypingLocked snapshots callbacks and the typing-user list, releases
// the lock, and delivers notifications. Caller holds t.mu; the lock is
// released on return.
func (t *Tracker) notifyTypingLocked(chatID, userID, username string, isTyping bool) {
	cbs := append([]TypingCallback(nil), t.typingCbs...)
	typingUsers := t.typingUsersLocked(chatID)
	t.mu.Unlock()

	for _, fn := range cbs {
		fn(chatID, userID, username, isTyping)
	}
	if t.ui != nil {
		t.ui.ShowTypingIndicator(chatID, typingUsers)
	}
}

// SendTypingStatus sends the local user's typing state for a chat. Typing
// signals require a live connection and are never queued: a typing event
// replayed after reconnection would be stale and misleading. Returns false
// without sending when not connected.
func (t *Tracker) SendTypingStatus(chatID string, isTyping bool) bool {
	if t.conn == nil {
		return false
	}

	sent, err := t.conn.TrySend(protocol.TypeTyping, protocol.ClientTypingMsg{
		ChatID:   chatID,
		IsTyping: isTyping,
	})
	if err != nil {
		log.Printf("[presence] failed to send typing status: %v", err)
		return false
	}
	return sent
}

// UserStatus returns the tracked presence for a user. The second return
// value is false if no status frame has been seen for the user.
func (t *Tracker) UserStatus(userID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.users[userID]
	if !ok {
		return "", false
	}
	return entry.Status, true
}

// IsUserTyping reports whether a user is currently typing in a chat.
func (t *Tracker) IsUserTyping(chatID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	chat := t.typing[chatID]
	if chat == nil {
		return false
	}
	entry := chat[userID]
	return entry != nil && entry.isTyping
}

// TypingUsers returns the usernames currently typing in a chat.
func (t *Tracker) TypingUsers(chatID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typingUsersLocked(chatID)
}

// typingUsersLocked collects usernames with isTyping=true. Caller holds t.mu.
func (t *Tracker) typingUsersLocked(chatID string) []string {
	var names []string
	for _, entry := range t.typing[chatID] {
		if entry.isTyping {
			names = append(names, entry.username)
		}
	}
	return names
}
