// Package chatrouter demultiplexes inbound chat traffic and turns it into
// view updates. It owns chat focus and unread counters but never renders
// anything itself; presentation is delegated to the View collaborator.
package chatrouter

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/beacon/chat-app/internal/eventbus"
	"github.com/beacon/chat-app/internal/protocol"
	"github.com/beacon/chat-app/internal/realtime"
)

// Sender is the outbound slice of the connection the router needs for
// join/leave signaling.
type Sender interface {
	State() realtime.State
	SendMessage(msgType string, payload interface{}) (bool, error)
}

// View receives routing decisions. Implementations render; the router
// only decides what goes where.
type View interface {
	// RenderMessage appends a message inline in the focused chat.
	RenderMessage(msg protocol.ChatMessageMsg)
	// UpdateChatList refreshes a chat's list entry (last message, timestamp, sender).
	UpdateChatList(msg protocol.ChatMessageMsg)
	// UpdateUnreadCount sets the unread badge for an unfocused chat.
	UpdateUnreadCount(chatID string, count int)
	// ShowNotification raises a background notification for an unfocused chat.
	ShowNotification(msg protocol.ChatMessageMsg)
	// UpsertChat adds or updates a chat in the chat list.
	UpsertChat(chat protocol.ChatInfo)
	// RemoveChat drops a chat from the chat list.
	RemoveChat(chatID string)
	// MarkRead reflects another participant's read receipt.
	MarkRead(receipt protocol.ServerReadReceiptMsg)
	// LeaveChatView navigates away from a chat that no longer exists.
	LeaveChatView(chatID string)
}

// Router routes inbound chat frames to the View and sends membership
// signals back through the connection.
type Router struct {
	conn Sender
	view View

	mu      sync.Mutex
	current string // focused chat id, "" when none
	chats   map[string]protocol.ChatInfo
	joined  map[string]struct{}
	unread  map[string]int
	subs    []*eventbus.Subscription
}

// New creates a Router and subscribes it to the inbound stream.
func New(bus *eventbus.Bus, conn Sender, view View) (*Router, error) {
	if bus == nil {
		return nil, fmt.Errorf("chatrouter: bus is required")
	}
	if conn == nil {
		return nil, fmt.Errorf("chatrouter: sender is required")
	}
	if view == nil {
		return nil, fmt.Errorf("chatrouter: view is required")
	}

	r := &Router{
		conn:   conn,
		view:   view,
		chats:  make(map[string]protocol.ChatInfo),
		joined: make(map[string]struct{}),
		unread: make(map[string]int),
	}

	sub, err := bus.Subscribe(eventbus.TopicInbound, r.handleInbound)
	if err != nil {
		return nil, fmt.Errorf("chatrouter: subscribe inbound: %w", err)
	}
	r.subs = append(r.subs, sub)
	return r, nil
}

// Close detaches the router from the bus.
func (r *Router) Close() {
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
}

// ---------------------------------------------------------------------------
// Focus and membership
// ---------------------------------------------------------------------------

// SetCurrentChat moves focus to chatID and signals membership when the
// connection is live. Leave signaling is driven by CloseChat, not by focus
// changes, so switching between open chats does not churn membership.
func (r *Router) SetCurrentChat(chatID string) {
	r.mu.Lock()
	r.current = chatID
	if chatID != "" {
		r.joined[chatID] = struct{}{}
		r.unread[chatID] = 0
	}
	connected := r.conn.State() == realtime.StateConnected
	r.mu.Unlock()

	if chatID != "" {
		r.view.UpdateUnreadCount(chatID, 0)
		if connected {
			if _, err := r.conn.SendMessage(protocol.TypeJoinChat, protocol.JoinChatMsg{ChatID: chatID}); err != nil {
				log.Printf("chatrouter: join_chat failed: %v", err)
			}
		}
	}
}

// OpenChat opens chatID at the page level and focuses it. Focus switches
// between chats that are already open go through SetCurrentChat alone.
func (r *Router) OpenChat(chatID string) {
	if chatID == "" {
		return
	}
	r.SetCurrentChat(chatID)
}

// CloseChat leaves chatID at the page level: a leave signal goes out if
// connected, and focus is cleared when the closed chat was focused.
func (r *Router) CloseChat(chatID string) {
	if chatID == "" {
		return
	}

	r.mu.Lock()
	delete(r.joined, chatID)
	if r.current == chatID {
		r.current = ""
	}
	connected := r.conn.State() == realtime.StateConnected
	r.mu.Unlock()

	if connected {
		if _, err := r.conn.SendMessage(protocol.TypeLeaveChat, protocol.LeaveChatMsg{ChatID: chatID}); err != nil {
			log.Printf("chatrouter: leave_chat failed: %v", err)
		}
	}
}

// CurrentChat returns the focused chat id, or "" when no chat is focused.
func (r *Router) CurrentChat() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// UnreadCount returns the unread counter for chatID.
func (r *Router) UnreadCount(chatID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread[chatID]
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// SendChatMessage sends a chat message through the connection. It reports
// whether the frame was queued for a later flush instead of sent directly.
func (r *Router) SendChatMessage(chatID, content string) (bool, error) {
	if chatID == "" || content == "" {
		return false, fmt.Errorf("chatrouter: chat id and content are required")
	}
	return r.conn.SendMessage(protocol.TypeChatMessage, protocol.SendMessageMsg{
		ChatID:  chatID,
		Content: content,
	})
}

// SendReadReceipt acknowledges messageID in chatID and clears the local
// unread counter for that chat.
func (r *Router) SendReadReceipt(chatID, messageID string) (bool, error) {
	if chatID == "" || messageID == "" {
		return false, fmt.Errorf("chatrouter: chat id and message id are required")
	}

	r.mu.Lock()
	r.unread[chatID] = 0
	r.mu.Unlock()
	r.view.UpdateUnreadCount(chatID, 0)

	return r.conn.SendMessage(protocol.TypeReadReceipt, protocol.ReadReceiptMsg{
		ChatID:    chatID,
		MessageID: messageID,
	})
}

// ---------------------------------------------------------------------------
// Inbound routing
// ---------------------------------------------------------------------------

func (r *Router) handleInbound(data interface{}) {
	switch msg := data.(type) {
	case protocol.ChatMessageMsg:
		r.routeChatMessage(msg)
	case protocol.TypingIndicatorMsg:
		// Typing is handled by the presence tracker.
	case protocol.ServerReadReceiptMsg:
		r.view.MarkRead(msg)
	case protocol.ChatCreatedMsg:
		r.upsertChat(msg.Chat)
	case protocol.ChatUpdatedMsg:
		r.upsertChat(msg.Chat)
	case protocol.UserJoinedChatMsg:
		r.routeChatMessage(systemMessage(msg.ChatID, msg.User, "joined the chat"))
	case protocol.UserLeftChatMsg:
		r.routeChatMessage(systemMessage(msg.ChatID, msg.User, "left the chat"))
	case protocol.ChatDeletedMsg:
		r.handleChatDeleted(msg.ChatID)
	}
}

// routeChatMessage applies the focus decision: inline render for the
// focused chat, unread counter plus notification otherwise. Synthetic
// join/leave messages pass through here too, so they get identical
// treatment to real ones.
func (r *Router) routeChatMessage(msg protocol.ChatMessageMsg) {
	r.mu.Lock()
	focused := r.current == msg.ChatID
	count := 0
	if !focused {
		r.unread[msg.ChatID]++
		count = r.unread[msg.ChatID]
	}
	r.mu.Unlock()

	if focused {
		r.view.RenderMessage(msg)
	} else {
		r.view.UpdateUnreadCount(msg.ChatID, count)
		r.view.ShowNotification(msg)
	}
	r.view.UpdateChatList(msg)
}

func (r *Router) upsertChat(chat protocol.ChatInfo) {
	if chat.ID == "" {
		return
	}
	r.mu.Lock()
	r.chats[chat.ID] = chat
	r.mu.Unlock()
	r.view.UpsertChat(chat)
}

func (r *Router) handleChatDeleted(chatID string) {
	r.mu.Lock()
	delete(r.chats, chatID)
	delete(r.joined, chatID)
	delete(r.unread, chatID)
	wasFocused := r.current == chatID
	if wasFocused {
		r.current = ""
	}
	r.mu.Unlock()

	r.view.RemoveChat(chatID)
	if wasFocused {
		r.view.LeaveChatView(chatID)
	}
}

// systemMessage builds the synthetic frame for membership changes.
func systemMessage(chatID string, user protocol.User, action string) protocol.ChatMessageMsg {
	name := user.Username
	if name == "" {
		name = user.ID
	}
	return protocol.ChatMessageMsg{
		Type:       protocol.TypeChatMessage,
		ChatID:     chatID,
		SenderID:   user.ID,
		SenderName: name,
		Content:    fmt.Sprintf("%s %s", name, action),
		Timestamp:  time.Now().UnixMilli(),
		System:     true,
	}
}
