package chatrouter

import (
	"strings"
	"sync"
	"testing"

	"github.com/beacon/chat-app/internal/eventbus"
	"github.com/beacon/chat-app/internal/protocol"
	"github.com/beacon/chat-app/internal/realtime"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type fakeSender struct {
	mu    sync.Mutex
	state realtime.State
	sent  []string // message types
}

func (f *fakeSender) State() realtime.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSender) SendMessage(msgType string, payload interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msgType)
	return f.state != realtime.StateConnected, nil
}

func (f *fakeSender) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeView struct {
	mu            sync.Mutex
	rendered      []protocol.ChatMessageMsg
	listUpdates   []protocol.ChatMessageMsg
	unread        map[string]int
	notifications []protocol.ChatMessageMsg
	upserts       []protocol.ChatInfo
	removed       []string
	receipts      []protocol.ServerReadReceiptMsg
	left          []string
}

func newFakeView() *fakeView {
	return &fakeView{unread: make(map[string]int)}
}

func (f *fakeView) RenderMessage(msg protocol.ChatMessageMsg) {
	f.mu.Lock()
	f.rendered = append(f.rendered, msg)
	f.mu.Unlock()
}

func (f *fakeView) UpdateChatList(msg protocol.ChatMessageMsg) {
	f.mu.Lock()
	f.listUpdates = append(f.listUpdates, msg)
	f.mu.Unlock()
}

func (f *fakeView) UpdateUnreadCount(chatID string, count int) {
	f.mu.Lock()
	f.unread[chatID] = count
	f.mu.Unlock()
}

func (f *fakeView) ShowNotification(msg protocol.ChatMessageMsg) {
	f.mu.Lock()
	f.notifications = append(f.notifications, msg)
	f.mu.Unlock()
}

func (f *fakeView) UpsertChat(chat protocol.ChatInfo) {
	f.mu.Lock()
	f.upserts = append(f.upserts, chat)
	f.mu.Unlock()
}

func (f *fakeView) RemoveChat(chatID string) {
	f.mu.Lock()
	f.removed = append(f.removed, chatID)
	f.mu.Unlock()
}

func (f *fakeView) MarkRead(receipt protocol.ServerReadReceiptMsg) {
	f.mu.Lock()
	f.receipts = append(f.receipts, receipt)
	f.mu.Unlock()
}

func (f *fakeView) LeaveChatView(chatID string) {
	f.mu.Lock()
	f.left = append(f.left, chatID)
	f.mu.Unlock()
}

func newTestRouter(t *testing.T) (*Router, *eventbus.Bus, *fakeSender, *fakeView) {
	t.Helper()
	bus := eventbus.New()
	sender := &fakeSender{state: realtime.StateConnected}
	view := newFakeView()
	router, err := New(bus, sender, view)
	if err != nil {
		t.Fatalf("failed to create router: %v", err)
	}
	t.Cleanup(router.Close)
	return router, bus, sender, view
}

// ---------------------------------------------------------------------------
// Focus and membership
// ---------------------------------------------------------------------------

func TestSetCurrentChatSendsJoin(t *testing.T) {
	router, _, sender, _ := newTestRouter(t)

	router.SetCurrentChat("c1")

	if router.CurrentChat() != "c1" {
		t.Errorf("expected focus on c1, got %q", router.CurrentChat())
	}
	if types := sender.sentTypes(); len(types) != 1 || types[0] != protocol.TypeJoinChat {
		t.Errorf("expected a join_chat frame, got %v", types)
	}

	// Switching focus between open chats joins the new one but never
	// leaves the old one.
	router.SetCurrentChat("c2")
	if types := sender.sentTypes(); len(types) != 2 || types[1] != protocol.TypeJoinChat {
		t.Errorf("expected a second join_chat frame and no leave, got %v", types)
	}
}

func TestSetCurrentChatWhileDisconnected(t *testing.T) {
	router, _, sender, _ := newTestRouter(t)
	sender.mu.Lock()
	sender.state = realtime.StateDisconnected
	sender.mu.Unlock()

	router.SetCurrentChat("c1")

	if router.CurrentChat() != "c1" {
		t.Errorf("expected focus on c1 even while disconnected, got %q", router.CurrentChat())
	}
	if types := sender.sentTypes(); len(types) != 0 {
		t.Errorf("expected no frames while disconnected, got %v", types)
	}
}

func TestCloseChatSendsLeave(t *testing.T) {
	router, _, sender, _ := newTestRouter(t)

	router.SetCurrentChat("c1")
	router.CloseChat("c1")

	if router.CurrentChat() != "" {
		t.Errorf("expected focus cleared, got %q", router.CurrentChat())
	}
	types := sender.sentTypes()
	if len(types) != 2 || types[1] != protocol.TypeLeaveChat {
		t.Errorf("expected join then leave, got %v", types)
	}

	// Closing a background chat leaves it without touching focus.
	router.SetCurrentChat("c2")
	router.CloseChat("c3")
	if router.CurrentChat() != "c2" {
		t.Errorf("expected focus to stay on c2, got %q", router.CurrentChat())
	}
}

// ---------------------------------------------------------------------------
// Message routing
// ---------------------------------------------------------------------------

func TestFocusedMessageRenderedInline(t *testing.T) {
	router, bus, _, view := newTestRouter(t)
	router.SetCurrentChat("c1")

	bus.Publish(eventbus.TopicInbound, protocol.ChatMessageMsg{
		ChatID: "c1", SenderID: "u2", Content: "hello",
	})

	view.mu.Lock()
	defer view.mu.Unlock()
	if len(view.rendered) != 1 || view.rendered[0].Content != "hello" {
		t.Errorf("expected inline render, got %v", view.rendered)
	}
	if len(view.notifications) != 0 {
		t.Errorf("expected no notification for the focused chat, got %v", view.notifications)
	}
	if len(view.listUpdates) != 1 {
		t.Errorf("expected a chat-list update, got %d", len(view.listUpdates))
	}
	if router.UnreadCount("c1") != 0 {
		t.Errorf("expected no unread for the focused chat, got %d", router.UnreadCount("c1"))
	}
}

func TestUnfocusedMessageIncrementsUnread(t *testing.T) {
	router, bus, _, view := newTestRouter(t)
	router.SetCurrentChat("c1")

	bus.Publish(eventbus.TopicInbound, protocol.ChatMessageMsg{ChatID: "c2", Content: "one"})
	bus.Publish(eventbus.TopicInbound, protocol.ChatMessageMsg{ChatID: "c2", Content: "two"})

	if router.UnreadCount("c2") != 2 {
		t.Errorf("expected 2 unread, got %d", router.UnreadCount("c2"))
	}

	view.mu.Lock()
	defer view.mu.Unlock()
	if len(view.rendered) != 0 {
		t.Errorf("expected no inline render for a background chat, got %v", view.rendered)
	}
	if len(view.notifications) != 2 {
		t.Errorf("expected 2 notifications, got %d", len(view.notifications))
	}
	if view.unread["c2"] != 2 {
		t.Errorf("expected unread badge 2, got %d", view.unread["c2"])
	}
	if len(view.listUpdates) != 2 {
		t.Errorf("expected chat-list updates for every message, got %d", len(view.listUpdates))
	}
}

func TestRefocusResetsUnread(t *testing.T) {
	router, bus, _, view := newTestRouter(t)
	router.SetCurrentChat("c1")

	bus.Publish(eventbus.TopicInbound, protocol.ChatMessageMsg{ChatID: "c2", Content: "one"})
	router.SetCurrentChat("c2")

	if router.UnreadCount("c2") != 0 {
		t.Errorf("expected unread reset on focus, got %d", router.UnreadCount("c2"))
	}
	view.mu.Lock()
	defer view.mu.Unlock()
	if view.unread["c2"] != 0 {
		t.Errorf("expected unread badge cleared, got %d", view.unread["c2"])
	}
}

// ---------------------------------------------------------------------------
// Membership change messages
// ---------------------------------------------------------------------------

func TestMembershipChangesSynthesizeSystemMessages(t *testing.T) {
	router, bus, _, view := newTestRouter(t)
	router.SetCurrentChat("c1")

	bus.Publish(eventbus.TopicInbound, protocol.UserJoinedChatMsg{
		ChatID: "c1",
		User:   protocol.User{ID: "u2", Username: "ada"},
	})
	bus.Publish(eventbus.TopicInbound, protocol.UserLeftChatMsg{
		ChatID: "c1",
		User:   protocol.User{ID: "u2", Username: "ada"},
	})

	view.mu.Lock()
	defer view.mu.Unlock()
	if len(view.rendered) != 2 {
		t.Fatalf("expected 2 synthetic messages rendered, got %d", len(view.rendered))
	}
	joined, leftMsg := view.rendered[0], view.rendered[1]
	if !joined.System || !strings.Contains(joined.Content, "ada joined the chat") {
		t.Errorf("unexpected join message: %+v", joined)
	}
	if !leftMsg.System || !strings.Contains(leftMsg.Content, "ada left the chat") {
		t.Errorf("unexpected leave message: %+v", leftMsg)
	}
	// Synthetic messages also refresh the chat list like real ones.
	if len(view.listUpdates) != 2 {
		t.Errorf("expected chat-list updates for synthetic messages, got %d", len(view.listUpdates))
	}
}

func TestMembershipChangeInBackgroundChatNotifies(t *testing.T) {
	router, bus, _, view := newTestRouter(t)
	router.SetCurrentChat("c1")

	bus.Publish(eventbus.TopicInbound, protocol.UserJoinedChatMsg{
		ChatID: "c2",
		User:   protocol.User{ID: "u2", Username: "ada"},
	})

	if router.UnreadCount("c2") != 1 {
		t.Errorf("expected synthetic message to count as unread, got %d", router.UnreadCount("c2"))
	}
	view.mu.Lock()
	defer view.mu.Unlock()
	if len(view.notifications) != 1 {
		t.Errorf("expected a notification, got %d", len(view.notifications))
	}
}

// ---------------------------------------------------------------------------
// Chat lifecycle
// ---------------------------------------------------------------------------

func TestChatCreatedAndUpdated(t *testing.T) {
	_, bus, _, view := newTestRouter(t)

	bus.Publish(eventbus.TopicInbound, protocol.ChatCreatedMsg{Chat: protocol.ChatInfo{ID: "c1", Name: "general"}})
	bus.Publish(eventbus.TopicInbound, protocol.ChatUpdatedMsg{Chat: protocol.ChatInfo{ID: "c1", Name: "general-renamed"}})

	view.mu.Lock()
	defer view.mu.Unlock()
	if len(view.upserts) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(view.upserts))
	}
	if view.upserts[1].Name != "general-renamed" {
		t.Errorf("expected rename to reach the view, got %+v", view.upserts[1])
	}
}

func TestChatDeletedWhileFocused(t *testing.T) {
	router, bus, _, view := newTestRouter(t)
	router.SetCurrentChat("c1")

	bus.Publish(eventbus.TopicInbound, protocol.ChatDeletedMsg{ChatID: "c1"})

	if router.CurrentChat() != "" {
		t.Errorf("expected focus cleared, got %q", router.CurrentChat())
	}
	view.mu.Lock()
	defer view.mu.Unlock()
	if len(view.removed) != 1 || view.removed[0] != "c1" {
		t.Errorf("expected c1 removed from the list, got %v", view.removed)
	}
	if len(view.left) != 1 || view.left[0] != "c1" {
		t.Errorf("expected navigation away from c1, got %v", view.left)
	}
}

func TestChatDeletedInBackground(t *testing.T) {
	router, bus, _, view := newTestRouter(t)
	router.SetCurrentChat("c1")
	bus.Publish(eventbus.TopicInbound, protocol.ChatMessageMsg{ChatID: "c2", Content: "one"})

	bus.Publish(eventbus.TopicInbound, protocol.ChatDeletedMsg{ChatID: "c2"})

	if router.CurrentChat() != "c1" {
		t.Errorf("expected focus untouched, got %q", router.CurrentChat())
	}
	if router.UnreadCount("c2") != 0 {
		t.Errorf("expected unread dropped with the chat, got %d", router.UnreadCount("c2"))
	}
	view.mu.Lock()
	defer view.mu.Unlock()
	if len(view.left) != 0 {
		t.Errorf("expected no navigation for a background delete, got %v", view.left)
	}
}

func TestReadReceiptForwarded(t *testing.T) {
	_, bus, _, view := newTestRouter(t)

	bus.Publish(eventbus.TopicInbound, protocol.ServerReadReceiptMsg{
		ChatID: "c1", UserID: "u2", MessageID: "m1",
	})

	view.mu.Lock()
	defer view.mu.Unlock()
	if len(view.receipts) != 1 || view.receipts[0].MessageID != "m1" {
		t.Errorf("expected the receipt forwarded, got %v", view.receipts)
	}
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

func TestSendChatMessage(t *testing.T) {
	router, _, sender, _ := newTestRouter(t)

	queued, err := router.SendChatMessage("c1", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if queued {
		t.Error("expected direct send while connected")
	}
	if types := sender.sentTypes(); len(types) != 1 || types[0] != protocol.TypeChatMessage {
		t.Errorf("expected a chat_message frame, got %v", types)
	}

	if _, err := router.SendChatMessage("", "hello"); err == nil {
		t.Error("expected error for empty chat id")
	}
	if _, err := router.SendChatMessage("c1", ""); err == nil {
		t.Error("expected error for empty content")
	}
}

func TestSendReadReceiptClearsUnread(t *testing.T) {
	router, bus, sender, _ := newTestRouter(t)
	router.SetCurrentChat("c1")
	bus.Publish(eventbus.TopicInbound, protocol.ChatMessageMsg{ChatID: "c2", Content: "one"})

	if _, err := router.SendReadReceipt("c2", "m1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if router.UnreadCount("c2") != 0 {
		t.Errorf("expected unread cleared, got %d", router.UnreadCount("c2"))
	}
	types := sender.sentTypes()
	if types[len(types)-1] != protocol.TypeReadReceipt {
		t.Errorf("expected a read_receipt frame, got %v", types)
	}
}
