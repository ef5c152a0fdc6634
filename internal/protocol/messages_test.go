package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid authenticate message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Authenticate(t *testing.T) {
	input := []byte(`{"type":"authenticate","token":"tok-abc123"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeAuthenticate {
		t.Fatalf("expected type %q, got %q", TypeAuthenticate, msgType)
	}

	am, ok := msg.(AuthenticateMsg)
	if !ok {
		t.Fatalf("expected AuthenticateMsg, got %T", msg)
	}
	if am.Token != "tok-abc123" {
		t.Errorf("expected token %q, got %q", "tok-abc123", am.Token)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid chat_message from a client
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatMessage(t *testing.T) {
	input := []byte(`{"type":"chat_message","chat_id":"chat-1","content":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeChatMessage {
		t.Fatalf("expected type %q, got %q", TypeChatMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.ChatID != "chat-1" {
		t.Errorf("expected chat_id %q, got %q", "chat-1", sm.ChatID)
	}
	if sm.Content != "Hello!" {
		t.Errorf("expected content %q, got %q", "Hello!", sm.Content)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing server messages on the client side
// ---------------------------------------------------------------------------

func TestParseServerMessage_AuthSuccess(t *testing.T) {
	input := []byte(`{"type":"auth_success","user_id":"u1"}`)

	msgType, msg, err := ParseServerMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeAuthSuccess {
		t.Fatalf("expected type %q, got %q", TypeAuthSuccess, msgType)
	}

	as, ok := msg.(AuthSuccessMsg)
	if !ok {
		t.Fatalf("expected AuthSuccessMsg, got %T", msg)
	}
	if as.UserID != "u1" {
		t.Errorf("expected user_id %q, got %q", "u1", as.UserID)
	}
}

func TestParseServerMessage_TypingAliases(t *testing.T) {
	// The server emits the same payload as both "typing" and
	// "typing_indicator"; both must decode into TypingIndicatorMsg.
	for _, typeName := range []string{TypeTyping, TypeTypingIndicator} {
		input := []byte(`{"type":"` + typeName + `","chat_id":"chat-2","user_id":"u2","username":"ada","is_typing":true}`)

		_, msg, err := ParseServerMessage(input)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", typeName, err)
		}

		ti, ok := msg.(TypingIndicatorMsg)
		if !ok {
			t.Fatalf("%s: expected TypingIndicatorMsg, got %T", typeName, msg)
		}
		if ti.ChatID != "chat-2" || ti.UserID != "u2" || ti.Username != "ada" || !ti.IsTyping {
			t.Errorf("%s: decoded fields mismatch: %+v", typeName, ti)
		}
	}
}

func TestParseServerMessage_UserJoinedChat(t *testing.T) {
	input := []byte(`{"type":"user_joined_chat","chat_id":"chat-3","user":{"id":"u9","username":"grace"}}`)

	msgType, msg, err := ParseServerMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeUserJoinedChat {
		t.Fatalf("expected type %q, got %q", TypeUserJoinedChat, msgType)
	}

	uj, ok := msg.(UserJoinedChatMsg)
	if !ok {
		t.Fatalf("expected UserJoinedChatMsg, got %T", msg)
	}
	if uj.User.ID != "u9" || uj.User.Username != "grace" {
		t.Errorf("decoded user mismatch: %+v", uj.User)
	}
}

// ---------------------------------------------------------------------------
// Test: Error cases
// ---------------------------------------------------------------------------

func TestParseServerMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"launch_missiles"}`)

	msgType, msg, err := ParseServerMessage(input)
	if err == nil {
		t.Fatal("expected error for unknown type, got nil")
	}
	if msgType != "launch_missiles" {
		t.Errorf("expected type to be returned even on error, got %q", msgType)
	}
	if msg != nil {
		t.Errorf("expected nil message, got %v", msg)
	}
}

func TestParseServerMessage_MissingType(t *testing.T) {
	input := []byte(`{"chat_id":"chat-1","content":"no type here"}`)

	_, _, err := ParseServerMessage(input)
	if err == nil {
		t.Fatal("expected error for missing type, got nil")
	}
	if !strings.Contains(err.Error(), "type") {
		t.Errorf("expected error to mention the type field, got %q", err.Error())
	}
}

func TestParseServerMessage_MalformedJSON(t *testing.T) {
	input := []byte(`{"type":"chat_message",`)

	_, _, err := ParseServerMessage(input)
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Building a message
// ---------------------------------------------------------------------------

func TestNewMessage_InjectsType(t *testing.T) {
	payload := ChatMessageMsg{
		ChatID:    "chat-7",
		SenderID:  "u3",
		Content:   "hi there",
		Timestamp: 1700000000,
	}

	data, err := NewMessage(TypeChatMessage, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeChatMessage {
		t.Errorf("expected type %q, got %v", TypeChatMessage, result["type"])
	}
	if result["chat_id"] != "chat-7" {
		t.Errorf("expected chat_id %q, got %v", "chat-7", result["chat_id"])
	}
	if result["content"] != "hi there" {
		t.Errorf("expected content %q, got %v", "hi there", result["content"])
	}
}

func TestNewMessage_EmptyType(t *testing.T) {
	_, err := NewMessage("", PingMsg{})
	if err == nil {
		t.Fatal("expected error for empty message type, got nil")
	}
}
