// Package protocol defines the WebSocket message types and structures used for
// communication between the chat client and server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeAuthenticate = "authenticate"
	TypePing         = "ping"
	TypeJoinChat     = "join_chat"
	TypeLeaveChat    = "leave_chat"
	TypeTyping       = "typing"
	TypeReadReceipt  = "read_receipt"
)

// Server -> Client message types.
const (
	TypeAuthSuccess     = "auth_success"
	TypeAuthError       = "auth_error"
	TypePong            = "pong"
	TypeChatMessage     = "chat_message"
	TypeTypingIndicator = "typing_indicator"
	TypeUserStatus      = "user_status"
	TypeChatCreated     = "chat_created"
	TypeChatUpdated     = "chat_updated"
	TypeChatDeleted     = "chat_deleted"
	TypeUserJoinedChat  = "user_joined_chat"
	TypeUserLeftChat    = "user_left_chat"
	TypeError           = "error"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// AuthenticateMsg is sent by the client after the socket opens to bind the
// connection to a user. The connection stays unauthenticated until the server
// replies with auth_success.
type AuthenticateMsg struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// PingMsg is the client-initiated heartbeat probe. The send timestamp is kept
// client-side and used to compute round-trip latency when the pong arrives.
type PingMsg struct {
	Type string `json:"type"`
}

// JoinChatMsg signals that the client wants to receive events for a chat.
type JoinChatMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// LeaveChatMsg signals that the client no longer wants events for a chat.
type LeaveChatMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// SendMessageMsg is a chat message sent by the client. It shares the
// chat_message type string with the server-side ChatMessageMsg; direction
// decides which struct decodes it.
type SendMessageMsg struct {
	Type    string `json:"type"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// ClientTypingMsg indicates whether the local user is typing in a chat.
type ClientTypingMsg struct {
	Type     string `json:"type"`
	ChatID   string `json:"chat_id"`
	IsTyping bool   `json:"is_typing"`
}

// ReadReceiptMsg acknowledges that the client has read a chat up to a message.
type ReadReceiptMsg struct {
	Type      string `json:"type"`
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// AuthSuccessMsg is sent by the server when the authenticate handshake is
// accepted.
type AuthSuccessMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// AuthErrorMsg is sent by the server when the authenticate handshake is
// rejected. The connection is left open so the client can retry the
// handshake with fresh credentials.
type AuthErrorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// PongMsg is the server's reply to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ChatMessageMsg is a new message delivered to a chat the client has joined.
type ChatMessageMsg struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	ChatID     string `json:"chat_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
	System     bool   `json:"system,omitempty"`
}

// TypingIndicatorMsg relays another user's typing state. The server emits
// this payload under both the "typing" and "typing_indicator" type strings
// depending on the emitting path; clients treat the two identically.
type TypingIndicatorMsg struct {
	Type     string `json:"type"`
	ChatID   string `json:"chat_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// UserStatusMsg is a presence update for a single user.
type UserStatusMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Status string `json:"status"` // "online" or "offline"
}

// ChatInfo describes a chat in lifecycle events.
type ChatInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ChatCreatedMsg announces a newly created chat the client is a member of.
type ChatCreatedMsg struct {
	Type string   `json:"type"`
	Chat ChatInfo `json:"chat"`
}

// ChatUpdatedMsg announces a metadata change on an existing chat.
type ChatUpdatedMsg struct {
	Type string   `json:"type"`
	Chat ChatInfo `json:"chat"`
}

// ChatDeletedMsg announces that a chat has been removed.
type ChatDeletedMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// User identifies a user in membership events.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// UserJoinedChatMsg announces that a user joined a chat.
type UserJoinedChatMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
	User   User   `json:"user"`
}

// UserLeftChatMsg announces that a user left a chat.
type UserLeftChatMsg struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
	User   User   `json:"user"`
}

// ServerReadReceiptMsg relays a read receipt from another member of a chat.
type ServerReadReceiptMsg struct {
	Type      string `json:"type"`
	ChatID    string `json:"chat_id"`
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types. The server read path uses this.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAuthenticate:
		var m AuthenticateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinChat:
		var m JoinChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveChat:
		var m LeaveChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChatMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m ClientTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReadReceipt:
		var m ReadReceiptMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// ParseServerMessage parses raw WebSocket bytes into a typed server message.
// The client read path uses this: anything that does not decode into a known
// tag is rejected so the caller can drop and log it without touching
// connection state.
func ParseServerMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAuthSuccess:
		var m AuthSuccessMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAuthError:
		var m AuthErrorMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePong:
		var m PongMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChatMessage:
		var m ChatMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping, TypeTypingIndicator:
		var m TypingIndicatorMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUserStatus:
		var m UserStatusMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChatCreated:
		var m ChatCreatedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChatUpdated:
		var m ChatUpdatedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChatDeleted:
		var m ChatDeletedMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUserJoinedChat:
		var m UserJoinedChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUserLeftChat:
		var m UserLeftChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReadReceipt:
		var m ServerReadReceiptMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeError:
		var m ErrorMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown server message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewMessage creates a JSON-encoded byte slice for a message going in either
// direction. The msgType is injected into the payload under the "type" key.
// The payload should be one of the message structs above (or any value that
// marshals to a JSON object); this function marshals it to JSON, injects the
// type field, and returns the final bytes.
func NewMessage(msgType string, payload interface{}) ([]byte, error) {
	if msgType == "" {
		return nil, fmt.Errorf("protocol: message type must not be empty")
	}

	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal message: %w", err)
	}
	return out, nil
}
