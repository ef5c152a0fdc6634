// Package messaging provides a NATS client wrapper for fanning chat and
// presence events out across server instances. A message published to a
// chat subject reaches every server that has a member of that chat
// connected, regardless of which instance accepted the original frame.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns.
const (
	SubjectChat     = "chat"            // + .<chat_id>
	SubjectPresence = "presence.status" // user online/offline transitions
	SubjectChats    = "chat.lifecycle"  // created/updated/deleted announcements
)

// Event is the envelope published on chat subjects. From carries the
// originating session so receivers can skip echoing a frame back to its
// sender where that matters (typing), and Frame is the ready-to-send
// client payload.
type Event struct {
	From  string          `json:"from"`
	Frame json.RawMessage `json:"frame"`
}

// EncodeEvent marshals an Event for publishing.
func EncodeEvent(from string, frame []byte) ([]byte, error) {
	return json.Marshal(Event{From: from, Frame: frame})
}

// DecodeEvent unmarshals an Event received from a chat subject.
func DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("messaging: decode event: %w", err)
	}
	return &ev, nil
}

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "beacon",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready client.
// It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *NATSClient) Subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// chatSubKey identifies one session's subscription to one chat. Keying by
// both allows many sessions on the same server to follow the same chat,
// and one session to follow many chats.
func chatSubKey(sessionID, chatID string) string {
	return "chatsub:" + sessionID + ":" + chatID
}

// SubscribeToChat subscribes a session to the chat.<chatID> subject.
func (c *NATSClient) SubscribeToChat(chatID, sessionID string, handler func(data []byte)) error {
	subject := SubjectChat + "." + chatID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[chatSubKey(sessionID, chatID)] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeFromChat removes a session's subscription to one chat.
func (c *NATSClient) UnsubscribeFromChat(sessionID, chatID string) error {
	return c.unsubscribe(chatSubKey(sessionID, chatID))
}

// UnsubscribeSession removes all of a session's chat subscriptions. Called
// on disconnect, when the joined set is no longer available for per-chat
// cleanup.
func (c *NATSClient) UnsubscribeSession(sessionID string) {
	prefix := "chatsub:" + sessionID + ":"

	c.mu.Lock()
	var doomed []string
	for key := range c.subs {
		if strings.HasPrefix(key, prefix) {
			doomed = append(doomed, key)
		}
	}
	c.mu.Unlock()

	for _, key := range doomed {
		if err := c.unsubscribe(key); err != nil {
			log.Printf("[nats] %v", err)
		}
	}
}

// PublishChatEvent publishes an event to the chat.<chatID> subject.
func (c *NATSClient) PublishChatEvent(chatID string, data []byte) error {
	subject := SubjectChat + "." + chatID
	return c.Publish(subject, data)
}

// PublishPresence publishes a user status frame to the presence subject.
func (c *NATSClient) PublishPresence(data []byte) error {
	return c.Publish(SubjectPresence, data)
}

// SubscribePresence subscribes to user status transitions from all servers.
func (c *NATSClient) SubscribePresence(handler func(data []byte)) error {
	return c.Subscribe(SubjectPresence, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// PublishChatLifecycle publishes a chat created/updated/deleted frame.
func (c *NATSClient) PublishChatLifecycle(data []byte) error {
	return c.Publish(SubjectChats, data)
}

// SubscribeChatLifecycle subscribes to chat lifecycle announcements.
func (c *NATSClient) SubscribeChatLifecycle(handler func(data []byte)) error {
	return c.Subscribe(SubjectChats, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes from a specific subject.
func (c *NATSClient) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for %s", key)
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}
