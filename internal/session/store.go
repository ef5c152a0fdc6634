// Package session manages per-connection session state backed by Redis:
// which user a connection belongs to, their presence status, and the set
// of chats the connection has joined.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// chatsSuffix is appended to the session key for the joined-chats set.
	chatsSuffix = ":chats"

	// SessionTTL is the time-to-live for session keys in Redis.
	SessionTTL = 1 * time.Hour

	// Status constants for the session state machine.
	StatusPendingAuth = "pending_auth"
	StatusOnline      = "online"
)

// Session represents a connection's session state stored in Redis.
type Session struct {
	ID         string `redis:"id"`
	UserID     string `redis:"user_id"`  // empty until authenticated
	Username   string `redis:"username"` // empty until authenticated
	Status     string `redis:"status"`   // pending_auth | online
	Server     string `redis:"server"`   // which WS server instance
	CreatedAt  int64  `redis:"created_at"`
	LastActive int64  `redis:"last_active"`
}

// Store manages session state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this WS server instance
}

// NewStore creates a new session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create stores a new session in Redis with pending_auth status and 1h TTL.
func (s *Store) Create(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	now := time.Now().Unix()

	session := map[string]interface{}{
		"id":          sessionID,
		"user_id":     "",
		"username":    "",
		"status":      StatusPendingAuth,
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, session)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session from Redis. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := SessionPrefix + sessionID
	var session Session
	err := s.client.HGetAll(ctx, key).Scan(&session)
	if err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, nil // not found
	}
	return &session, nil
}

// SetUser binds an authenticated user to the session and flips the status
// to online.
func (s *Store) SetUser(ctx context.Context, sessionID, userID, username string) error {
	key := SessionPrefix + sessionID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"user_id", userID,
		"username", username,
		"status", StatusOnline,
		"last_active", time.Now().Unix(),
	)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// AddChat records that the session joined a chat. The joined-chats set
// shares the session's TTL.
func (s *Store) AddChat(ctx context.Context, sessionID, chatID string) error {
	key := SessionPrefix + sessionID + chatsSuffix
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, chatID)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RemoveChat records that the session left a chat.
func (s *Store) RemoveChat(ctx context.Context, sessionID, chatID string) error {
	key := SessionPrefix + sessionID + chatsSuffix
	return s.client.SRem(ctx, key, chatID).Err()
}

// Chats returns the chats the session has joined.
func (s *Store) Chats(ctx context.Context, sessionID string) ([]string, error) {
	key := SessionPrefix + sessionID + chatsSuffix
	return s.client.SMembers(ctx, key).Result()
}

// Touch updates last_active and refreshes the TTL of both session keys.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	pipe.Expire(ctx, key+chatsSuffix, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session and its joined-chats set from Redis.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.Del(ctx, key, key+chatsSuffix).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
