// Package account provides PostgreSQL-backed storage for user accounts and
// the auth tokens the WebSocket handshake validates. Tokens are opaque UUID
// strings issued with an expiry; the authenticate handler exchanges one for
// the owning user.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver
)

// ErrInvalidToken is returned when a token is unknown or expired.
var ErrInvalidToken = errors.New("account: invalid or expired token")

// DefaultTokenTTL is how long an issued token stays valid.
const DefaultTokenTTL = 24 * time.Hour

// User is an account row.
type User struct {
	ID        string
	Username  string
	CreatedAt time.Time
}

// Store manages users and auth tokens in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("account: open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("account: postgres connection failed: %w", err)
	}
	return db, nil
}

// NewStore creates an account store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateUser inserts a new user and returns it.
func (s *Store) CreateUser(ctx context.Context, username string) (*User, error) {
	if username == "" {
		return nil, fmt.Errorf("account: username is required")
	}

	user := &User{
		ID:        uuid.New().String(),
		Username:  username,
		CreatedAt: time.Now(),
	}

	const query = `
		INSERT INTO users (id, username, created_at)
		VALUES ($1, $2, $3)`

	if _, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.CreatedAt); err != nil {
		return nil, fmt.Errorf("account: insert user: %w", err)
	}
	return user, nil
}

// GetUser returns the user with the given id, or nil if not found.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, username, created_at
		FROM users
		WHERE id = $1`

	var user User
	err := s.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("account: get user: %w", err)
	}
	return &user, nil
}

// IssueToken creates a new auth token for userID with the given TTL.
// A ttl <= 0 falls back to DefaultTokenTTL.
func (s *Store) IssueToken(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	token := uuid.New().String()

	const query = `
		INSERT INTO auth_tokens (token, user_id, expires_at)
		VALUES ($1, $2, $3)`

	if _, err := s.db.ExecContext(ctx, query, token, userID, time.Now().Add(ttl)); err != nil {
		return "", fmt.Errorf("account: insert token: %w", err)
	}
	return token, nil
}

// Authenticate exchanges a token for its owning user. Unknown and expired
// tokens both return ErrInvalidToken; callers do not learn which.
func (s *Store) Authenticate(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	const query = `
		SELECT u.id, u.username, u.created_at
		FROM auth_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token = $1
		  AND t.expires_at > NOW()`

	var user User
	err := s.db.QueryRowContext(ctx, query, token).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("account: authenticate: %w", err)
	}
	return &user, nil
}

// DeleteExpiredTokens removes tokens past their expiry. Intended for a
// periodic cleanup job; returns the number of rows deleted.
func (s *Store) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	const query = `DELETE FROM auth_tokens WHERE expires_at <= NOW()`

	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("account: delete expired tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("account: rows affected: %w", err)
	}
	return n, nil
}
