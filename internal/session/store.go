package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("session not found")

const (
	RoleAdmin   = "admin"
	RoleStudent = "student"
)

// Identity is what a valid session token resolves to.
type Identity struct {
	Role   string `json:"role"`
	UserID string `json:"user_id"`
}

// Store keeps opaque session tokens in Redis so that a multi-instance
// deployment shares one session space and admin freezes take effect
// immediately.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{
		client: client,
		ttl:    ttl,
	}
}

func sessionKey(token string) string {
	return "session:" + token
}

func userSessionsKey(userID string) string {
	return "user_sessions:" + userID
}

// Create issues a fresh token for the identity. The token is also
// tracked per user so RevokeUser can find it later.
func (s *Store) Create(ctx context.Context, ident Identity) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	token := hex.EncodeToString(buf)

	payload, err := json.Marshal(ident)
	if err != nil {
		return "", fmt.Errorf("marshal session identity: %w", err)
	}

	if err := s.client.Set(ctx, sessionKey(token), payload, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}

	if err := s.client.SAdd(ctx, userSessionsKey(ident.UserID), token).Err(); err != nil {
		return "", fmt.Errorf("index session: %w", err)
	}
	// The index must not outlive the sessions it points at by much.
	_ = s.client.Expire(ctx, userSessionsKey(ident.UserID), s.ttl).Err()

	return token, nil
}

func (s *Store) Get(ctx context.Context, token string) (*Identity, error) {
	raw, err := s.client.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	var ident Identity
	if err := json.Unmarshal(raw, &ident); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	return &ident, nil
}

func (s *Store) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// RevokeUser drops every live session for the user. Called when an
// admin freezes a previously approved student.
func (s *Store) RevokeUser(ctx context.Context, userID string) error {
	tokens, err := s.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("list user sessions: %w", err)
	}

	for _, token := range tokens {
		if err := s.client.Del(ctx, sessionKey(token)).Err(); err != nil {
			return fmt.Errorf("revoke session: %w", err)
		}
	}

	if err := s.client.Del(ctx, userSessionsKey(userID)).Err(); err != nil {
		return fmt.Errorf("drop session index: %w", err)
	}

	return nil
}
