package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lexchat/internal/redis"
)

const (
	redisSessionPrefix = "session:"
	redisUserPrefix    = "session:user:"
)

// RedisStore keeps sessions as expiring keys plus a per-user index set.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a store over a connected client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, session Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("save session: already expired")
	}
	raw := s.client.Raw()
	if raw == nil {
		return errors.New("save session: redis unavailable")
	}
	ok, err := raw.SetNX(ctx, redisSessionPrefix+session.Token, session.UserID, ttl).Result()
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if !ok {
		return errors.New("save session: token exists")
	}
	if err := s.client.AddToSet(ctx, redisUserPrefix+session.UserID, ttl, session.Token); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, token string) (Session, error) {
	key := redisSessionPrefix + token
	userID, err := s.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("lookup session: %w", err)
	}
	ttl, err := s.client.TTL(ctx, key)
	if err != nil {
		return Session{}, fmt.Errorf("session ttl: %w", err)
	}
	session := Session{Token: token, UserID: userID, ExpiresAt: time.Now().UTC().Add(ttl)}
	if ttl < 0 {
		// no expiry recorded; treat as a fresh key
		session.ExpiresAt = time.Now().UTC().Add(time.Hour)
	}
	return session, nil
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	key := redisSessionPrefix + token
	userID, err := s.client.Get(ctx, key)
	if err != nil && !errors.Is(err, redis.ErrCacheMiss) {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := s.client.Del(ctx, key); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if userID != "" {
		_ = s.client.RemoveFromSet(ctx, redisUserPrefix+userID, token)
	}
	return nil
}

func (s *RedisStore) DeleteUser(ctx context.Context, userID string) error {
	setKey := redisUserPrefix + userID
	tokens, err := s.client.Members(ctx, setKey)
	if err != nil {
		return fmt.Errorf("list user sessions: %w", err)
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		keys = append(keys, redisSessionPrefix+token)
	}
	keys = append(keys, setKey)
	if err := s.client.Del(ctx, keys...); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}
