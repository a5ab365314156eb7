package store

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenStore persists the remote store's session token across app restarts.
// The token is opaque: the client never interprets it beyond sending it back
// as the bearer credential.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

type memoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryTokenStore returns a process-local token store. Used when no
// redis instance is configured and in tests.
func NewMemoryTokenStore() TokenStore {
	return &memoryTokenStore{}
}

func (m *memoryTokenStore) Load(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, nil
}

func (m *memoryTokenStore) Save(_ context.Context, token string) error {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return nil
}

func (m *memoryTokenStore) Clear(_ context.Context) error {
	return m.Save(context.Background(), "")
}

const (
	tokenKey     = "firequiz:session_token"
	loadTimeout  = 2 * time.Second
	saveTimeout  = 2 * time.Second
	clearTimeout = time.Second
)

type redisTokenStore struct {
	client redis.UniversalClient
}

// NewRedisTokenStore persists the token in redis under a fixed key.
func NewRedisTokenStore(client redis.UniversalClient) TokenStore {
	return &redisTokenStore{client: client}
}

func (r *redisTokenStore) Load(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	token, err := r.client.Get(ctx, tokenKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

func (r *redisTokenStore) Save(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	return r.client.Set(ctx, tokenKey, token, 0).Err()
}

func (r *redisTokenStore) Clear(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, clearTimeout)
	defer cancel()
	return r.client.Del(ctx, tokenKey).Err()
}
