package quarantine

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"gatekeep/internal/config"
)

// RedisClient defines the Redis operations the store needs. The
// interface allows mocking in tests.
type RedisClient interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

var errKeyNotFound = errors.New("key not found")

// GoRedisClient wraps the go-redis client to implement RedisClient.
type GoRedisClient struct {
	client *redis.Client
}

// NewGoRedisClient creates a Redis client from configuration and
// verifies connectivity.
func NewGoRedisClient(cfg config.RedisConfig) (*GoRedisClient, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &GoRedisClient{client: client}, nil
}

func (g *GoRedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return g.client.Set(ctx, key, value, ttl).Err()
}

func (g *GoRedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := g.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errKeyNotFound
		}
		return nil, err
	}
	return []byte(val), nil
}

func (g *GoRedisClient) Delete(ctx context.Context, keys ...string) error {
	return g.client.Del(ctx, keys...).Err()
}

func (g *GoRedisClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	return g.client.Keys(ctx, pattern).Result()
}

func (g *GoRedisClient) Close() error {
	return g.client.Close()
}

// RedisStore implements Store using Redis. Suitable for deployments
// where multiple gateway instances share quarantine state.
type RedisStore struct {
	client RedisClient
	prefix string
	logger *slog.Logger

	// Serializes the read-compare-write in Place so the expiry stays
	// monotone within this process.
	placeMu sync.Mutex
}

// NewRedisStore creates a Redis-backed quarantine store.
func NewRedisStore(client RedisClient, prefix string, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "gatekeep:quarantine"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (r *RedisStore) key(subjectKey string) string {
	return fmt.Sprintf("%s:%s", r.prefix, subjectKey)
}

// Place quarantines a subject, extend-only.
func (r *RedisStore) Place(ctx context.Context, entry *Entry) (bool, error) {
	r.placeMu.Lock()
	defer r.placeMu.Unlock()

	key := r.key(entry.SubjectKey)
	stored := *entry

	if data, err := r.client.Get(ctx, key); err == nil {
		var existing Entry
		if err := json.Unmarshal(data, &existing); err == nil && existing.Active(time.Now()) {
			if !entry.ExpiresAt.After(existing.ExpiresAt) {
				return false, nil
			}
			stored.CreatedAt = existing.CreatedAt
		}
	}

	ttl := time.Until(stored.ExpiresAt)
	if ttl <= 0 {
		return false, nil
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return false, fmt.Errorf("failed to marshal quarantine entry: %w", err)
	}
	if err := r.client.Set(ctx, key, data, ttl); err != nil {
		return false, fmt.Errorf("failed to store quarantine entry: %w", err)
	}
	return true, nil
}

// Check returns the active entry for a subject.
func (r *RedisStore) Check(ctx context.Context, subjectKey string) (*Entry, error) {
	data, err := r.client.Get(ctx, r.key(subjectKey))
	if err != nil {
		if errors.Is(err, errKeyNotFound) {
			return nil, ErrNotQuarantined
		}
		return nil, fmt.Errorf("failed to read quarantine entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quarantine entry: %w", err)
	}
	if !entry.Active(time.Now()) {
		return nil, ErrNotQuarantined
	}
	return &entry, nil
}

// Release removes a subject's entry.
func (r *RedisStore) Release(ctx context.Context, subjectKey string) error {
	return r.client.Delete(ctx, r.key(subjectKey))
}

// Count returns the number of quarantine keys.
func (r *RedisStore) Count(ctx context.Context) (int, error) {
	keys, err := r.client.Keys(ctx, r.prefix+":*")
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Close releases the Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// MockRedisClient is an in-memory RedisClient for testing.
type MockRedisClient struct {
	mu     sync.RWMutex
	data   map[string][]byte
	expiry map[string]time.Time
	closed bool
}

// NewMockRedisClient creates a mock Redis client for testing.
func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{
		data:   make(map[string][]byte),
		expiry: make(map[string]time.Time),
	}
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("client closed")
	}
	m.data[key] = value
	if ttl > 0 {
		m.expiry[key] = time.Now().Add(ttl)
	} else {
		delete(m.expiry, key)
	}
	return nil
}

func (m *MockRedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errors.New("client closed")
	}
	if exp, ok := m.expiry[key]; ok && time.Now().After(exp) {
		return nil, errKeyNotFound
	}
	val, ok := m.data[key]
	if !ok {
		return nil, errKeyNotFound
	}
	return val, nil
}

func (m *MockRedisClient) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("client closed")
	}
	for _, key := range keys {
		delete(m.data, key)
		delete(m.expiry, key)
	}
	return nil
}

func (m *MockRedisClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errors.New("client closed")
	}
	now := time.Now()
	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		if exp, ok := m.expiry[key]; ok && now.After(exp) {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (m *MockRedisClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
