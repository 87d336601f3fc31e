package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// BlobStore is the persistent tier: one JSON blob per namespace.
// Implementations must be safe for concurrent use.
type BlobStore interface {
	Get(ctx context.Context, namespace string) ([]byte, bool, error)
	Set(ctx context.Context, namespace string, blob []byte) error
}

// RedisStore implements BlobStore using go-redis/v9. It also backs the API
// rate limiter, which needs atomic counters.
type RedisStore struct {
	client  *redis.Client
	blobTTL time.Duration
}

// NewRedisStore creates a new RedisStore from a Redis URL. Namespace blobs
// expire after blobTTL without writes; zero keeps them indefinitely.
func NewRedisStore(redisURL string, blobTTL time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opts), blobTTL: blobTTL}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, namespace string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, BlobKey(namespace)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, namespace string, blob []byte) error {
	return s.client.Set(ctx, BlobKey(namespace), blob, s.blobTTL).Err()
}

func (s *RedisStore) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// MemoryStore is an in-process BlobStore. Nothing survives a restart.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, namespace string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[namespace]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (s *MemoryStore) Set(_ context.Context, namespace string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[namespace] = append([]byte(nil), blob...)
	return nil
}

var (
	_ BlobStore = (*RedisStore)(nil)
	_ BlobStore = (*MemoryStore)(nil)
)
