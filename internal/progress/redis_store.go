package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"vodpipe/internal/services"
)

// RedisOptions configures RedisStore.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
	Client    redis.UniversalClient
}

// RedisStore keeps records as JSON strings whose key expiry enforces the
// TTL measured from record creation.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	client := opts.Client
	if client == nil {
		addr := strings.TrimSpace(opts.Addr)
		if addr == "" {
			return nil, fmt.Errorf("%w: redis addr is required", services.ErrConfiguration)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:        []string{addr},
			Password:     opts.Password,
			DB:           opts.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
			MaxRetries:   2,
		})
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "vodpipe:progress:"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	store := &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return store, nil
}

func (s *RedisStore) key(uploadID string) string {
	return s.prefix + uploadID
}

// expiry returns the remaining lifetime of a record created at createdAt.
func expiry(ttl time.Duration, createdAt, now time.Time) time.Duration {
	if createdAt.IsZero() {
		return ttl
	}
	return ttl - now.Sub(createdAt)
}

func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	remaining := expiry(s.ttl, rec.CreatedAt, s.now())
	if remaining <= 0 {
		return s.Delete(ctx, rec.UploadID)
	}
	payload, err := json.Marshal(rec.clone())
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := s.client.Set(ctx, s.key(rec.UploadID), payload, remaining).Err(); err != nil {
		return fmt.Errorf("redis set progress: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, uploadID string) (Record, error) {
	payload, err := s.client.Get(ctx, s.key(uploadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("progress %s: %w", uploadID, services.ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("redis get progress: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("decode progress: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, uploadID string) error {
	if err := s.client.Del(ctx, s.key(uploadID)).Err(); err != nil {
		return fmt.Errorf("redis delete progress: %w", err)
	}
	return nil
}

// Sweep is a no-op: redis expires keys itself.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
