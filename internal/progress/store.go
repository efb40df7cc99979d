package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vodpipe/internal/config"
	"vodpipe/internal/services"
)

// Store persists progress records.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, uploadID string) (Record, error)
	Delete(ctx context.Context, uploadID string) error
	// Sweep evicts records created before cutoff and reports how many went.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// Open selects the store backend from configuration.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Progress.Backend {
	case config.ProgressRedis:
		return NewRedisStore(RedisOptions{
			Addr:      cfg.Progress.RedisAddr,
			Password:  cfg.Progress.RedisPassword,
			DB:        cfg.Progress.RedisDB,
			KeyPrefix: cfg.Progress.KeyPrefix,
			TTL:       cfg.ProgressTTL(),
		})
	case config.ProgressMemory, "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown progress backend %q", services.ErrConfiguration, cfg.Progress.Backend)
	}
}

// MemoryStore keeps records in a map guarded by a RWMutex so pollers never
// wait on each other.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore constructs an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UploadID] = rec.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, uploadID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[uploadID]
	if !ok {
		return Record{}, fmt.Errorf("progress %s: %w", uploadID, services.ErrNotFound)
	}
	return rec.clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, uploadID)
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many records are held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) Close() error { return nil }
