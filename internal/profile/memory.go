package profile

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/spaolacci/murmur3"

	"threatshield/pkg/models"
)

const lockStripes = 64

// MemoryConfig configures the in-process profile store.
type MemoryConfig struct {
	MaxEntries int
	TTL        time.Duration
	HistoryCap int
}

// MemoryStore keeps profiles in a size-bounded LRU whose entries expire after
// TTL. Updates to one key are serialized by a striped lock.
type MemoryStore struct {
	cache      *expirable.LRU[string, *models.AttackerProfile]
	locks      [lockStripes]sync.Mutex
	historyCap int
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	return &MemoryStore{
		cache:      expirable.NewLRU[string, *models.AttackerProfile](cfg.MaxEntries, nil, cfg.TTL),
		historyCap: cfg.HistoryCap,
	}
}

// Upsert merges the observation into the stored profile.
func (s *MemoryStore) Upsert(ctx context.Context, obs Observation) (*models.AttackerProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mu := s.lockFor(obs.Key)
	mu.Lock()
	defer mu.Unlock()

	existing, _ := s.cache.Get(obs.Key)
	merged := Merge(existing, obs, s.historyCap)
	s.cache.Add(obs.Key, merged)
	return merged.Clone(), nil
}

// Get returns a copy of the stored profile.
func (s *MemoryStore) Get(ctx context.Context, key string) (*models.AttackerProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := s.cache.Get(key)
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

// Len reports the number of live profiles.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Close drops all profiles.
func (s *MemoryStore) Close() error {
	s.cache.Purge()
	return nil
}

func (s *MemoryStore) lockFor(key string) *sync.Mutex {
	return &s.locks[murmur3.Sum32([]byte(key))%lockStripes]
}
