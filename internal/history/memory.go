package history

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/ruochenliao/text2sql/pkg/pipeline"
)

const (
	DefaultTTL      = 24 * time.Hour
	DefaultCapacity = 1000
)

type MemoryConfig struct {
	TTL      time.Duration
	Capacity uint64
}

func (cfg *MemoryConfig) Validate() error {
	if cfg.TTL < 0 {
		return errors.New("ttl must not be negative")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	return nil
}

// MemoryStore keeps recent runs in a TTL cache bounded by Capacity.
type MemoryStore struct {
	cache *ttlcache.Cache[string, *pipeline.Run]
}

func NewMemoryStore(cfg MemoryConfig) (*MemoryStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *pipeline.Run](cfg.TTL),
		ttlcache.WithCapacity[string, *pipeline.Run](cfg.Capacity),
		ttlcache.WithDisableTouchOnHit[string, *pipeline.Run](),
	)
	go cache.Start()
	return &MemoryStore{cache: cache}, nil
}

// Close stops the expiry loop.
func (s *MemoryStore) Close() {
	s.cache.Stop()
}

func (s *MemoryStore) Record(_ context.Context, run *pipeline.Run) error {
	if run == nil || run.ID == "" {
		return errors.New("run id is required")
	}
	s.cache.Set(run.ID, run, ttlcache.DefaultTTL)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*pipeline.Run, error) {
	item := s.cache.Get(id)
	if item == nil || item.IsExpired() {
		return nil, ErrNotFound
	}
	return item.Value(), nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]Summary, error) {
	var out []Summary
	for _, item := range s.cache.Items() {
		if item.IsExpired() {
			continue
		}
		out = append(out, Summarize(item.Value()))
	}
	slices.SortFunc(out, func(a, b Summary) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
