package session

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process memory. Sessions do not survive a
// restart and are not shared between replicas.
type MemoryStore struct {
	cache *cache.Cache
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{cache: cache.New(ttl, ttl/2)}
}

func (s *MemoryStore) Create(_ context.Context, data Data) (string, error) {
	if data.CreatedAt.IsZero() {
		data.CreatedAt = time.Now()
	}
	token := newToken()
	s.cache.SetDefault(token, data)
	return token, nil
}

func (s *MemoryStore) Lookup(_ context.Context, token string) (Data, error) {
	v, ok := s.cache.Get(token)
	if !ok {
		return Data{}, ErrNotFound
	}
	return v.(Data), nil
}

func (s *MemoryStore) Revoke(_ context.Context, token string) error {
	s.cache.Delete(token)
	return nil
}

func (s *MemoryStore) Close() error {
	s.cache.Flush()
	return nil
}
