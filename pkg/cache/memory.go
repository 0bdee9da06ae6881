package cache

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

// MemoryItem stores an encoded value with expiration. A zero ExpireAt never
// expires.
type MemoryItem struct {
	Value    []byte
	ExpireAt time.Time
}

func (m *MemoryItem) expired(now time.Time) bool {
	return !m.ExpireAt.IsZero() && now.After(m.ExpireAt)
}

// MemoryCache implements Service in process. It backs tests and runs where
// Redis is disabled; values go through the same JSON encoding as Redis.
type MemoryCache struct {
	mutex   sync.RWMutex
	data    map[string]*MemoryItem
	hashes  map[string]map[string]string
	access  map[string]time.Time
	maxSize int
	now     func() time.Time
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize: 10000,
		Now:     time.Now,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &MemoryCache{
		data:    make(map[string]*MemoryItem),
		hashes:  make(map[string]map[string]string),
		access:  make(map[string]time.Time),
		maxSize: cfg.MaxSize,
		now:     cfg.Now,
	}
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := mc.now()
	if _, ok := mc.data[key]; !ok && len(mc.data) >= mc.maxSize {
		mc.evictLRU()
	}
	item := &MemoryItem{Value: data}
	if expiration > 0 {
		item.ExpireAt = now.Add(expiration)
	}
	mc.data[key] = item
	mc.access[key] = now
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := mc.now()
	item, exists := mc.data[key]
	if !exists || item.expired(now) {
		if exists {
			delete(mc.data, key)
			delete(mc.access, key)
		}
		return ErrCacheMiss
	}
	mc.access[key] = now
	return decode(item.Value, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for _, key := range keys {
		delete(mc.data, key)
		delete(mc.access, key)
		delete(mc.hashes, key)
	}
	return nil
}

// Keys matches with path.Match, which covers the '*' globs the
// repositories use.
func (mc *MemoryCache) Keys(_ context.Context, pattern string) ([]string, error) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	now := mc.now()
	var out []string
	for key, item := range mc.data {
		if item.expired(now) {
			continue
		}
		if ok, err := path.Match(pattern, key); err != nil {
			return nil, err
		} else if ok {
			out = append(out, key)
		}
	}
	for key := range mc.hashes {
		if ok, _ := path.Match(pattern, key); ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (mc *MemoryCache) HSet(_ context.Context, key string, values map[string]string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	h, ok := mc.hashes[key]
	if !ok {
		h = make(map[string]string, len(values))
		mc.hashes[key] = h
	}
	for k, v := range values {
		h[k] = v
	}
	return nil
}

func (mc *MemoryCache) HGetAll(_ context.Context, key string) (map[string]string, error) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	h, ok := mc.hashes[key]
	if !ok || len(h) == 0 {
		return nil, ErrCacheMiss
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

func (mc *MemoryCache) Ping(context.Context) error { return nil }

func (mc *MemoryCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time
	for key, accessTime := range mc.access {
		if oldestKey == "" || accessTime.Before(oldestTime) {
			oldestTime = accessTime
			oldestKey = key
		}
	}
	if oldestKey != "" {
		delete(mc.data, oldestKey)
		delete(mc.access, oldestKey)
	}
}

// Close is a no-op kept for symmetry with RedisCache.
func (mc *MemoryCache) Close() error { return nil }

var _ Service = (*MemoryCache)(nil)
