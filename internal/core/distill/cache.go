package distill

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/agenthands/loom/internal/core/model"
)

// Cache avoids repeated inference calls for identical content within a
// process lifetime. Entries evict oldest-first past the size limit. The
// embedded singleflight group guarantees at-most-one in-flight distillation
// per key: concurrent callers for the same key share the first caller's
// result instead of issuing duplicate inference calls.
type Cache struct {
	mu      sync.Mutex
	limit   int
	entries map[string]*model.DistilledMoment
	order   []string

	flight singleflight.Group
}

const defaultCacheLimit = 4096

func NewCache(limit int) *Cache {
	if limit <= 0 {
		limit = defaultCacheLimit
	}
	return &Cache{
		limit:   limit,
		entries: make(map[string]*model.DistilledMoment),
	}
}

// Key derives a stable cache key from normalized content and the metadata
// subset that affects distillation. Metadata serializes with sorted keys so
// equal maps hash equally.
func Key(text string, metadata map[string]string) string {
	h := sha256.New()
	h.Write([]byte(text))
	if len(metadata) > 0 {
		// encoding/json sorts map keys.
		b, err := json.Marshal(metadata)
		if err == nil {
			h.Write(b)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) Get(key string) (*model.DistilledMoment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.entries[key]
	return m, ok
}

func (c *Cache) Put(key string, m *model.DistilledMoment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = m
	for len(c.entries) > c.limit && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Do returns the cached moment for key, or runs fn exactly once across all
// concurrent callers and caches its result. Errors are not cached.
func (c *Cache) Do(key string, fn func() (*model.DistilledMoment, error)) (*model.DistilledMoment, error) {
	if m, ok := c.Get(key); ok {
		return m, nil
	}
	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		// A racing caller may have populated the cache while we waited.
		if m, ok := c.Get(key); ok {
			return m, nil
		}
		m, err := fn()
		if err != nil {
			return nil, err
		}
		c.Put(key, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.DistilledMoment), nil
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
