package chain

import (
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

type cachedRead struct {
	values    []any
	expiresAt time.Time
}

// readCache memoizes view-call results for a short TTL. A nil *readCache is a
// valid, disabled cache.
type readCache struct {
	entries *lru.Cache
	ttl     time.Duration
	now     func() time.Time
}

func newReadCache(size int, ttl time.Duration) (*readCache, error) {
	if size <= 0 || ttl <= 0 {
		return nil, nil
	}
	entries, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create read cache: %w", err)
	}
	return &readCache{entries: entries, ttl: ttl, now: time.Now}, nil
}

func readCacheKey(name ContractName, fn string, args []any) string {
	var b strings.Builder
	b.WriteString(string(name))
	b.WriteByte('|')
	b.WriteString(fn)
	for _, a := range args {
		fmt.Fprintf(&b, "|%v", a)
	}
	return b.String()
}

func (c *readCache) get(key string) ([]any, bool) {
	if c == nil {
		return nil, false
	}
	raw, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	entry := raw.(cachedRead)
	if c.now().After(entry.expiresAt) {
		c.entries.Remove(key)
		return nil, false
	}
	return entry.values, true
}

func (c *readCache) put(key string, values []any) {
	if c == nil {
		return
	}
	c.entries.Add(key, cachedRead{values: values, expiresAt: c.now().Add(c.ttl)})
}

// invalidate drops every cached read for a contract after a write to it.
func (c *readCache) invalidate(name ContractName) {
	if c == nil {
		return
	}
	prefix := string(name) + "|"
	for _, k := range c.entries.Keys() {
		if s, ok := k.(string); ok && strings.HasPrefix(s, prefix) {
			c.entries.Remove(k)
		}
	}
}
