package onvif

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is what discovery learned about one device.
type Entry struct {
	PTZAddress   string
	MediaAddress string
	ProfileToken string
	storedAt     time.Time
}

// Cache holds discovered service addresses and profile tokens per host.
// It is in-process only; nothing is written back to the registry.
type Cache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, Entry]
	ttl   time.Duration
	now   func() time.Time
}

func NewCache(maxHosts int, ttl time.Duration) *Cache {
	if maxHosts <= 0 {
		maxHosts = 1024
	}
	c, _ := lru.New[string, Entry](maxHosts)
	return &Cache{cache: c, ttl: ttl, now: time.Now}
}

func (c *Cache) Get(host string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	e, ok := c.cache.Get(host)
	if !ok {
		return Entry{}, false
	}
	if c.ttl > 0 && c.now().Sub(e.storedAt) >= c.ttl {
		c.cache.Remove(host)
		return Entry{}, false
	}
	return e, true
}

// Put merges non-empty fields of e into the entry for host.
func (c *Cache) Put(host string, e Entry) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, _ := c.Get(host)
	if e.PTZAddress != "" {
		cur.PTZAddress = e.PTZAddress
	}
	if e.MediaAddress != "" {
		cur.MediaAddress = e.MediaAddress
	}
	if e.ProfileToken != "" {
		cur.ProfileToken = e.ProfileToken
	}
	cur.storedAt = c.now()
	c.cache.Add(host, cur)
}

func (c *Cache) Invalidate(host string) {
	if c == nil {
		return
	}
	c.cache.Remove(host)
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
