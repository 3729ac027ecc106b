package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/xaenox/codereview-threads/internal/models"
	"github.com/xaenox/codereview-threads/internal/provider"
)

const (
	DefaultTTL            = 5 * time.Minute
	DefaultCapacity       = 50
	DefaultKeyPrefixChars = 100
)

// Entry is a stored answer and the moment it was stored.
type Entry struct {
	Key      string
	Response provider.Result
	StoredAt time.Time
}

// ResponseCache memoizes successful answers per selection fingerprint.
// Eviction is FIFO by first insertion, not LRU: reading an entry does not
// extend its life or move it in the queue.
type ResponseCache struct {
	mu        sync.Mutex
	entries   map[string]Entry
	order     []string
	ttl       time.Duration
	capacity  int
	prefixLen int
	now       func() time.Time
}

type Option func(*ResponseCache)

func WithTTL(ttl time.Duration) Option {
	return func(c *ResponseCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithCapacity(n int) Option {
	return func(c *ResponseCache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithKeyPrefix sets how many characters of the selection go into the key.
func WithKeyPrefix(n int) Option {
	return func(c *ResponseCache) {
		if n > 0 {
			c.prefixLen = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) {
		c.now = now
	}
}

func New(opts ...Option) *ResponseCache {
	c := &ResponseCache{
		entries:   make(map[string]Entry),
		ttl:       DefaultTTL,
		capacity:  DefaultCapacity,
		prefixLen: DefaultKeyPrefixChars,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key fingerprints a selection as "<start>-<end>-<text prefix>". The question,
// settings and document are deliberately left out.
func (c *ResponseCache) Key(sel models.Selection) string {
	text := []rune(sel.Text)
	if len(text) > c.prefixLen {
		text = text[:c.prefixLen]
	}
	return fmt.Sprintf("%d-%d-%s", sel.StartLine, sel.EndLine, string(text))
}

// Get returns the stored answer if it is younger than the TTL. Expired
// entries are dropped on the way out.
func (c *ResponseCache) Get(key string) (provider.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return provider.Result{}, false
	}
	if c.now().Sub(entry.StoredAt) >= c.ttl {
		c.removeLocked(key)
		return provider.Result{}, false
	}
	return copyResult(entry.Response), true
}

// Put stores result under key. A new key joins the back of the queue and the
// oldest entry is evicted once capacity is exceeded. Re-putting a key keeps
// its queue position.
func (c *ResponseCache) Put(key string, result provider.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = Entry{Key: key, Response: copyResult(result), StoredAt: c.now()}

	for len(c.entries) > c.capacity && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
	c.order = nil
}

func (c *ResponseCache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// copyResult detaches the usage pointer so callers never share it with an entry.
func copyResult(r provider.Result) provider.Result {
	if r.Usage != nil {
		usage := *r.Usage
		r.Usage = &usage
	}
	return r
}
