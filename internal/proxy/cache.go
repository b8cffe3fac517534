package proxy

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/maltedev/marketplace-extractor/internal/models"
)

// Entry is a cached proxy outcome: a candidate or the failure that occurred.
type Entry struct {
	Candidate *models.Candidate
	Err       error
	expiresAt time.Time
}

// Cache keeps proxy outcomes per resolved URL. Successes and failures expire
// independently; expired entries are dropped when next read.
type Cache struct {
	entries    *lru.Cache[string, Entry]
	successTTL time.Duration
	failureTTL time.Duration
	now        func() time.Time
}

func NewCache(size int, successTTL, failureTTL time.Duration) (*Cache, error) {
	entries, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy cache: %w", err)
	}
	return &Cache{
		entries:    entries,
		successTTL: successTTL,
		failureTTL: failureTTL,
		now:        time.Now,
	}, nil
}

// Get returns a live entry. The candidate is a copy so callers may trim it.
func (c *Cache) Get(key string) (Entry, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		return Entry{}, false
	}
	if !c.now().Before(e.expiresAt) {
		c.entries.Remove(key)
		return Entry{}, false
	}
	if e.Candidate != nil {
		clone := *e.Candidate
		e.Candidate = &clone
	}
	return e, true
}

func (c *Cache) Put(key string, candidate *models.Candidate, err error) {
	ttl := c.successTTL
	if err != nil || candidate == nil {
		ttl = c.failureTTL
		candidate = nil
	} else {
		clone := *candidate
		candidate = &clone
	}
	c.entries.Add(key, Entry{Candidate: candidate, Err: err, expiresAt: c.now().Add(ttl)})
}

func (c *Cache) Len() int {
	return c.entries.Len()
}
