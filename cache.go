package bamboo

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/eringen/bamboo/ssg"
)

// ErrNotFound is returned when a requested site or media row does not exist.
var ErrNotFound = sql.ErrNoRows

// SiteCache is an in-memory cache of site records with TTL. Live rendering
// resolves a site on every request, so lookups avoid the database.
type SiteCache struct {
	mu      sync.RWMutex
	sites   map[int64]ssg.Site
	fetched time.Time
	ttl     time.Duration
	store   *Store
}

// NewSiteCache creates a SiteCache backed by the given Store.
func NewSiteCache(s *Store, ttl time.Duration) *SiteCache {
	return &SiteCache{store: s, ttl: ttl}
}

func (c *SiteCache) valid() bool {
	return c.sites != nil && time.Since(c.fetched) < c.ttl
}

// Invalidate clears the cache so the next read triggers a fresh load.
func (c *SiteCache) Invalidate() {
	c.mu.Lock()
	c.sites = nil
	c.mu.Unlock()
}

func (c *SiteCache) load(ctx context.Context) error {
	if c.valid() {
		return nil
	}
	sites, err := c.store.ListSites(ctx)
	if err != nil {
		return err
	}
	byID := make(map[int64]ssg.Site, len(sites))
	for _, s := range sites {
		byID[s.ID] = s
	}
	c.sites = byID
	c.fetched = time.Now()
	return nil
}

// ensureLoaded returns the cached sites after ensuring the cache is fresh.
// It tries a read lock first; only takes a write lock if a reload is needed.
func (c *SiteCache) ensureLoaded(ctx context.Context) (map[int64]ssg.Site, error) {
	c.mu.RLock()
	if c.valid() {
		sites := c.sites
		c.mu.RUnlock()
		return sites, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	return c.sites, nil
}

// GetSite returns a site by id from the cache, or ErrNotFound.
func (c *SiteCache) GetSite(ctx context.Context, id int64) (ssg.Site, error) {
	sites, err := c.ensureLoaded(ctx)
	if err != nil {
		return ssg.Site{}, err
	}
	site, ok := sites[id]
	if !ok {
		return ssg.Site{}, ErrNotFound
	}
	return site, nil
}
