// Package imagecache serves paginated image lists for a vehicle from a
// process-local, TTL-bounded, read-through cache in front of the image store.
package imagecache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/Harborline-Auto/vehicle-gallery-api/internal/domain"
	clockport "github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/clock"
	"github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/imagerepo"
)

// ErrInvalidRequest is returned when a request has no vehicle identifier.
var ErrInvalidRequest = errors.New("imagecache: vin is required")

const (
	DefaultMaxEntries = 500
	DefaultRevalidate = 60 * time.Second
	DefaultPageSize   = 12
)

// Config tunes the cache. Zero values fall back to the package defaults.
type Config struct {
	MaxEntries        int
	DefaultRevalidate time.Duration
	DefaultPageSize   int
	// PublicBaseURL is prepended to storage keys to build image URLs.
	PublicBaseURL string
}

// Request selects one page of a vehicle's images.
type Request struct {
	VIN  domain.VIN
	Type domain.TypeFilter
	// Page is 1-based; values below 1 mean the first page.
	Page int
	// PageSize nil means the configured default; 0 disables pagination.
	PageSize *int
	// RevalidateAfter bounds the age of a cached list this caller accepts.
	// Zero or negative means the configured default.
	RevalidateAfter time.Duration
}

// List is one page of images plus pagination totals.
type List struct {
	Images      []domain.Image
	Count       int
	TotalPages  int
	CurrentPage int
}

// Stats is a point-in-time view of the cache contents.
type Stats struct {
	Size int
	Keys []string
}

type entry struct {
	list      List
	createdAt time.Time
	// ttl is the window the entry was stored with. Only housekeeping and Sweep
	// use it; reads check freshness against the caller's own window.
	ttl       time.Duration
}

func (e *entry) expired(now time.Time, window time.Duration) bool {
	return now.Sub(e.createdAt) >= window
}

// Cache is a read-through image list cache. It is safe for concurrent use.
//
// Concurrent misses for the same key share one backing fetch. A fetch that
// overlaps a ClearVIN or ClearAll still answers its callers but is not stored.
type Cache struct {
	repo imagerepo.Repository
	clk  clockport.Clock
	cfg  Config

	mu      sync.RWMutex
	entries map[Key]*entry
	// gen is bumped by every invalidation.
	gen uint64

	flight singleflight.Group
}

func New(repo imagerepo.Repository, clk clockport.Clock, cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.DefaultRevalidate <= 0 {
		cfg.DefaultRevalidate = DefaultRevalidate
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = DefaultPageSize
	}
	return &Cache{
		repo:    repo,
		clk:     clk,
		cfg:     cfg,
		entries: make(map[Key]*entry),
	}
}

// KeyFor normalizes req and derives its cache key.
func (c *Cache) KeyFor(req Request) (Key, error) {
	vin := domain.VIN(strings.TrimSpace(string(req.VIN)))
	if vin == "" {
		return Key{}, ErrInvalidRequest
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := c.cfg.DefaultPageSize
	if req.PageSize != nil && *req.PageSize >= 0 {
		pageSize = *req.PageSize
	}
	return Key{VIN: vin, Type: req.Type, Page: page, PageSize: pageSize}, nil
}

// GetImageList returns the requested page, from the cache when a fresh entry
// exists and from the backing store otherwise. Store errors are returned
// unchanged and never cached.
func (c *Cache) GetImageList(ctx context.Context, req Request) (List, error) {
	key, err := c.KeyFor(req)
	if err != nil {
		return List{}, err
	}
	window := req.RevalidateAfter
	if window <= 0 {
		window = c.cfg.DefaultRevalidate
	}

	if l, ok := c.lookup(key, window); ok {
		cacheHitsTotal.Inc()
		return l, nil
	}
	cacheMissesTotal.Inc()

	// The shared fetch must not die with whichever caller started it; each
	// caller still returns early on its own ctx below.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key.String(), func() (any, error) {
		return c.fill(fetchCtx, key, window)
	})
	select {
	case <-ctx.Done():
		return List{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return List{}, res.Err
		}
		return cloneList(res.Val.(List)), nil
	}
}

func (c *Cache) lookup(key Key, window time.Duration) (List, bool) {
	now := c.clk.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.expired(now, window) {
		return List{}, false
	}
	return cloneList(e.list), true
}

func (c *Cache) fill(ctx context.Context, key Key, window time.Duration) (List, error) {
	// A flight for this key may have finished between our lookup and DoChan.
	if l, ok := c.lookup(key, window); ok {
		return l, nil
	}

	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	q := imagerepo.Query{VIN: key.VIN, Type: key.Type}
	if key.PageSize > 0 {
		q.Limit = key.PageSize
		q.Offset = (key.Page - 1) * key.PageSize
	}
	page, err := c.repo.ListByVIN(ctx, q)
	if err != nil {
		cacheFetchErrorsTotal.Inc()
		return List{}, err
	}
	list := c.buildList(key, page)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		log.WithField("key", key.String()).Debug("Image list invalidated during fetch; not caching.")
		return list, nil
	}
	c.insertLocked(key, &entry{list: cloneList(list), createdAt: c.clk.Now(), ttl: window})
	return list, nil
}

func (c *Cache) buildList(key Key, page imagerepo.Page) List {
	images := make([]domain.Image, 0, len(page.Records))
	for _, r := range page.Records {
		images = append(images, c.Image(r))
	}
	domain.SortImages(images)
	return List{
		Images:      images,
		Count:       page.Total,
		TotalPages:  totalPages(page.Total, key.PageSize),
		CurrentPage: key.Page,
	}
}

// Image converts a stored record to an image with its public URL resolved.
func (c *Cache) Image(r imagerepo.Record) domain.Image {
	return domain.Image{
		ID:         r.ID,
		StorageKey: r.StorageKey,
		Type:       r.Type,
		VIN:        r.VIN,
		Priority:   domain.CloneBoolPtr(r.Priority),
		URL:        domain.ResolvePublicURL(c.cfg.PublicBaseURL, r.StorageKey),
	}
}

// totalPages is ceil(count/pageSize); an unpaginated list is a single page.
func totalPages(count, pageSize int) int {
	if pageSize <= 0 {
		return 1
	}
	return (count + pageSize - 1) / pageSize
}

// insertLocked stores e under key, making room first when a new key would
// push the map past MaxEntries. c.mu must be held for writing.
func (c *Cache) insertLocked(key Key, e *entry) {
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cfg.MaxEntries {
		c.housekeepLocked(e.createdAt)
	}
	c.entries[key] = e
	cacheEntries.Set(float64(len(c.entries)))
}

// housekeepLocked drops expired entries, then the oldest ones, until one more
// entry fits under MaxEntries.
func (c *Cache) housekeepLocked(now time.Time) {
	expired := c.removeExpiredLocked(now)

	var evicted int
	if over := len(c.entries) - c.cfg.MaxEntries + 1; over > 0 {
		type aged struct {
			key       Key
			name      string
			createdAt time.Time
		}
		all := make([]aged, 0, len(c.entries))
		for k, e := range c.entries {
			all = append(all, aged{key: k, name: k.String(), createdAt: e.createdAt})
		}
		sort.Slice(all, func(i, j int) bool {
			if !all[i].createdAt.Equal(all[j].createdAt) {
				return all[i].createdAt.Before(all[j].createdAt)
			}
			return all[i].name < all[j].name
		})
		for _, a := range all[:over] {
			delete(c.entries, a.key)
		}
		evicted = over
		cacheEvictionsTotal.WithLabelValues(evictCapacity).Add(float64(over))
	}

	log.WithFields(log.Fields{
		"expired":  expired,
		"capacity": evicted,
		"size":     len(c.entries),
		"max":      c.cfg.MaxEntries,
	}).Debug("Image cache housekeeping.")
}

func (c *Cache) removeExpiredLocked(now time.Time) int {
	n := 0
	for k, e := range c.entries {
		if e.expired(now, e.ttl) {
			delete(c.entries, k)
			n++
		}
	}
	if n > 0 {
		cacheEvictionsTotal.WithLabelValues(evictExpired).Add(float64(n))
	}
	return n
}

// ClearVIN removes every entry for vin, whatever its type filter or page.
func (c *Cache) ClearVIN(vin domain.VIN) int {
	vin = domain.VIN(strings.TrimSpace(string(vin)))
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	n := 0
	for k := range c.entries {
		if k.VIN == vin {
			delete(c.entries, k)
			n++
		}
	}
	if n > 0 {
		cacheEvictionsTotal.WithLabelValues(evictInvalidated).Add(float64(n))
	}
	cacheEntries.Set(float64(len(c.entries)))
	return n
}

// ClearAll empties the cache.
func (c *Cache) ClearAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	n := len(c.entries)
	c.entries = make(map[Key]*entry)
	if n > 0 {
		cacheEvictionsTotal.WithLabelValues(evictInvalidated).Add(float64(n))
	}
	cacheEntries.Set(0)
	return n
}

// Stats reports the entry count and the keys currently held, sorted.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	return Stats{Size: len(c.entries), Keys: keys}
}

// Sweep removes entries that have outlived the window they were stored with.
func (c *Cache) Sweep() int {
	now := c.clk.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.removeExpiredLocked(now)
	cacheEntries.Set(float64(len(c.entries)))
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
// Without it, expired entries are only dropped when an insert needs room.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.RunSweeperOn(ctx, ticker.C)
}

// RunSweeperOn calls Sweep on every receive from ticks until ctx is done or
// ticks is closed. Expiry is judged by the cache clock, not the tick time.
func (c *Cache) RunSweeperOn(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ticks:
			if !ok {
				return
			}
			if n := c.Sweep(); n > 0 {
				log.WithField("removed", n).Debug("Swept expired image lists.")
			}
		}
	}
}

func cloneList(l List) List {
	out := l
	out.Images = domain.CloneImages(l.Images)
	if out.Images == nil {
		out.Images = []domain.Image{}
	}
	return out
}
