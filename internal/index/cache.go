package index

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/iacgraph/depgraph/internal/models"
)

// L2Client is the subset of internal/cache.Client's Redis-backed API the
// index cache's L2 tier needs — narrowed to an interface so the index
// package doesn't import internal/cache directly and so tests can supply
// an in-memory fake.
type L2Client interface {
	Get(ctx context.Context, key string, target interface{}) (bool, error)
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) (int64, error)
}

// CacheSettings mirrors config.CacheConfig's two tiers.
type CacheSettings struct {
	L1MaxEntries int
	L1TTL        time.Duration // default 300s
	L2TTL        time.Duration // default 1h
	L2Prefix     string        // default "ext-idx:"
}

func (s CacheSettings) withDefaults() CacheSettings {
	if s.L1MaxEntries <= 0 {
		s.L1MaxEntries = 10_000
	}
	if s.L1TTL <= 0 {
		s.L1TTL = 300 * time.Second
	}
	if s.L2TTL <= 0 {
		s.L2TTL = time.Hour
	}
	if s.L2Prefix == "" {
		s.L2Prefix = "ext-idx:"
	}
	return s
}

// Cache is the External Object Index's two-tier lookup cache: an
// in-memory L1 (patrickmn/go-cache) backed by an L2 distributed cache
// (internal/cache.Client over Redis). L1 entries expire after L1TTL; the
// L1 tier has no entry-count bound or LRU eviction, and
// CacheSettings.L1MaxEntries is not enforced. Reads check L1, then L2, then fall
// through to the caller-supplied loader; both tiers are populated on a
// miss. Cache errors at either tier are logged and treated as misses
// rather than failing the request — an unavailable cache degrades
// lookup latency, it doesn't make the answer wrong.
type Cache struct {
	l1       *gocache.Cache
	l2       L2Client // nil disables the L2 tier
	settings CacheSettings
	logger   *logrus.Logger

	invalidations chan string
	subsMu        sync.Mutex
	subs          []chan string
}

// NewCache builds a two-tier Cache. l2 may be nil to run L1-only (e.g.
// in tests or single-process deployments without Redis).
func NewCache(l2 L2Client, settings CacheSettings, logger *logrus.Logger) *Cache {
	if logger == nil {
		logger = logrus.New()
	}
	settings = settings.withDefaults()
	c := &Cache{
		l1:            gocache.New(settings.L1TTL, 2*settings.L1TTL),
		l2:            l2,
		settings:      settings,
		logger:        logger,
		invalidations: make(chan string, 64),
	}
	go c.fanOut()
	return c
}

func (c *Cache) fanOut() {
	for key := range c.invalidations {
		c.subsMu.Lock()
		for _, sub := range c.subs {
			select {
			case sub <- key:
			default:
			}
		}
		c.subsMu.Unlock()
	}
}

// Subscribe returns a channel that receives every invalidated cache key
// (or pattern), for callers (e.g. other process replicas) that want to
// mirror invalidations rather than poll.
func (c *Cache) Subscribe() <-chan string {
	ch := make(chan string, 16)
	c.subsMu.Lock()
	c.subs = append(c.subs, ch)
	c.subsMu.Unlock()
	return ch
}

// cacheKey builds the L1/L2 key for one lookup: tenant, normalized
// external id, and a hash of the filter so distinctly-filtered lookups
// of the same id don't collide.
func (c *Cache) cacheKey(tenantID, normalizedID string, filter LookupFilter) string {
	h := sha1.New()
	if filter.ReferenceType != nil {
		fmt.Fprintf(h, "rt=%s;", *filter.ReferenceType)
	}
	repoIDs := append([]string(nil), filter.RepositoryIDs...)
	sort.Strings(repoIDs)
	fmt.Fprintf(h, "repos=%s;limit=%d;offset=%d", strings.Join(repoIDs, ","), filter.Limit, filter.Offset)
	digest := hex.EncodeToString(h.Sum(nil))[:12]
	return c.settings.L2Prefix + tenantID + ":" + normalizedID + ":" + digest
}

// GetOrLoad serves key from L1, then L2, then load(); it populates both
// tiers on an L2 or repository-level hit.
func (c *Cache) GetOrLoad(ctx context.Context, tenantID, normalizedID string, filter LookupFilter, load func() ([]models.ExternalObjectEntry, error)) ([]models.ExternalObjectEntry, error) {
	key := c.cacheKey(tenantID, normalizedID, filter)

	if v, ok := c.l1.Get(key); ok {
		if entries, ok := v.([]models.ExternalObjectEntry); ok {
			return entries, nil
		}
	}

	if c.l2 != nil {
		var entries []models.ExternalObjectEntry
		found, err := c.l2.Get(ctx, key, &entries)
		if err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("external index L2 cache read failed, falling back")
		} else if found {
			c.l1.Set(key, entries, c.settings.L1TTL)
			return entries, nil
		}
	}

	entries, err := load()
	if err != nil {
		return nil, err
	}

	c.l1.Set(key, entries, c.settings.L1TTL)
	if c.l2 != nil {
		if err := c.l2.SetWithTTL(ctx, key, entries, c.settings.L2TTL); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("external index L2 cache write failed")
		}
	}
	return entries, nil
}

// InvalidateKey drops one exact key from both tiers.
func (c *Cache) InvalidateKey(ctx context.Context, tenantID, normalizedID string, filter LookupFilter) {
	key := c.cacheKey(tenantID, normalizedID, filter)
	c.l1.Delete(key)
	if c.l2 != nil {
		if err := c.l2.Delete(ctx, key); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("external index L2 cache delete failed")
		}
	}
	c.invalidations <- key
}

// InvalidatePattern drops every key matching a tenantId:repositoryId:*
// style pattern from L2 (the authoritative tier for pattern scans) and
// flushes L1 entirely, since go-cache has no pattern-delete API and a
// full L1 flush is cheap relative to serving stale cross-repository
// data.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) {
	c.l1.Flush()
	if c.l2 != nil {
		if _, err := c.l2.DeletePattern(ctx, c.settings.L2Prefix+pattern); err != nil {
			c.logger.WithError(err).WithField("pattern", pattern).Warn("external index L2 pattern delete failed")
		}
	}
	c.invalidations <- pattern
}

// InvalidateTenant drops every cached entry for one tenant.
func (c *Cache) InvalidateTenant(ctx context.Context, tenantID string) {
	c.InvalidatePattern(ctx, tenantID+":*")
}
