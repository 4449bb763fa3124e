package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/warden/pkg/observability"
)

// SharedCache is a cache shared by every replica of the service.
// *postgres.RedisClient implements it.
type SharedCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, kind, key string, value interface{}) error
	InvalidatePatterns(ctx context.Context, patterns ...string) error
}

// InvalidationBus carries invalidations between instances that share a
// SharedCache, so each can evict its in-process tier.
// *postgres.RedisClient implements it.
type InvalidationBus interface {
	Publish(ctx context.Context, channel, message string) error
	// Subscribe blocks, calling handle per message. resync runs whenever the
	// subscription is (re)established.
	Subscribe(ctx context.Context, channel string, handle func(message string), resync func()) error
}

// CacheConfig configures the in-process tier
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// DefaultCacheConfig returns sensible cache defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Size: 1024, TTL: 5 * time.Minute}
}

const (
	rolePermissionsKind = "role_permissions"
	sharedKeyPrefix     = "warden:rp:"

	// InvalidationChannel is the pub/sub channel invalidations are broadcast on
	InvalidationChannel = "warden:catalog:invalidate"
	listenRetryDelay    = 5 * time.Second
)

// Cache memoizes feature-gated role grants per (role, workspace).
//
// Lookups go L1 (expirable LRU) then L2 (SharedCache, optional) then the
// loader. Concurrent misses for the same key share one load. Memberships are
// never cached here; only catalog data, which changes through Service and is
// invalidated there.
//
// When the shared cache is also an InvalidationBus, every invalidation is
// broadcast and Listen applies the ones published by other instances. A load
// that overlaps an invalidation is returned but not cached.
type Cache struct {
	l1      *lru.LRU[string, []Permission]
	l2      SharedCache
	bus     InvalidationBus
	epoch   atomic.Uint64
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *observability.Logger

	retryDelay time.Duration
}

// NewCache creates a cache. shared, metrics and logger may be nil.
func NewCache(cfg CacheConfig, shared SharedCache, metrics *observability.Metrics, logger *observability.Logger) *Cache {
	if cfg.Size <= 0 {
		cfg.Size = DefaultCacheConfig().Size
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	c := &Cache{
		l1:         lru.NewLRU[string, []Permission](cfg.Size, nil, cfg.TTL),
		l2:         shared,
		metrics:    metrics,
		logger:     logger.WithField("component", "catalog_cache"),
		retryDelay: listenRetryDelay,
	}
	if bus, ok := shared.(InvalidationBus); ok {
		c.bus = bus
	}
	return c
}

func rolePermissionsKey(roleID, workspaceID int64) string {
	return fmt.Sprintf("%d:%d", roleID, workspaceID)
}

// RolePermissions returns the cached grants of (roleID, workspaceID), calling
// load on a miss. Shared cache failures are logged and bypassed.
func (c *Cache) RolePermissions(ctx context.Context, roleID, workspaceID int64, load func(context.Context) ([]Permission, error)) ([]Permission, error) {
	key := rolePermissionsKey(roleID, workspaceID)

	if perms, ok := c.l1.Get(key); ok {
		c.metrics.RecordCacheHit("l1")
		return perms, nil
	}
	c.metrics.RecordCacheMiss("l1")

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		epoch := c.epoch.Load()
		if c.l2 != nil {
			var perms []Permission
			hit, err := c.l2.GetJSON(ctx, sharedKeyPrefix+key, &perms)
			if err != nil {
				c.logger.WithError(err).Warn("shared cache read failed")
			}
			if hit {
				c.metrics.RecordCacheHit("l2")
				if c.epoch.Load() == epoch {
					c.l1.Add(key, perms)
				}
				return perms, nil
			}
			c.metrics.RecordCacheMiss("l2")
		}

		perms, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if c.epoch.Load() != epoch {
			return perms, nil
		}

		c.l1.Add(key, perms)
		if c.l2 != nil {
			if err := c.l2.SetJSON(ctx, rolePermissionsKind, sharedKeyPrefix+key, perms); err != nil {
				c.logger.WithError(err).Warn("shared cache write failed")
			}
		}
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Permission), nil
}

// InvalidateRole drops every cached entry of roleID on every instance
func (c *Cache) InvalidateRole(ctx context.Context, roleID int64) error {
	msg := "role:" + strconv.FormatInt(roleID, 10)
	c.apply(msg)
	return c.invalidateShared(ctx, sharedKeyPrefix+strconv.FormatInt(roleID, 10)+":*", msg)
}

// InvalidateWorkspace drops every cached entry evaluated in workspaceID on
// every instance
func (c *Cache) InvalidateWorkspace(ctx context.Context, workspaceID int64) error {
	msg := "workspace:" + strconv.FormatInt(workspaceID, 10)
	c.apply(msg)
	return c.invalidateShared(ctx, sharedKeyPrefix+"*:"+strconv.FormatInt(workspaceID, 10), msg)
}

// InvalidateAll drops every cached grant on every instance, e.g. after the
// catalog definition is re-seeded.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	c.apply("all")
	return c.invalidateShared(ctx, sharedKeyPrefix+"*", "all")
}

// Listen applies invalidations broadcast by other instances until ctx is
// done, resubscribing after failures. The in-process tier is purged every
// time the subscription is established since broadcasts sent in between are
// lost. It returns at once when the shared cache cannot broadcast.
func (c *Cache) Listen(ctx context.Context) error {
	if c.bus == nil {
		return nil
	}
	for {
		err := c.bus.Subscribe(ctx, InvalidationChannel, c.apply, c.Purge)
		if ctx.Err() != nil {
			return nil
		}
		c.Purge()
		c.logger.WithError(err).Warn("cache invalidation subscription lost")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.retryDelay):
		}
	}
}

// Purge empties the in-process tier
func (c *Cache) Purge() {
	c.epoch.Add(1)
	c.l1.Purge()
}

// Len returns the number of in-process entries
func (c *Cache) Len() int {
	return c.l1.Len()
}

// apply evicts the in-process entries named by an invalidation message:
// "role:<id>", "workspace:<id>" or anything else for everything.
func (c *Cache) apply(msg string) {
	kind, id, _ := strings.Cut(msg, ":")
	switch kind {
	case "role":
		c.evictL1(func(key string) bool { return strings.HasPrefix(key, id+":") })
	case "workspace":
		c.evictL1(func(key string) bool { return strings.HasSuffix(key, ":"+id) })
	default:
		c.Purge()
	}
}

func (c *Cache) evictL1(match func(string) bool) {
	c.epoch.Add(1)
	for _, key := range c.l1.Keys() {
		if match(key) {
			c.l1.Remove(key)
		}
	}
}

func (c *Cache) invalidateShared(ctx context.Context, pattern, msg string) error {
	var errs []error
	if c.l2 != nil {
		if err := c.l2.InvalidatePatterns(ctx, pattern); err != nil {
			errs = append(errs, fmt.Errorf("failed to invalidate shared cache: %w", err))
		}
	}
	if c.bus != nil {
		if err := c.bus.Publish(ctx, InvalidationChannel, msg); err != nil {
			errs = append(errs, fmt.Errorf("failed to broadcast invalidation: %w", err))
		}
	}
	return errors.Join(errs...)
}
