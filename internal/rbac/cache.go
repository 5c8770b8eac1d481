package rbac

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	// Wildcard is the cache permission key for a subject's full set.
	Wildcard = "*"
	// DefaultInvalidationChannel carries invalidations between processes.
	DefaultInvalidationChannel = "rbac.invalidate"
)

// LookupObserver is notified of every cache lookup.
type LookupObserver interface {
	ObserveCacheLookup(hit bool)
}

type cacheKey struct {
	subject string
	perm    string
}

type stamp struct {
	epoch uint64
	gen   uint64
}

type cacheEntry struct {
	stamp stamp
	value any
}

// Invalidation is the message published when cached entries are dropped.
type Invalidation struct {
	Origin   string   `json:"origin"`
	Subjects []string `json:"subjects,omitempty"`
	All      bool     `json:"all,omitempty"`
}

// PermissionCache memoises effective permission sets and decisions per
// subject. Each subject carries a generation; bumping it makes every entry
// computed under the old generation unreachable.
type PermissionCache struct {
	mu      sync.RWMutex
	epoch   uint64
	gens    map[string]uint64
	entries map[cacheKey]cacheEntry
	group   singleflight.Group

	observer LookupObserver
	client   *redis.Client
	channel  string
	origin   string
	logger   *slog.Logger
}

// CacheOption configures a PermissionCache.
type CacheOption func(*PermissionCache)

// WithObserver reports hits and misses, typically to Prometheus.
func WithObserver(o LookupObserver) CacheOption {
	return func(c *PermissionCache) { c.observer = o }
}

// WithRedis publishes invalidations on channel so other processes can drop
// their copies.
func WithRedis(client *redis.Client, channel string) CacheOption {
	return func(c *PermissionCache) {
		c.client = client
		if channel != "" {
			c.channel = channel
		}
	}
}

// WithCacheLogger sets the logger used for publish failures.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *PermissionCache) { c.logger = logger }
}

// NewPermissionCache builds an empty cache. Without WithRedis it is local to
// the process.
func NewPermissionCache(opts ...CacheOption) *PermissionCache {
	c := &PermissionCache{
		gens:    make(map[string]uint64),
		entries: make(map[cacheKey]cacheEntry),
		channel: DefaultInvalidationChannel,
		origin:  uuid.NewString(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Permissions returns the cached set for subject, computing it with load on
// a miss.
func (c *PermissionCache) Permissions(subject string, load func() set) set {
	v := c.fetch(cacheKey{subject: subject, perm: Wildcard}, func() any { return load() })
	return v.(set)
}

// Decision returns the cached allow/deny for (subject, perm).
func (c *PermissionCache) Decision(subject, perm string, load func() bool) bool {
	v := c.fetch(cacheKey{subject: subject, perm: perm}, func() any { return load() })
	return v.(bool)
}

func (c *PermissionCache) fetch(key cacheKey, load func() any) any {
	c.mu.RLock()
	current := c.stampLocked(key.subject)
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && entry.stamp == current {
		c.observe(true)
		return entry.value
	}
	c.observe(false)

	v, _, _ := c.group.Do(key.subject+"\x00"+key.perm, func() (any, error) {
		value := load()
		c.mu.Lock()
		if c.stampLocked(key.subject) == current {
			c.entries[key] = cacheEntry{stamp: current, value: value}
		}
		c.mu.Unlock()
		return value, nil
	})
	return v
}

// Invalidate drops every entry for the given subjects and tells peers.
func (c *PermissionCache) Invalidate(ctx context.Context, subjects ...string) {
	if len(subjects) == 0 {
		return
	}
	c.invalidateLocal(subjects)
	c.publish(ctx, Invalidation{Origin: c.origin, Subjects: subjects})
}

// Clear drops the whole cache and tells peers. Lookups afterwards recompute
// the same answers from registry state.
func (c *PermissionCache) Clear(ctx context.Context) {
	c.clearLocal()
	c.publish(ctx, Invalidation{Origin: c.origin, All: true})
}

// Len reports the number of live entries.
func (c *PermissionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Apply performs a remote invalidation locally without republishing it.
func (c *PermissionCache) Apply(msg Invalidation) {
	if msg.All {
		c.clearLocal()
		return
	}
	c.invalidateLocal(msg.Subjects)
}

// Listen subscribes to the invalidation channel until ctx ends. Messages
// from this cache are ignored; others are passed to handle.
func (c *PermissionCache) Listen(ctx context.Context, handle func(context.Context, Invalidation)) error {
	if c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, c.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv Invalidation
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					c.logger.Warn("rbac cache: bad invalidation payload", slog.Any("error", err))
					continue
				}
				if inv.Origin == c.origin {
					continue
				}
				handle(ctx, inv)
			}
		}
	}()
	return nil
}

func (c *PermissionCache) invalidateLocal(subjects []string) {
	drop := make(map[string]struct{}, len(subjects))
	c.mu.Lock()
	for _, s := range subjects {
		c.gens[s]++
		drop[s] = struct{}{}
	}
	for k := range c.entries {
		if _, ok := drop[k.subject]; ok {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

func (c *PermissionCache) clearLocal() {
	c.mu.Lock()
	c.epoch++
	c.entries = make(map[cacheKey]cacheEntry)
	c.mu.Unlock()
}

func (c *PermissionCache) stampLocked(subject string) stamp {
	return stamp{epoch: c.epoch, gen: c.gens[subject]}
}

func (c *PermissionCache) observe(hit bool) {
	if c.observer != nil {
		c.observer.ObserveCacheLookup(hit)
	}
}

func (c *PermissionCache) publish(ctx context.Context, msg Invalidation) {
	if c.client == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil {
		c.logger.Warn("rbac cache: publish invalidation", slog.Any("error", err))
	}
}
