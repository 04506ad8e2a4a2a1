// Package cache is the Entity Cache: a time-boxed memo of gateway reads keyed
// by operation name and parameters. Correctness relies on explicit
// invalidation after writes; expiry only bounds staleness for changes made
// elsewhere.
package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"civreg/internal/platform/metrics"
	id "civreg/pkg/domain"
)

// Op names a cached read.
type Op string

const (
	OpFetchFiltered Op = "requests.fetchFiltered"
	OpGetByID       Op = "requests.getById"
	OpByStatus      Op = "requests.byStatus"
	OpLatestDraft   Op = "requests.latestDraft"
	OpUsersList     Op = "users.list"
	OpUserByID      Op = "users.getById"
)

// requestListings are the ops whose results may include any request row.
var requestListings = []Op{OpFetchFiltered, OpByStatus, OpLatestDraft}

// metadataOps change rarely and get the longer TTL.
var metadataOps = map[Op]bool{OpUsersList: true, OpUserByID: true}

const keySeparator = "|"

// Key deterministically encodes op and its parameters. params must encode to
// stable JSON: use structs or maps, never slices of maps.
func Key(op Op, params any) string {
	b, err := json.Marshal(params)
	if err != nil {
		// Parameters are plain structs built by this module; this is a programming error.
		panic(fmt.Sprintf("cache key for %s: %v", op, err))
	}
	return string(op) + keySeparator + string(b)
}

// RequestKey is the key of a single-request read.
func RequestKey(rid id.RequestID) string {
	return Key(OpGetByID, idParams{ID: int64(rid)})
}

// UserKey is the key of a single-profile read.
func UserKey(uid id.UserID) string {
	return Key(OpUserByID, map[string]string{"id": uid.String()})
}

type idParams struct {
	ID int64 `json:"id"`
}

func opOf(key string) Op {
	op, _, _ := strings.Cut(key, keySeparator)
	return Op(op)
}

// Config sets TTLs and the sweep threshold.
type Config struct {
	ListTTL     time.Duration
	MetadataTTL time.Duration
	// SoftLimit is the entry count above which expired entries are swept on write.
	SoftLimit int
}

type Cache struct {
	items   *gocache.Cache
	cfg     Config
	metrics *metrics.Metrics
}

type Option func(*Cache)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// New creates an empty cache. No janitor goroutine runs; expired entries are
// dropped lazily on read and by the soft-limit sweep.
func New(cfg Config, opts ...Option) *Cache {
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = 30 * time.Second
	}
	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = 5 * time.Minute
	}
	if cfg.SoftLimit <= 0 {
		cfg.SoftLimit = 500
	}
	c := &Cache{items: gocache.New(cfg.ListTTL, 0), cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the expiry used for op.
func (c *Cache) TTL(op Op) time.Duration {
	if metadataOps[op] {
		return c.cfg.MetadataTTL
	}
	return c.cfg.ListTTL
}

// Get returns the live value under key.
func (c *Cache) Get(key string) (any, bool) {
	v, ok := c.items.Get(key)
	if ok {
		c.metrics.CacheHit(string(opOf(key)))
	} else {
		c.metrics.CacheMiss(string(opOf(key)))
	}
	return v, ok
}

// Set stores value under key with ttl; ttl <= 0 uses the op's default TTL.
// Values must not be mutated after Set.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.TTL(opOf(key))
	}
	c.items.Set(key, value, ttl)
	if c.items.ItemCount() > c.cfg.SoftLimit {
		c.items.DeleteExpired()
		c.metrics.CacheSwept()
	}
}

func (c *Cache) Delete(key string) {
	c.items.Delete(key)
}

// InvalidateRequest purges the request's own entry and every request listing,
// since any listing may contain it.
func (c *Cache) InvalidateRequest(rid id.RequestID) int {
	n := 0
	if _, ok := c.items.Get(RequestKey(rid)); ok {
		n++
	}
	c.items.Delete(RequestKey(rid))
	n += c.InvalidateOps(requestListings...)
	c.metrics.CacheInvalidated("request", n)
	return n
}

// InvalidateListings purges every request listing.
func (c *Cache) InvalidateListings() int {
	n := c.InvalidateOps(requestListings...)
	c.metrics.CacheInvalidated("listing", n)
	return n
}

// InvalidateOps purges every key of the given ops and returns how many were removed.
func (c *Cache) InvalidateOps(ops ...Op) int {
	want := make(map[Op]bool, len(ops))
	for _, op := range ops {
		want[op] = true
	}
	n := 0
	for key := range c.items.Items() {
		if want[opOf(key)] {
			c.items.Delete(key)
			n++
		}
	}
	return n
}

// Len counts entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}
