// Package cache implements the two-tier plan cache from spec §4.10: an
// in-memory LRU in front of a directory-backed, SQLite-indexed disk tier,
// plus the incremental replanner that edits a cached plan in place when a
// change's impact score is small.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rustlehq/rustle-plan/internal/model"
)

// Options configures both cache tiers.
type Options struct {
	MemoryMaxBytes int64
	DiskDir        string // empty disables the disk tier (memory-only)
	DiskMaxBytes   int64
	TTL            time.Duration
}

// Cache is the composed two-tier plan cache.
type Cache struct {
	mem  *memTier
	disk *diskTier
}

// New constructs a Cache. The disk tier is optional: with DiskDir empty,
// Cache behaves as a memory-only LRU.
func New(ctx context.Context, opts Options) (*Cache, error) {
	memMax := opts.MemoryMaxBytes
	if memMax <= 0 {
		memMax = 64 << 20 // 64MiB default
	}
	c := &Cache{mem: newMemTier(memMax)}

	if opts.DiskDir != "" {
		d, err := newDiskTier(ctx, opts.DiskDir, opts.DiskMaxBytes, opts.TTL)
		if err != nil {
			return nil, err
		}
		c.disk = d
	}

	return c, nil
}

// Close releases the disk tier's database handle.
func (c *Cache) Close() error {
	if c.disk != nil {
		return c.disk.close()
	}
	return nil
}

// GetOrCompute returns the cached plan for key on hit; on miss it invokes
// f, stores the result, and returns it. A disk hit also repopulates the
// memory tier so subsequent lookups are served from memory.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, f func() (*model.ExecutionPlan, error)) (*model.ExecutionPlan, error) {
	if plan, ok := c.mem.get(key.String()); ok {
		log.Debug().Str("cache_key", key.String()).Msg("plan cache memory hit")
		return plan, nil
	}

	if c.disk != nil {
		plan, ok, err := c.disk.get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			log.Debug().Str("cache_key", key.String()).Msg("plan cache disk hit")
			c.mem.put(key.String(), plan, approxSize(plan))
			return plan, nil
		}
	}

	log.Debug().Str("cache_key", key.String()).Msg("plan cache miss, computing")
	plan, err := f()
	if err != nil {
		return nil, err
	}

	if err := c.Put(ctx, key, plan, 0); err != nil {
		return nil, err
	}
	return plan, nil
}

// Put inserts plan into both tiers under key with an optional TTL
// (seconds; 0 means no expiry) for the disk tier.
func (c *Cache) Put(ctx context.Context, key Key, plan *model.ExecutionPlan, ttlSeconds int64) error {
	c.mem.put(key.String(), plan, approxSize(plan))
	if c.disk != nil {
		return c.disk.put(ctx, key, plan, ttlSeconds)
	}
	return nil
}

// Invalidate drops a single key from both tiers.
func (c *Cache) Invalidate(ctx context.Context, key Key) error {
	c.mem.delete(key.String())
	if c.disk != nil {
		return c.disk.delete(ctx, key)
	}
	return nil
}

// InvalidatePrefix drops every entry matching prefix's playbook/inventory
// hashes from both tiers.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix Key) (int64, error) {
	c.mem.deleteIf(func(k string) bool {
		parts := strings.SplitN(k, ":", 4)
		if len(parts) != 4 {
			return false
		}
		return Key{PlaybookHash: parts[0], InventoryHash: parts[1], OptionsHash: parts[2], PlannerVersion: parts[3]}.HasPrefix(prefix)
	})
	if c.disk != nil {
		return c.disk.deleteByPrefix(ctx, prefix)
	}
	return 0, nil
}

func approxSize(plan *model.ExecutionPlan) int64 {
	data, err := json.Marshal(plan)
	if err != nil {
		return 1024
	}
	return int64(len(data))
}
