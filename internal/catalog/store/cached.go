package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"controlplane/internal/catalog"
	"controlplane/internal/inheritance"
	"controlplane/internal/rules"
)

const snapshotKey = "catalog:snapshot"

// Cached wraps a catalog store with a Redis read-through cache. The catalog
// changes rarely and is read on every resolution run, so a short TTL keeps
// runs off Postgres without risking a stale catalog for long. Writes
// invalidate the cached snapshot; cache failures degrade to the inner store.
type Cached struct {
	inner  catalog.Store
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached constructs a read-through cache over inner.
func NewCached(inner catalog.Store, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (c *Cached) Load(ctx context.Context) (catalog.Snapshot, error) {
	raw, err := c.client.Get(ctx, snapshotKey).Bytes()
	if err == nil {
		var snapshot catalog.Snapshot
		if err := json.Unmarshal(raw, &snapshot); err == nil {
			return snapshot, nil
		}
		c.logger.WarnContext(ctx, "discarding undecodable cached catalog", "error", err)
	} else if err != redis.Nil {
		c.logger.WarnContext(ctx, "catalog cache read failed", "error", err)
	}

	snapshot, err := c.inner.Load(ctx)
	if err != nil {
		return catalog.Snapshot{}, err
	}

	if encoded, err := json.Marshal(snapshot); err == nil {
		if err := c.client.Set(ctx, snapshotKey, encoded, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "catalog cache write failed", "error", err)
		}
	}
	return snapshot, nil
}

func (c *Cached) SaveControl(ctx context.Context, control catalog.Control) error {
	if err := c.inner.SaveControl(ctx, control); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *Cached) SaveEdge(ctx context.Context, edge inheritance.Edge) error {
	if err := c.inner.SaveEdge(ctx, edge); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *Cached) SaveRule(ctx context.Context, rule rules.Rule) error {
	if err := c.inner.SaveRule(ctx, rule); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *Cached) SaveMapping(ctx context.Context, mapping catalog.ControlMapping) error {
	if err := c.inner.SaveMapping(ctx, mapping); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

func (c *Cached) invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, snapshotKey).Err(); err != nil {
		c.logger.WarnContext(ctx, "catalog cache invalidation failed", "error", err)
	}
}
