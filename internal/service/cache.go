package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flicky/storefront-api/internal/model"
)

const defaultProductCacheTTL = 60 * time.Second

// productCache is a read-through cache of single products. A nil client
// disables it; Redis errors degrade to cache misses.
type productCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func newProductCache(client *redis.Client, ttl time.Duration, log *slog.Logger) *productCache {
	if ttl <= 0 {
		ttl = defaultProductCacheTTL
	}
	return &productCache{client: client, ttl: ttl, log: log}
}

func productKey(id uuid.UUID) string {
	return "product:" + id.String()
}

func (c *productCache) get(ctx context.Context, id uuid.UUID) (*model.Product, bool) {
	if c.client == nil {
		return nil, false
	}
	cached, err := c.client.Get(ctx, productKey(id)).Bytes()
	if err != nil {
		return nil, false
	}
	var p model.Product
	if err := json.Unmarshal(cached, &p); err != nil {
		return nil, false
	}
	return &p, true
}

func (c *productCache) set(ctx context.Context, p *model.Product) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, productKey(p.ID), data, c.ttl).Err(); err != nil {
		c.log.Warn("cache product", "product_id", p.ID, "error", err)
	}
}

func (c *productCache) invalidate(ctx context.Context, ids ...uuid.UUID) {
	if c.client == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productKey(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("invalidate product cache", "count", len(keys), "error", err)
	}
}
