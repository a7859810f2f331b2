package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/puntosalud/vitaledger/pkg/common/config"
	"github.com/puntosalud/vitaledger/pkg/common/logger"
	"github.com/puntosalud/vitaledger/pkg/ledger"
)

const recordsKey = "vitaledger:records"

// Cache is an optional Redis-backed rendering of the synced ledger for the
// viewer. Its TTL is the accepted staleness window; a sync invalidates it.
// A nil *Cache is valid and means caching is disabled.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache returns nil when no Redis host is configured.
func NewCache(cfg *config.Config) *Cache {
	if cfg.RedisHost == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Log.WithError(err).Warn("redis unreachable, viewer cache disabled")
		client.Close()
		return nil
	}

	logger.Log.Info("viewer cache connected to redis")
	return &Cache{client: client, ttl: cfg.CacheTTL}
}

func (c *Cache) GetRecords(ctx context.Context) ([]ledger.Record, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, recordsKey).Bytes()
	if err != nil {
		return nil, false
	}
	var records []ledger.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false
	}
	return records, true
}

func (c *Cache) SetRecords(ctx context.Context, records []ledger.Record) {
	if c == nil {
		return
	}
	data, err := json.Marshal(records)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, recordsKey, data, c.ttl).Err(); err != nil {
		logger.Log.WithError(err).Debug("failed to populate viewer cache")
	}
}

func (c *Cache) Invalidate(ctx context.Context) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, recordsKey).Err(); err != nil {
		logger.Log.WithError(err).Debug("failed to invalidate viewer cache")
	}
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
