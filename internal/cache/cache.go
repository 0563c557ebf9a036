package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/liamashdown/walletsignal/internal/config"
	"github.com/liamashdown/walletsignal/internal/metrics"
	"github.com/liamashdown/walletsignal/internal/score"
)

const keyPrefix = "walletsignal:result:"

// ResultCache stores serialized analysis reports in Redis
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Logger
}

// NewResultCache connects to Redis and verifies the connection
func NewResultCache(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*ResultCache, error) {
	if cfg.ResultCacheRedisAddr == "" {
		return nil, fmt.Errorf("RESULT_CACHE_REDIS_ADDR is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.ResultCacheRedisAddr,
		Password:     cfg.ResultCacheRedisPassword,
		DB:           cfg.ResultCacheRedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	log.WithFields(logrus.Fields{
		"addr": cfg.ResultCacheRedisAddr,
		"db":   cfg.ResultCacheRedisDB,
		"ttl":  cfg.ResultCacheTTL,
	}).Info("Result cache initialized")

	return &ResultCache{client: client, ttl: cfg.ResultCacheTTL, log: log}, nil
}

// Key builds the cache key for an analysis of wallet, and contract for Sybil scans
func Key(kind score.Kind, wallet, contract string) string {
	parts := []string{string(kind), strings.ToLower(wallet)}
	if contract != "" {
		parts = append(parts, strings.ToLower(contract))
	}
	return keyPrefix + strings.Join(parts, ":")
}

// Get returns the cached report, or false on a miss
func (c *ResultCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordCacheLookup("miss")
		return nil, false, nil
	}
	if err != nil {
		metrics.RecordCacheLookup("error")
		c.log.WithError(err).WithField("key", key).Warn("Result cache get failed")
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	metrics.RecordCacheLookup("hit")
	return data, true, nil
}

// Set stores a report for the configured TTL
func (c *ResultCache) Set(ctx context.Context, key string, data []byte) error {
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("Result cache set failed")
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (c *ResultCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool
func (c *ResultCache) Close() error {
	return c.client.Close()
}
