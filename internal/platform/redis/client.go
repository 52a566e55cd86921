// Package redis owns the shared go-redis client used by the offer cache and
// the signer secret store.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"vcissuer/internal/platform/config"
)

var (
	poolConnsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vcissuer_redis_pool_total_conns",
		Help: "Connections currently held by the pool",
	})
	poolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vcissuer_redis_pool_idle_conns",
		Help: "Idle connections currently held by the pool",
	})
	poolHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vcissuer_redis_pool_hits_total",
		Help: "Checkouts served from an existing pooled connection",
	})
	poolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vcissuer_redis_pool_misses_total",
		Help: "Checkouts that required dialing a new connection",
	})
	poolTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vcissuer_redis_pool_timeouts_total",
		Help: "Checkouts that failed waiting for a free connection",
	})
	poolStale = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vcissuer_redis_pool_stale_conns_total",
		Help: "Stale connections evicted from the pool",
	})
)

// Client wraps *redis.Client so callers get health checks and pool metric
// sampling alongside the raw commands.
type Client struct {
	*redis.Client
	prev redis.PoolStats
}

// New dials Redis from the configured URL and verifies it with a ping.
// An empty URL means Redis is not configured and New returns (nil, nil).
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client}, nil
}

// Health reports whether Redis currently answers pings.
func (c *Client) Health(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("redis not configured")
	}
	return c.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.Client.Close()
}

// RecordPoolStats publishes pool counters to Prometheus. go-redis exposes
// cumulative totals, so deltas against the previous sample are added to the
// counters. Intended to run from a ticker goroutine.
func (c *Client) RecordPoolStats() {
	stats := c.PoolStats()

	poolConnsTotal.Set(float64(stats.TotalConns))
	poolConnsIdle.Set(float64(stats.IdleConns))

	addDelta(poolHits, stats.Hits, c.prev.Hits)
	addDelta(poolMisses, stats.Misses, c.prev.Misses)
	addDelta(poolTimeouts, stats.Timeouts, c.prev.Timeouts)
	addDelta(poolStale, stats.StaleConns, c.prev.StaleConns)

	c.prev = *stats
}

func addDelta(counter prometheus.Counter, current, previous uint32) {
	if current > previous {
		counter.Add(float64(current - previous))
	}
}
