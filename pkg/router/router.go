// Package router mutates the router's data plane: a shared Redis set
// membership of `host:port` tuples per hostname/cluster (spec §1, §5, §6).
// The job manager never reads this set to make decisions; it only adds and
// removes members, which is why the operations here are commutative
// set-add/set-remove rather than a full read-modify-write.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/pacemaker/pkg/log"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Client wraps the Redis connection backing the router KV set.
type Client struct {
	rdb    *goredis.Client
	logger zerolog.Logger
}

// New dials addr/db and verifies connectivity with a PING, mirroring the
// pack's redis-bus dial-then-ping idiom.
func New(addr string, db int) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("router: redis ping %s: %w", addr, err)
	}

	return &Client{rdb: rdb, logger: log.WithComponent("router")}, nil
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key returns the set key for a version/hostname/cluster triple (spec §6:
// "instances_<version>.<hostname>.<cluster_hostname>").
func Key(version, hostname, clusterHostname string) string {
	return fmt.Sprintf("instances_%s.%s.%s", version, hostname, clusterHostname)
}

// Add performs a set-add of hostPort under key (spec P6: repeated Add is
// idempotent because Redis SADD itself is idempotent).
func (c *Client) Add(ctx context.Context, key, hostPort string) error {
	if err := c.rdb.SAdd(ctx, key, hostPort).Err(); err != nil {
		return fmt.Errorf("router: sadd %s %s: %w", key, hostPort, err)
	}
	c.logger.Debug().Str("key", key).Str("member", hostPort).Msg("added router member")
	return nil
}

// Remove performs a set-remove of hostPort under key. Removing an absent
// member is a no-op, matching SREM semantics.
func (c *Client) Remove(ctx context.Context, key, hostPort string) error {
	if err := c.rdb.SRem(ctx, key, hostPort).Err(); err != nil {
		return fmt.Errorf("router: srem %s %s: %w", key, hostPort, err)
	}
	c.logger.Debug().Str("key", key).Str("member", hostPort).Msg("removed router member")
	return nil
}

// Members lists the current membership of key.
func (c *Client) Members(ctx context.Context, key string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("router: smembers %s: %w", key, err)
	}
	return members, nil
}
