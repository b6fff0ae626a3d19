package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrBelowScript creates, caps or increments a counter in one step.
// ARGV[1] is the cap, ARGV[2] the TTL in milliseconds for a new key.
// Values INCR would reject (padded or fractional) are rewritten with the
// remaining TTL carried over.
var incrBelowScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	if tonumber(ARGV[2]) > 0 then
		redis.call('SET', KEYS[1], 1, 'PX', ARGV[2])
	else
		redis.call('SET', KEYS[1], 1)
	end
	return {1, 0}
end
local n = tonumber(string.match(raw, '^%s*(.-)%s*$'))
if n == nil then
	n = 0
end
n = math.floor(n)
if n >= tonumber(ARGV[1]) then
	return {n, 1}
end
if string.match(raw, '^%-?%d+$') then
	return {redis.call('INCR', KEYS[1]), 0}
end
n = n + 1
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
	redis.call('SET', KEYS[1], n, 'PX', ttl)
else
	redis.call('SET', KEYS[1], n)
end
return {n, 0}
`)

// Client wraps go-redis for the application and implements kv.Store.
type Client struct {
	rdb *redis.Client
}

// Connect creates a Redis client and verifies connectivity.
func Connect(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Hot-path callers degrade on error; keep them from waiting long.
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = 500 * time.Millisecond
	opts.WriteTimeout = 500 * time.Millisecond

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// New wraps an existing go-redis client.
func New(rdb *redis.Client) *Client { return &Client{rdb: rdb} }

// Raw returns the underlying redis.Client for advanced usage.
func (c *Client) Raw() *redis.Client { return c.rdb }

// Close releases the connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// Get retrieves a string value and whether the key exists.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores a value with TTL (0 = no expiry).
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}



// IncrBelow counts one hit unless the stored count already reached limit.
func (c *Client) IncrBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	res, err := incrBelowScript.Run(ctx, c.rdb, []string{key}, limit, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, err
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("incr below: unexpected reply %v", res)
	}
	return res[0], res[1] == 1, nil
}

// Del deletes a key.
func (c *Client) Del(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// Ping reports whether the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
