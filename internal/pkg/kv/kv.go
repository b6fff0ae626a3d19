// Package kv defines the TTL key-value store shared by the verification cache
// and the rate limiter.
package kv

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Store is a key-value store with per-key TTLs. Every method is a single
// atomic operation on one key.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value with ttl, replacing any previous value and TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// IncrBelow counts one hit against a capped counter in a single atomic
	// step. An absent key is created at 1 with ttl. A stored count at or
	// above limit is returned untouched with limited set; anything lower is
	// incremented keeping its TTL. Stored values are read with DecodeInt.
	IncrBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (n int64, limited bool, err error)
	// Del removes the key. Removing an absent key is not an error.
	Del(ctx context.Context, key string) error
}

// DecodeInt is the single coercion rule for counters read back from a Store.
// Integers, integral floats and surrounding whitespace are accepted; anything
// else decodes as zero.
func DecodeInt(raw string) int64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}
