package verifycache

import (
	"context"
	"time"

	"github.com/huemap/core/internal/pkg/kv"
	"go.uber.org/zap"
)

const (
	DefaultTTL = 15 * time.Minute

	keyPrefix = "huemap:verify:"
	valueOK   = "1"
	valueBad  = "0"
)

// Result is a cache lookup. Hit is false on a miss; Degraded carries the
// backend error when the miss was caused by one.
type Result struct {
	Valid    bool
	Hit      bool
	Degraded error
}

// Cache holds recent verification outcomes keyed by the raw credential.
// It is never authoritative.
type Cache struct {
	store kv.Store
	ttl   time.Duration
	log   *zap.Logger
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log.Named("VerifyCache")
		}
	}
}

func New(store kv.Store, opts ...Option) *Cache {
	c := &Cache{store: store, ttl: DefaultTTL, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func key(credential string) string { return keyPrefix + credential }

// Get returns the cached outcome for credential.
func (c *Cache) Get(ctx context.Context, credential string) Result {
	if credential == "" {
		return Result{}
	}
	raw, ok, err := c.store.Get(ctx, key(credential))
	if err != nil {
		c.log.Warn("cache read failed, treating as miss", zap.Error(err))
		return Result{Degraded: err}
	}
	if !ok {
		return Result{}
	}
	switch raw {
	case valueOK:
		return Result{Valid: true, Hit: true}
	case valueBad:
		return Result{Valid: false, Hit: true}
	}
	// unknown encoding, let the authority decide
	return Result{}
}

// Put stores the outcome for credential, replacing any earlier one.
func (c *Cache) Put(ctx context.Context, credential string, valid bool) {
	if credential == "" {
		return
	}
	v := valueBad
	if valid {
		v = valueOK
	}
	if err := c.store.Set(ctx, key(credential), v, c.ttl); err != nil {
		c.log.Warn("cache write failed", zap.Error(err))
	}
}

// Invalidate drops the entry for credential.
func (c *Cache) Invalidate(ctx context.Context, credential string) {
	if credential == "" {
		return
	}
	if err := c.store.Del(ctx, key(credential)); err != nil {
		c.log.Warn("cache invalidate failed", zap.Error(err))
	}
}

// Verifier is the authority-side check behind the cache.
type Verifier interface {
	VerifyToken(ctx context.Context, credential string) (bool, error)
}

// Verify answers from the cache when it can and otherwise asks v, caching
// whatever v answers. Errors from v are returned uncached.
func (c *Cache) Verify(ctx context.Context, v Verifier, credential string) (bool, error) {
	if r := c.Get(ctx, credential); r.Hit {
		return r.Valid, nil
	}
	ok, err := v.VerifyToken(ctx, credential)
	if err != nil {
		return false, err
	}
	c.Put(ctx, credential, ok)
	return ok, nil
}
