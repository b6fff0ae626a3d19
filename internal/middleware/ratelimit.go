package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huemap/core/internal/pkg/kv"
	"github.com/huemap/core/internal/pkg/response"
	"go.uber.org/zap"
)

const (
	DefaultRateLimitMax    = 100
	DefaultRateLimitWindow = 60 * time.Second

	rateLimitKeyPrefix = "huemap:ratelimit:"
)

// Decision is the outcome of one limiter check. Degraded is set when the
// backing store failed and the request was let through.
type Decision struct {
	Limited  bool
	Count    int64
	Degraded error
}

// Limiter is a fixed-window request counter per client key.
type Limiter struct {
	store  kv.Store
	max    int64
	window time.Duration
	log    *zap.Logger
}

type LimiterOption func(*Limiter)

func WithLimit(max int64, window time.Duration) LimiterOption {
	return func(l *Limiter) {
		if max > 0 {
			l.max = max
		}
		if window > 0 {
			l.window = window
		}
	}
}

func WithLimiterLogger(log *zap.Logger) LimiterOption {
	return func(l *Limiter) {
		if log != nil {
			l.log = log.Named("RateLimiter")
		}
	}
}

func NewLimiter(store kv.Store, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		store:  store,
		max:    DefaultRateLimitMax,
		window: DefaultRateLimitWindow,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Window() time.Duration { return l.window }

func rateLimitKey(client string) string { return rateLimitKeyPrefix + client }

// Check counts one request for client. The first request of a window sets the
// counter to 1 with the window TTL; requests at or above the threshold are
// refused without touching the counter. The store does the compare and the
// increment as one operation, so concurrent callers cannot overshoot.
func (l *Limiter) Check(ctx context.Context, client string) Decision {
	n, limited, err := l.store.IncrBelow(ctx, rateLimitKey(client), l.max, l.window)
	if err != nil {
		return l.degrade(client, err)
	}
	return Decision{Limited: limited, Count: n}
}

// IsLimited reports whether client has exhausted its window. Store errors
// never block.
func (l *Limiter) IsLimited(ctx context.Context, client string) bool {
	return l.Check(ctx, client).Limited
}

// CurrentCount reads the counter without changing it. Misses and store
// errors read as 0.
func (l *Limiter) CurrentCount(ctx context.Context, client string) int64 {
	raw, ok, err := l.store.Get(ctx, rateLimitKey(client))
	if err != nil {
		l.log.Debug("read counter failed", zap.String("client", client), zap.Error(err))
		return 0
	}
	if !ok {
		return 0
	}
	return kv.DecodeInt(raw)
}

func (l *Limiter) degrade(client string, err error) Decision {
	l.log.Warn("rate limiter store unavailable, failing open", zap.String("client", client), zap.Error(err))
	return Decision{Degraded: err}
}

// RateLimit rejects clients that exceeded the limiter's window with 429.
func RateLimit(l *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := ClientKey(c.Request)
		if d := l.Check(c.Request.Context(), client); d.Limited {
			response.TooManyRequests(c, l.Window())
			return
		}
		c.Next()
	}
}

// ClientKey picks the first non-empty of: the first X-Forwarded-For entry,
// X-Real-IP, the peer address host.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
