package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	// Rate is the sustained number of requests per second per client.
	Rate float64
	// Burst is the number of requests a client may issue at once.
	Burst int
	// IdleTTL is how long an unused client bucket is kept. Zero means one
	// minute.
	IdleTTL time.Duration
	// TrustProxy keys clients by X-Forwarded-For or X-Real-IP. Enable only
	// behind a proxy that sets these headers.
	TrustProxy bool
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

type rateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = time.Minute
	}
	return &rateLimiter{cfg: cfg, buckets: make(map[string]*bucket)}
}

// reserve takes one token for key. A positive delay means the request is
// over the limit and nothing was consumed.
func (rl *rateLimiter) reserve(key string, now time.Time) (delay time.Duration, ok bool) {
	rl.mu.Lock()
	b, found := rl.buckets[key]
	if !found {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(rl.cfg.Rate), rl.cfg.Burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	rl.mu.Unlock()

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return 0, false
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return d, false
	}
	return 0, true
}

// evict drops buckets unused for IdleTTL.
func (rl *rateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, b := range rl.buckets {
		if now.Sub(b.seen) >= rl.cfg.IdleTTL {
			delete(rl.buckets, key)
		}
	}
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func (rl *rateLimiter) runEviction(ctx context.Context) {
	ticker := time.NewTicker(rl.cfg.IdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.evict(now)
		}
	}
}

// RateLimit returns a middleware that limits each client to cfg.Rate
// requests per second with bursts of cfg.Burst. Rejected requests get 429
// with a Retry-After header. Idle buckets are evicted until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	go rl.runEviction(ctx)
	return rl.middleware
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r, rl.cfg.TrustProxy)
		delay, ok := rl.reserve(key, time.Now())
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		zctx.From(r.Context()).Debug("Rate limit exceeded",
			zap.String("client", key),
			zap.Duration("retry_after", delay),
		)
		if delay > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
		}
		e := &jx.Encoder{}
		e.ObjStart()
		e.FieldStart("code")
		e.Int(http.StatusTooManyRequests)
		e.FieldStart("message")
		e.Str("rate limit exceeded")
		e.ObjEnd()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write(e.Bytes())
	})
}

// clientKey returns the client IP. Forwarding headers are honoured only when
// trustProxy is set.
func clientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
