package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing() CheckFunc {
	return func(context.Context) error { return nil }
}

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(h *Health, kind Kind) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.Handler(kind).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func observeN(h *Health, name string, n int) {
	for _, p := range h.probes {
		if p.Name == name {
			for range n {
				p.observe(context.Background())
			}
		}
	}
}

func TestLiveness_Healthy(t *testing.T) {
	h := New()
	h.Register(Check{Name: "goroutines", Kind: Liveness, Func: passing()})

	w := serve(h, Liveness)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestLiveness_FailureThreshold(t *testing.T) {
	h := New()
	h.Register(Check{Name: "db", Kind: Liveness, Func: failing("connection refused")})

	observeN(h, "db", 2)
	assert.Equal(t, http.StatusOK, serve(h, Liveness).Code, "two failures stay below the default threshold")

	observeN(h, "db", 1)
	w := serve(h, Liveness)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"db":"connection refused"}}`, w.Body.String())
}

func TestCheck_Recovers(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	h := New()
	h.Register(Check{
		Name:             "redis",
		Kind:             Readiness,
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Func: func(context.Context) error {
			if fail.Load() {
				return errors.New("down")
			}
			return nil
		},
	})
	h.SetReady(true)

	observeN(h, "redis", 1)
	assert.False(t, h.Ready())

	fail.Store(false)
	observeN(h, "redis", 1)
	assert.False(t, h.Ready(), "one success is below the success threshold")
	observeN(h, "redis", 1)
	assert.True(t, h.Ready())
}

func TestReadiness_NotReady(t *testing.T) {
	h := New()
	h.Register(Check{Name: "postgres", Kind: Readiness, Func: passing()})

	w := serve(h, Readiness)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(h, Readiness).Code)

	h.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, Readiness).Code)
}

func TestReadiness_IgnoresLivenessChecks(t *testing.T) {
	h := New()
	h.Register(Check{Name: "goroutines", Kind: Liveness, FailureThreshold: 1, Func: failing("leak")})
	h.SetReady(true)

	observeN(h, "goroutines", 1)
	assert.True(t, h.Ready())
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, Liveness).Code)
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int32
	h := New()
	h.Register(Check{Name: "count", Kind: Readiness, Func: func(context.Context) error {
		calls.Add(1)
		return nil
	}})

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	h.Stop()
	h.Stop()

	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestConcurrentHandlers(t *testing.T) {
	h := New()
	h.Register(Check{Name: "a", Kind: Readiness, Func: failing("x")})
	h.Register(Check{Name: "b", Kind: Liveness, Func: passing()})
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				serve(h, Readiness)
				serve(h, Liveness)
			}
		}()
	}
	wg.Wait()
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPing(t *testing.T) {
	check := Ping(pingerFunc(func(context.Context) error { return errors.New("refused") }))
	assert.EqualError(t, check(context.Background()), "refused")
}

func TestGoroutineLimit(t *testing.T) {
	assert.NoError(t, GoroutineLimit(1_000_000)(context.Background()))
	assert.Error(t, GoroutineLimit(0)(context.Background()))
}
