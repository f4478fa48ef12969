package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks a dependency with a round trip.
func Ping(p Pinger) CheckFunc {
	return p.Ping
}

// GoroutineLimit fails when more than limit goroutines are running, which
// usually means a leak.
func GoroutineLimit(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines running, limit is %d", n, limit)
		}
		return nil
	}
}
