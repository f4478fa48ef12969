package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/invoice"
)

// --- Mock implementations ---

// scriptedAttempter returns errs[i] for the i-th attempt and an invoice once
// the script runs out.
type scriptedAttempter struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedAttempter) Attempt(_ context.Context, _ Request) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls <= len(s.errs) {
		return nil, s.errs[s.calls-1]
	}
	return &invoice.Invoice{ID: uuid.New(), TotalAmount: 100}, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	invoices []uuid.UUID
	ctxErr   error
	err      error
}

func (n *recordingNotifier) Notify(ctx context.Context, inv *invoice.Invoice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.invoices = append(n.invoices, inv.ID)
	n.ctxErr = ctx.Err()
	return n.err
}

// --- Helpers ---

func conflict() error {
	return &ConflictError{Err: errors.New("could not serialize access")}
}

func newTestCommitter(t *testing.T, a Attempter, opts ...Option) (*Committer, *[]time.Duration) {
	t.Helper()
	c, err := NewCommitter(a, opts...)
	require.NoError(t, err)

	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return c, &delays
}

// --- Tests ---

func TestCommitter_SucceedsAfterConflicts(t *testing.T) {
	a := &scriptedAttempter{errs: []error{conflict(), conflict(), conflict()}}
	c, delays := newTestCommitter(t, a)

	inv, err := c.Commit(context.Background(), Request{})
	require.NoError(t, err)
	require.NotNil(t, inv)

	assert.Equal(t, 4, a.calls)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, *delays)
}

func TestCommitter_Exhausted(t *testing.T) {
	last := &ConflictError{Err: errors.New("last")}
	a := &scriptedAttempter{errs: []error{conflict(), conflict(), conflict(), conflict(), last}}
	c, delays := newTestCommitter(t, a)

	_, err := c.Commit(context.Background(), Request{})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
	assert.Same(t, last, exhausted.Last)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 5, a.calls)
	assert.Len(t, *delays, 4)
	assert.Equal(t, 800*time.Millisecond, (*delays)[3])
}

func TestCommitter_TerminalErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "validation", err: &ValidationError{Message: "bad"}},
		{name: "stock", err: &inventory.StockError{Requested: 1}},
		{name: "coupon", err: &coupon.CouponError{Code: "X", Reason: coupon.ReasonInvalid}},
		{name: "persistence", err: &PersistenceError{Err: errors.New("connection refused")}},
		{name: "canceled", err: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &scriptedAttempter{errs: []error{tt.err}}
			c, delays := newTestCommitter(t, a)

			_, err := c.Commit(context.Background(), Request{})
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, a.calls)
			assert.Empty(t, *delays)
		})
	}
}

func TestCommitter_CustomPolicy(t *testing.T) {
	a := &scriptedAttempter{errs: []error{conflict(), conflict()}}
	c, delays := newTestCommitter(t, a, WithRetryPolicy(RetryPolicy{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond}))

	_, err := c.Commit(context.Background(), Request{})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, *delays)
}

func TestCommitter_CancelDuringBackoff(t *testing.T) {
	a := &scriptedAttempter{errs: []error{conflict(), conflict()}}
	c, err := NewCommitter(a, WithRetryPolicy(RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err = c.Commit(ctx, Request{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Minute)
	assert.Equal(t, 1, a.calls)
}

func TestCommitter_NotifiesAfterCommit(t *testing.T) {
	n := &recordingNotifier{err: errors.New("redis down")}
	c, _ := newTestCommitter(t, &scriptedAttempter{}, WithNotifier(n, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	inv, err := c.Commit(ctx, Request{})
	cancel()
	require.NoError(t, err, "notifier failure must not fail the commit")

	c.Wait()
	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, []uuid.UUID{inv.ID}, n.invoices)
	assert.NoError(t, n.ctxErr, "notification outlives the request context")
}

func TestCommitter_NoNotifyOnFailure(t *testing.T) {
	n := &recordingNotifier{}
	c, _ := newTestCommitter(t, &scriptedAttempter{errs: []error{&ValidationError{Message: "bad"}}}, WithNotifier(n, time.Second))

	_, err := c.Commit(context.Background(), Request{})
	require.Error(t, err)

	c.Wait()
	assert.Empty(t, n.invoices)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(conflict()))
	assert.True(t, IsRetryable(errors.Wrap(conflict(), "commit")))
	assert.False(t, IsRetryable(&ExhaustedError{Attempts: 5, Last: conflict()}))
	assert.False(t, IsRetryable(&inventory.StockError{}))
	assert.False(t, IsRetryable(errors.New("serialization failure")))
	assert.False(t, IsRetryable(nil))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "aborted_conflict", StateAbortedConflict.String())
	assert.Equal(t, "unknown", State(42).String())
}
