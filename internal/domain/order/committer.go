package order

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/invoice"
)

const instrumentationName = "github.com/xenking/kart-checkout/internal/domain/order"

// State is a step of a commit run.
type State int

const (
	StateIdle State = iota
	StateAttempting
	StateCommitted
	StateAbortedTerminal
	StateAbortedConflict
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateCommitted:
		return "committed"
	case StateAbortedTerminal:
		return "aborted_terminal"
	case StateAbortedConflict:
		return "aborted_conflict"
	}
	return "unknown"
}

// Attempter runs one commit attempt. *Coordinator implements it.
type Attempter interface {
	Attempt(ctx context.Context, req Request) (*invoice.Invoice, error)
}

// RetryPolicy bounds conflict retries. The delay after failed attempt k is
// BaseDelay * 2^(k-1), randomized by Jitter (0 disables randomization).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      float64
}

// DefaultRetryPolicy allows 5 attempts starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = p.Jitter
	b.MaxInterval = max(b.MaxInterval, p.BaseDelay)
	b.Reset()
	return b
}

// Option configures a Committer.
type Option func(*Committer)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Committer) {
		if p.MaxAttempts < 1 {
			p.MaxAttempts = 1
		}
		c.policy = p
	}
}

// WithNotifier sets the post-commit notifier.
func WithNotifier(n Notifier, timeout time.Duration) Option {
	return func(c *Committer) {
		c.notifier = n
		if timeout > 0 {
			c.notifyTimeout = timeout
		}
	}
}

// WithMeterProvider sets the meter provider for commit metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Committer) { c.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider for attempt spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Committer) { c.tracerProvider = tp }
}

// Committer commits requests, retrying attempts that lose a write conflict.
// It is safe for concurrent use.
type Committer struct {
	attempter     Attempter
	policy        RetryPolicy
	notifier      Notifier
	notifyTimeout time.Duration
	sleep         func(ctx context.Context, d time.Duration) error

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	attempts       metric.Int64Counter
	conflicts      metric.Int64Counter
	duration       metric.Float64Histogram

	notifications sync.WaitGroup
}

// NewCommitter creates a Committer around a.
func NewCommitter(a Attempter, opts ...Option) (*Committer, error) {
	c := &Committer{
		attempter:      a,
		policy:         DefaultRetryPolicy(),
		notifyTimeout:  5 * time.Second,
		sleep:          sleepContext,
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	for _, o := range opts {
		o(c)
	}

	meter := c.meterProvider.Meter(instrumentationName)
	var err error
	if c.attempts, err = meter.Int64Counter("checkout.commit.attempts",
		metric.WithDescription("Commit attempts by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "attempts counter")
	}
	if c.conflicts, err = meter.Int64Counter("checkout.commit.conflicts",
		metric.WithDescription("Attempts aborted by a write conflict"),
	); err != nil {
		return nil, errors.Wrap(err, "conflicts counter")
	}
	if c.duration, err = meter.Float64Histogram("checkout.commit.duration",
		metric.WithDescription("Commit duration including retries"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, errors.Wrap(err, "duration histogram")
	}
	c.tracer = c.tracerProvider.Tracer(instrumentationName)

	return c, nil
}

// commitRun is the state of one Commit call.
type commitRun struct {
	state   State
	attempt int
	invoice *invoice.Invoice
	last    error
	err     error
}

// Commit runs attempts until one commits, one fails terminally or the
// retry budget is spent. After exhaustion it returns *ExhaustedError
// wrapping the last conflict. Waits between attempts stop when ctx is done.
func (c *Committer) Commit(ctx context.Context, req Request) (*invoice.Invoice, error) {
	start := time.Now()
	lg := zctx.From(ctx)
	b := c.policy.backOff()

	run := commitRun{state: StateIdle}
	for {
		switch run.state {
		case StateIdle:
			run.state = StateAttempting

		case StateAttempting:
			run.attempt++
			inv, err := c.attempt(ctx, req, run.attempt)
			switch {
			case err == nil:
				run.invoice = inv
				run.state = StateCommitted
			case IsRetryable(err):
				run.last = err
				run.state = StateAbortedConflict
			default:
				run.err = err
				run.state = StateAbortedTerminal
			}

		case StateAbortedConflict:
			c.conflicts.Add(ctx, 1)
			if run.attempt >= c.policy.MaxAttempts {
				run.err = &ExhaustedError{Attempts: run.attempt, Last: run.last}
				run.state = StateAbortedTerminal
				continue
			}
			delay := b.NextBackOff()
			lg.Debug("Commit conflict, retrying",
				zap.Int("attempt", run.attempt),
				zap.Duration("delay", delay),
				zap.Error(run.last),
			)
			if err := c.sleep(ctx, delay); err != nil {
				run.err = errors.Wrap(err, "wait for retry")
				run.state = StateAbortedTerminal
				continue
			}
			run.state = StateAttempting

		case StateCommitted:
			c.record(ctx, start, StateCommitted)
			lg.Info("Order committed",
				zap.Stringer("invoice_id", run.invoice.ID),
				zap.Int("attempts", run.attempt),
				zap.Int64("total", run.invoice.TotalAmount),
			)
			c.notify(ctx, run.invoice)
			return run.invoice, nil

		case StateAbortedTerminal:
			c.record(ctx, start, StateAbortedTerminal)
			return nil, run.err
		}
	}
}

func (c *Committer) attempt(ctx context.Context, req Request, n int) (*invoice.Invoice, error) {
	ctx, span := c.tracer.Start(ctx, "order.Attempt",
		trace.WithAttributes(attribute.Int("checkout.attempt", n)),
	)
	defer span.End()

	inv, err := c.attempter.Attempt(ctx, req)

	outcome := "committed"
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("checkout.invoice_id", inv.ID.String()))
	case IsRetryable(err):
		outcome = "conflict"
		span.RecordError(err)
	default:
		outcome = "terminal"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return inv, err
}

func (c *Committer) record(ctx context.Context, start time.Time, final State) {
	c.duration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("state", final.String())),
	)
}

// notify hands inv to the notifier in the background. The notification
// outlives the request context but not the notify timeout.
func (c *Committer) notify(ctx context.Context, inv *invoice.Invoice) {
	if c.notifier == nil {
		return
	}
	lg := zctx.From(ctx).With(zap.Stringer("invoice_id", inv.ID))
	nctx := context.WithoutCancel(ctx)

	c.notifications.Add(1)
	go func() {
		defer c.notifications.Done()
		defer func() {
			if r := recover(); r != nil {
				lg.Error("Notifier panic", zap.Any("panic", r))
			}
		}()

		nctx, cancel := context.WithTimeout(nctx, c.notifyTimeout)
		defer cancel()

		if err := c.notifier.Notify(nctx, inv); err != nil {
			lg.Warn("Failed to notify about committed invoice", zap.Error(err))
		}
	}()
}

// Wait blocks until all pending notifications have finished.
func (c *Committer) Wait() {
	c.notifications.Wait()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
