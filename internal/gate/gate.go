// Package gate retries rate-limited generation calls with linear backoff.
//
// Each Call runs its own bounded retry loop; nothing is shared between calls, so independent
// callers never wait on each other's backoff.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/aktagon/news-digest/internal/generator"
	"github.com/aktagon/news-digest/internal/logger"
)

const (
	DefaultInitialBackoff = time.Second
	DefaultMaxRetries     = 100
)

// Policy bounds the retry loop. The wait before retry n is InitialBackoff*n.
type Policy struct {
	InitialBackoff time.Duration
	MaxRetries     int
}

// DefaultPolicy waits 1s, 2s, 3s, ... for up to 100 retries.
func DefaultPolicy() Policy {
	return Policy{InitialBackoff: DefaultInitialBackoff, MaxRetries: DefaultMaxRetries}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	return p.InitialBackoff * time.Duration(attempt)
}

// Operation is one zero-argument invocation of an external call.
type Operation func(ctx context.Context) (string, error)

// Event describes one attempt or one backoff wait. Wait is zero for attempt events.
type Event struct {
	Label   string
	Attempt int
	Wait    time.Duration
	Err     error
}

// Observer receives every Event a call produces.
type Observer func(Event)

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ExhaustedError is returned once every permitted retry failed with a rate limit.
type ExhaustedError struct {
	Label    string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Label, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Gate wraps external calls with the retry policy.
type Gate struct {
	policy    Policy
	log       *logger.Logger
	sleep     Sleeper
	retryable func(error) bool
	observer  Observer
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithSleeper replaces the context-aware timer sleep. Tests use it to record waits.
func WithSleeper(s Sleeper) GateOption {
	return func(g *Gate) { g.sleep = s }
}

// WithObserver registers a callback for attempt and wait events.
func WithObserver(o Observer) GateOption {
	return func(g *Gate) { g.observer = o }
}

// WithClassifier replaces the rate-limit test used to decide whether a failure is retried.
func WithClassifier(retryable func(error) bool) GateOption {
	return func(g *Gate) { g.retryable = retryable }
}

// New creates a Gate with the default policy for all calls.
func New(policy Policy, log *logger.Logger, opts ...GateOption) *Gate {
	if log == nil {
		log = logger.Discard()
	}
	g := &Gate{
		policy:    policy,
		log:       log,
		sleep:     sleepContext,
		retryable: generator.IsRateLimited,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the gate's default policy.
func (g *Gate) Policy() Policy {
	return g.policy
}

// CallOption overrides the policy for a single call.
type CallOption func(*Policy)

// WithMaxRetries overrides MaxRetries for one call.
func WithMaxRetries(n int) CallOption {
	return func(p *Policy) { p.MaxRetries = n }
}

// WithInitialBackoff overrides InitialBackoff for one call.
func WithInitialBackoff(d time.Duration) CallOption {
	return func(p *Policy) { p.InitialBackoff = d }
}

type outcome int

const (
	succeeded outcome = iota
	retryable
	fatal
)

// attempt is the result of one invocation of the operation.
type attempt struct {
	n    int
	text string
	err  error
}

func (g *Gate) outcome(a attempt) outcome {
	switch {
	case a.err == nil:
		return succeeded
	case g.retryable(a.err):
		return retryable
	default:
		return fatal
	}
}

// Call runs op, retrying rate-limited failures. Any other failure is returned immediately.
// After MaxRetries retries the last rate-limit error is returned inside an ExhaustedError.
func (g *Gate) Call(ctx context.Context, label string, op Operation, opts ...CallOption) (string, error) {
	policy := g.policy
	for _, opt := range opts {
		opt(&policy)
	}
	// Every call makes at least one attempt.
	policy.MaxRetries = max(0, policy.MaxRetries)
	log := g.log.With("call", label)

	var last attempt
	for n := 1; n <= policy.MaxRetries+1; n++ {
		last = attempt{n: n}
		last.text, last.err = op(ctx)
		g.emit(Event{Label: label, Attempt: n, Err: last.err})

		switch g.outcome(last) {
		case succeeded:
			if n > 1 {
				log.Debug("call succeeded after retry", "attempt", n)
			}
			return last.text, nil
		case fatal:
			return "", last.err
		}

		if n > policy.MaxRetries {
			break
		}
		wait := policy.Backoff(n)
		log.Warn("rate limited, backing off", "attempt", n, "wait", wait, "error", last.err)
		g.emit(Event{Label: label, Attempt: n, Wait: wait, Err: last.err})
		if err := g.sleep(ctx, wait); err != nil {
			return "", fmt.Errorf("%s: waiting to retry: %w", label, err)
		}
	}

	log.Error("rate limit retries exhausted", "attempts", last.n, "error", last.err)
	return "", &ExhaustedError{Label: label, Attempts: last.n, Err: last.err}
}

func (g *Gate) emit(e Event) {
	if g.observer != nil {
		g.observer(e)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
