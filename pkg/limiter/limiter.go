// Package limiter implements the reservoir token buckets that pace calls to
// external services. One Reservoir exists per upstream source; concurrent
// scans contend for the same reservoir. Reservoirs are plain injectable
// values, never package-level singletons, so tests can substitute
// deterministic instances and multiple pipelines can run isolated in one
// process.
package limiter

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Options configure a Reservoir.
type Options struct {
	// Capacity is the maximum number of tokens the reservoir holds. It also
	// sets the initial fill.
	Capacity int
	// RefillAmount tokens are added every RefillInterval, capped at Capacity.
	RefillAmount int
	// RefillInterval is the fixed refill period.
	RefillInterval time.Duration
	// Jitter, when positive, delays each dispatched acquisition by a random
	// duration in [0, Jitter). Used for the highest-cost upstream so refill
	// boundaries do not produce synchronized bursts.
	Jitter time.Duration
}

// Reservoir is a token bucket with interval-based refill. Acquire blocks the
// caller while the reservoir is empty and honors context cancellation:
// a queued-but-not-yet-dispatched acquisition for a cancelled job is
// abandoned, not retried later.
type Reservoir struct {
	opts Options

	mu       sync.Mutex
	tokens   int
	lastFill time.Time

	// now and sleep are indirections for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewReservoir creates a Reservoir starting at full capacity.
func NewReservoir(opts Options) *Reservoir {
	if opts.Capacity <= 0 {
		opts.Capacity = 1
	}
	if opts.RefillAmount <= 0 {
		opts.RefillAmount = opts.Capacity
	}
	if opts.RefillInterval <= 0 {
		opts.RefillInterval = time.Minute
	}

	r := &Reservoir{
		opts:   opts,
		tokens: opts.Capacity,
		now:    time.Now,
		sleep:  sleepCtx,
	}
	r.lastFill = r.now()

	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err() //nolint: wrapcheck
	case <-t.C:
		return nil
	}
}

// refillLocked adds the tokens accrued since lastFill. Callers hold mu.
func (r *Reservoir) refillLocked() {
	elapsed := r.now().Sub(r.lastFill)
	intervals := int(elapsed / r.opts.RefillInterval)
	if intervals <= 0 {
		return
	}

	r.tokens += intervals * r.opts.RefillAmount
	if r.tokens > r.opts.Capacity {
		r.tokens = r.opts.Capacity
	}
	r.lastFill = r.lastFill.Add(time.Duration(intervals) * r.opts.RefillInterval)
}

// Acquire consumes one token, blocking until one is available or ctx is
// cancelled. Token consumption is a single guarded operation; there is no
// read-modify-write window between checking and taking a token.
func (r *Reservoir) Acquire(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refillLocked()
		if r.tokens > 0 {
			r.tokens--
			r.mu.Unlock()

			if r.opts.Jitter > 0 {
				//nolint: gosec // pacing jitter, not security material
				if err := r.sleep(ctx, time.Duration(rand.Int63n(int64(r.opts.Jitter)))); err != nil {
					return fmt.Errorf("abandoned during jitter delay: %w", err)
				}
			}

			return nil
		}

		// next token arrives when the current interval elapses
		wait := r.opts.RefillInterval - r.now().Sub(r.lastFill)
		r.mu.Unlock()
		if wait <= 0 {
			wait = time.Millisecond
		}

		if err := r.sleep(ctx, wait); err != nil {
			return fmt.Errorf("abandoned waiting for rate limit token: %w", err)
		}
	}
}

// Tokens reports the currently available token count, refilling first. Used
// by tests and introspection endpoints.
func (r *Reservoir) Tokens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refillLocked()

	return r.tokens
}
