// Package retry computes capped exponential backoff delays with optional
// additive jitter. A BackOff plugs into github.com/cenkalti/backoff/v4.
package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a backoff schedule
type Policy struct {
	// Initial is the first delay
	Initial time.Duration
	// Max caps every delay, jitter included
	Max time.Duration
	// Multiplier grows the delay per attempt (default 2)
	Multiplier float64
	// MaxJitter bounds the random delay added to each step (0 disables jitter)
	MaxJitter time.Duration
	// MaxAttempts bounds the number of delays handed out (0 = unbounded)
	MaxAttempts int
}

// NetworkPolicy is the request retry schedule: 1s, 2s, 4s, 8s, 16s.
func NetworkPolicy() Policy {
	return Policy{
		Initial:     time.Second,
		Max:         30 * time.Second,
		Multiplier:  2,
		MaxAttempts: 5,
	}
}

// StreamPolicy is the reconnect schedule: 1s doubling to 30s plus up to 500ms jitter, 10 attempts.
func StreamPolicy() Policy {
	return Policy{
		Initial:     time.Second,
		Max:         30 * time.Second,
		Multiplier:  2,
		MaxJitter:   500 * time.Millisecond,
		MaxAttempts: 10,
	}
}

func (p Policy) normalized() Policy {
	if p.Initial <= 0 {
		p.Initial = time.Second
	}
	if p.Max <= 0 {
		p.Max = 30 * time.Second
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxJitter < 0 {
		p.MaxJitter = 0
	}
	return p
}

// Base returns the un-jittered delay before retry attempt (1-based), capped at Max.
func (p Policy) Base(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.Max) || math.IsInf(d, 0) {
		return p.Max
	}
	return time.Duration(d)
}

// Delay returns the delay before attempt with jitter added, capped at Max.
func (p Policy) Delay(attempt int, jitter time.Duration) time.Duration {
	p = p.normalized()
	if jitter > p.MaxJitter {
		jitter = p.MaxJitter
	}
	if jitter < 0 {
		jitter = 0
	}
	d := p.Base(attempt) + jitter
	if d > p.Max {
		d = p.Max
	}
	return d
}

// Schedule lists the un-jittered delays for every allowed attempt
func (p Policy) Schedule() []time.Duration {
	n := p.MaxAttempts
	if n <= 0 {
		n = 10
	}
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = p.Base(i + 1)
	}
	return out
}

// JitterFunc returns a random duration in [0, max]
type JitterFunc func(max time.Duration) time.Duration

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}

// BackOff is a stateful backoff.BackOff following a Policy. Successive delays
// never decrease and the number of delays never exceeds MaxAttempts.
type BackOff struct {
	policy Policy
	jitter JitterFunc

	mu      sync.Mutex
	attempt int
	last    time.Duration
}

var _ backoff.BackOff = (*BackOff)(nil)

// Option configures a BackOff
type Option func(*BackOff)

// WithJitter replaces the random jitter source
func WithJitter(fn JitterFunc) Option {
	return func(b *BackOff) {
		if fn != nil {
			b.jitter = fn
		}
	}
}

// NewBackOff creates a BackOff for p
func NewBackOff(p Policy, opts ...Option) *BackOff {
	b := &BackOff{policy: p.normalized(), jitter: randomJitter}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NextBackOff returns the next delay, or backoff.Stop once MaxAttempts delays were handed out.
func (b *BackOff) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.policy.MaxAttempts > 0 && b.attempt >= b.policy.MaxAttempts {
		return backoff.Stop
	}
	b.attempt++

	d := b.policy.Delay(b.attempt, b.jitter(b.policy.MaxJitter))
	if d < b.last {
		d = b.last
	}
	b.last = d
	return d
}

// Reset starts the schedule over
func (b *BackOff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.last = 0
	b.mu.Unlock()
}

// Attempt returns the number of delays handed out since the last Reset
func (b *BackOff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// Exhausted reports whether no further delays remain
func (b *BackOff) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.policy.MaxAttempts > 0 && b.attempt >= b.policy.MaxAttempts
}

// Policy returns the schedule
func (b *BackOff) Policy() Policy {
	return b.policy
}
