// Package boundary isolates rendering faults to one named region of the
// screen. A region whose view panics or fails is replaced by a fallback with
// recovery actions while its siblings keep rendering.
package boundary

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
	"github.com/armorclaw/faultline/pkg/faults"
	"github.com/armorclaw/faultline/pkg/logger"
)

// ErrRetryExhausted is returned by Retry once the retry cap is reached
var ErrRetryExhausted = errors.New("retry limit reached")

// DefaultRetryCap is the number of faults after which Retry is withdrawn
const DefaultRetryCap = 3

// State is the boundary state
type State string

const (
	StateHealthy State = "healthy"
	StateFaulted State = "faulted"
)

// View renders a region
type View func() (string, error)

// Fallback describes a faulted region to a fallback renderer
type Fallback struct {
	Name     string
	Fault    *ferrors.ErrorContext
	Actions  []ferrors.Action
	Failures int
}

// Boundary guards one region
type Boundary struct {
	name     string
	reporter faults.Reporter
	retryCap int
	reset    func()
	home     func()
	fallback func(Fallback) string
	log      *logger.Logger

	mu       sync.Mutex
	state    State
	failures int
	fault    *ferrors.ErrorContext
}

// Option configures a Boundary
type Option func(*Boundary)

// WithRetryCap sets how many faults allow a plain retry (default 3)
func WithRetryCap(n int) Option {
	return func(b *Boundary) {
		if n > 0 {
			b.retryCap = n
		}
	}
}

// WithResetFunc sets the function that clears the region's local state on Reset
func WithResetFunc(fn func()) Option {
	return func(b *Boundary) { b.reset = fn }
}

// WithHomeFunc sets the function that navigates home on GoHome
func WithHomeFunc(fn func()) Option {
	return func(b *Boundary) { b.home = fn }
}

// WithFallback replaces the default fallback renderer
func WithFallback(fn func(Fallback) string) Option {
	return func(b *Boundary) { b.fallback = fn }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(b *Boundary) { b.log = l }
}

// New creates a healthy boundary named name. reporter may be nil.
func New(name string, reporter faults.Reporter, opts ...Option) *Boundary {
	b := &Boundary{
		name:     name,
		reporter: reporter,
		retryCap: DefaultRetryCap,
		fallback: RenderFallback,
		state:    StateHealthy,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.Global()
	}
	b.log = b.log.WithComponent("boundary")
	return b
}

// Name returns the region name
func (b *Boundary) Name() string {
	return b.name
}

// Render runs view unless the boundary is faulted. It returns the region
// content and whether the region is healthy. A panic or error from view is
// captured, reported and replaced by the fallback.
func (b *Boundary) Render(ctx context.Context, view View) (string, bool) {
	b.mu.Lock()
	if b.state == StateFaulted {
		fb := b.fallbackLocked()
		b.mu.Unlock()
		return b.fallback(fb), false
	}
	b.mu.Unlock()

	out, fault := b.run(view)
	if fault == nil {
		return out, true
	}

	b.mu.Lock()
	b.failures++
	b.state = StateFaulted
	b.fault = b.withCallbacks(fault)
	fb := b.fallbackLocked()
	reported := b.fault
	b.mu.Unlock()

	b.log.Warn("region failed to render", "region", b.name, "code", reported.Code, "failures", fb.Failures)
	if b.reporter != nil {
		if _, err := b.reporter.ReportContext(ctx, reported); err != nil {
			b.log.Error("failed to report render fault", "region", b.name, "error", err)
		}
	}
	return b.fallback(fb), false
}

func (b *Boundary) run(view View) (out string, fault *ferrors.ErrorContext) {
	defer func() {
		if r := recover(); r != nil {
			fault = Capture(b.name, r, string(debug.Stack()))
		}
	}()

	out, err := view()
	if err != nil {
		return "", captureError(b.name, err)
	}
	return out, nil
}

func (b *Boundary) withCallbacks(c *ferrors.ErrorContext) *ferrors.ErrorContext {
	builder := ferrors.From(c).WithActions(b.actionsLocked()...)
	if b.failures < b.retryCap {
		builder.WithCallback(ferrors.ActionRetry, b.Retry)
	}
	builder.WithCallback(ferrors.ActionReset, func() error { b.Reset(); return nil })
	builder.WithCallback(ferrors.ActionNavigateHome, func() error { b.GoHome(); return nil })
	return builder.Build()
}

func (b *Boundary) fallbackLocked() Fallback {
	return Fallback{
		Name:     b.name,
		Fault:    b.fault,
		Actions:  b.actionsLocked(),
		Failures: b.failures,
	}
}

func (b *Boundary) actionsLocked() []ferrors.Action {
	if b.failures < b.retryCap {
		return []ferrors.Action{ferrors.ActionRetry, ferrors.ActionReset, ferrors.ActionNavigateHome}
	}
	return []ferrors.Action{ferrors.ActionReset, ferrors.ActionNavigateHome}
}

// Retry re-mounts the region. It fails with ErrRetryExhausted once the
// region has faulted RetryCap times; Reset or GoHome remain available.
func (b *Boundary) Retry() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateFaulted {
		return nil
	}
	if b.failures >= b.retryCap {
		return ErrRetryExhausted
	}
	b.state = StateHealthy
	b.fault = nil
	return nil
}

// Reset clears the region's local state and re-mounts it with a fresh retry budget
func (b *Boundary) Reset() {
	if b.reset != nil {
		b.reset()
	}
	b.mu.Lock()
	b.state = StateHealthy
	b.failures = 0
	b.fault = nil
	b.mu.Unlock()
}

// GoHome navigates home and resets the region
func (b *Boundary) GoHome() {
	if b.home != nil {
		b.home()
	}
	b.Reset()
}

// Actions returns the recovery actions currently offered
func (b *Boundary) Actions() []ferrors.Action {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateFaulted {
		return nil
	}
	return b.actionsLocked()
}

// State returns the boundary state
func (b *Boundary) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Healthy reports whether the region renders normally
func (b *Boundary) Healthy() bool {
	return b.State() == StateHealthy
}

// Fault returns the current fault, or nil when healthy
func (b *Boundary) Fault() *ferrors.ErrorContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fault == nil {
		return nil
	}
	return b.fault.Clone()
}

// Failures returns the number of faults since the last reset
func (b *Boundary) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
