// Package guard applies updates to a piece of shared state so that a failed
// update never leaves the state half-changed. Every update runs against a
// snapshot; a panic, an error or a failed post-condition restores it.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
	"github.com/armorclaw/faultline/pkg/faults"
	"github.com/armorclaw/faultline/pkg/logger"
)

// ErrCheckFailed wraps post-condition failures
var ErrCheckFailed = errors.New("post-condition failed")

// MutationError is returned when an update was rolled back
type MutationError struct {
	Guard string
	Err   error
	Fault *ferrors.ErrorContext
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("guard %s: update rolled back: %v", e.Guard, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// Mutation changes the state in place
type Mutation[T any] func(state *T) error

// Guard owns one state value
type Guard[T any] struct {
	name     string
	reporter faults.Reporter
	clone    func(T) (T, error)
	check    func(T) error
	log      *logger.Logger

	mu    sync.Mutex
	state T
}

// Option configures a Guard
type Option[T any] func(*Guard[T])

// WithClone replaces the snapshot function. The default deep-copies through JSON,
// which only preserves exported fields.
func WithClone[T any](fn func(T) (T, error)) Option[T] {
	return func(g *Guard[T]) { g.clone = fn }
}

// WithCheck installs a post-condition run after every mutation
func WithCheck[T any](fn func(T) error) Option[T] {
	return func(g *Guard[T]) { g.check = fn }
}

// WithLogger sets the logger
func WithLogger[T any](l *logger.Logger) Option[T] {
	return func(g *Guard[T]) { g.log = l }
}

// New creates a guard named name holding initial. reporter may be nil.
func New[T any](name string, initial T, reporter faults.Reporter, opts ...Option[T]) *Guard[T] {
	g := &Guard[T]{
		name:     name,
		reporter: reporter,
		clone:    jsonClone[T],
		state:    initial,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logger.Global()
	}
	g.log = g.log.WithComponent("guard")
	return g
}

func jsonClone[T any](v T) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}

// Name returns the guard name
func (g *Guard[T]) Name() string {
	return g.name
}

// Get returns a copy of the current state
func (g *Guard[T]) Get() T {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, err := g.clone(g.state); err == nil {
		return c
	}
	return g.state
}

// Update applies fn. On failure the state is restored to the snapshot taken
// before fn ran, the fault is reported with a retry action that re-applies
// fn, and a *MutationError is returned.
func (g *Guard[T]) Update(ctx context.Context, fn Mutation[T]) error {
	g.mu.Lock()
	snapshot, err := g.clone(g.state)
	if err != nil {
		g.mu.Unlock()
		return g.fail(ctx, fn, ferrors.CodeStateMutation, fmt.Errorf("snapshot failed: %w", err))
	}

	code := ferrors.CodeStateMutation
	err = apply(&g.state, fn)
	if err == nil && g.check != nil {
		if cerr := g.check(g.state); cerr != nil {
			code = ferrors.CodeStatePostcondition
			err = fmt.Errorf("%w: %w", ErrCheckFailed, cerr)
		}
	}
	if err != nil {
		g.state = snapshot
	}
	g.mu.Unlock()

	if err != nil {
		return g.fail(ctx, fn, code, err)
	}
	return nil
}

func apply[T any](state *T, fn Mutation[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ferrors.PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return fn(state)
}

func (g *Guard[T]) fail(ctx context.Context, fn Mutation[T], code string, cause error) error {
	retryCtx := context.WithoutCancel(ctx)
	fault := ferrors.NewBuilder(code).
		Wrap(cause).
		WithOrigin(g.name, "update").
		WithCallback(ferrors.ActionRetry, func() error {
			return g.Update(retryCtx, fn)
		}).
		Build()

	g.log.Warn("state update rolled back", "guard", g.name, "code", code, "error", cause)
	if g.reporter != nil {
		if _, err := g.reporter.ReportContext(ctx, fault); err != nil {
			g.log.Error("failed to report rolled back update", "guard", g.name, "error", err)
		}
	}
	return &MutationError{Guard: g.name, Err: cause, Fault: fault}
}
