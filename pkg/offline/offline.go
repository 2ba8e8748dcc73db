// Package offline suspends mutating operations while connectivity is lost.
// Operations submitted while offline are persisted and replayed in enqueue
// order when the connection returns.
package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/armorclaw/faultline/internal/queue"
	ferrors "github.com/armorclaw/faultline/pkg/errors"
	"github.com/armorclaw/faultline/pkg/errstore"
	"github.com/armorclaw/faultline/pkg/faults"
	"github.com/armorclaw/faultline/pkg/logger"
	"github.com/armorclaw/faultline/pkg/retry"
)

const (
	// DefaultMaxAttempts is how many replays an operation gets before it fails for good
	DefaultMaxAttempts = 5

	component = "offline"
)

// ErrNoHandler is returned for operation kinds nobody registered
var ErrNoHandler = errors.New("no handler registered for operation kind")

// State is the connectivity state
type State string

const (
	Online  State = "online"
	Offline State = "offline"
)

// Handler sends one operation. It is called again with the same payload on
// replay, so it must tolerate being delivered more than once.
type Handler func(ctx context.Context, payload []byte) error

// SubmitResult describes what Submit did with an operation
type SubmitResult struct {
	ID     string
	Queued bool
}

// ReplayResult summarizes one replay run
type ReplayResult struct {
	Delivered int
	Failed    int
	Remaining int
}

// Queue routes operations to their handlers or to the persisted queue
type Queue struct {
	store       *queue.Store
	reporter    faults.Reporter
	errs        *errstore.Store
	maxAttempts int
	policy      retry.Policy
	sleep       func(ctx context.Context, d time.Duration) error
	log         *logger.Logger

	mu        sync.RWMutex
	state     State
	replaying bool
	handlers  map[string]Handler
	listeners map[int]func(State)
	nextID    int

	replayMu sync.Mutex
}

// Option configures a Queue
type Option func(*Queue)

// WithMaxAttempts sets the replay limit per operation (default 5)
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithPolicy sets the pause between replay passes
func WithPolicy(p retry.Policy) Option {
	return func(q *Queue) { q.policy = p }
}

// WithSleep replaces the wait between replay passes
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(q *Queue) {
		if fn != nil {
			q.sleep = fn
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// New creates a queue in the Online state. errs is the store the offline
// banner is cleared from once the queue drains; it may be nil.
func New(store *queue.Store, reporter faults.Reporter, errs *errstore.Store, opts ...Option) *Queue {
	q := &Queue{
		store:       store,
		reporter:    reporter,
		errs:        errs,
		maxAttempts: DefaultMaxAttempts,
		policy:      retry.NetworkPolicy(),
		sleep:       sleepContext,
		state:       Online,
		handlers:    make(map[string]Handler),
		listeners:   make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.log == nil {
		q.log = logger.Global()
	}
	q.log = q.log.WithComponent(component)
	return q
}

// Register sets the handler for an operation kind
func (q *Queue) Register(kind string, h Handler) {
	q.mu.Lock()
	q.handlers[kind] = h
	q.mu.Unlock()
}

func (q *Queue) handler(kind string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[kind]
	return h, ok
}

// State returns the current connectivity state
func (q *Queue) State() State {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.state
}

// OnState registers fn for state transitions and returns a function that removes it
func (q *Queue) OnState(fn func(State)) (unsubscribe func()) {
	q.mu.Lock()
	id := q.nextID
	q.nextID++
	q.listeners[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

// transition sets the state and reports whether it changed
func (q *Queue) transition(to State) bool {
	q.mu.Lock()
	if q.state == to {
		q.mu.Unlock()
		return false
	}
	q.state = to
	fns := make([]func(State), 0, len(q.listeners))
	for _, fn := range q.listeners {
		fns = append(fns, fn)
	}
	q.mu.Unlock()

	q.log.Info("connectivity changed", "state", to)
	for _, fn := range fns {
		fn(to)
	}
	return true
}

// Submit sends an operation when online. While offline, or when sending
// fails for lack of connectivity, the operation is queued instead. Other
// failures are returned to the caller.
func (q *Queue) Submit(ctx context.Context, kind string, payload []byte) (SubmitResult, error) {
	h, ok := q.handler(kind)
	if !ok {
		return SubmitResult{}, fmt.Errorf("%w: %s", ErrNoHandler, kind)
	}

	q.mu.RLock()
	online, replaying := q.state == Online, q.replaying
	q.mu.RUnlock()
	direct := online && !replaying

	if direct {
		err := runHandler(ctx, h, payload)
		if err == nil {
			return SubmitResult{}, nil
		}
		if !ferrors.IsOfflineFailure(ferrors.Classify(err, ferrors.Hints{})) {
			return SubmitResult{}, err
		}
		q.SetOffline(ctx)
	}

	res, err := q.store.Enqueue(ctx, queue.Operation{Kind: kind, Payload: payload})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("queue %s operation: %w", kind, err)
	}
	q.log.Debug("operation queued", "id", res.ID, "kind", kind, "depth", res.Depth)
	if online && replaying {
		// The running replay may already be past its last read of the queue.
		go q.replayLate(context.WithoutCancel(ctx))
	}
	return SubmitResult{ID: res.ID, Queued: true}, nil
}

// replayLate runs once the current replay releases the queue
func (q *Queue) replayLate(ctx context.Context) {
	if q.State() != Online {
		return
	}
	if _, err := q.Replay(ctx); err != nil {
		q.log.Warn("follow-up replay failed", "error", err)
	}
}

// SetOffline enters degraded mode and shows the offline banner
func (q *Queue) SetOffline(ctx context.Context) {
	if !q.transition(Offline) {
		return
	}
	if q.reporter == nil {
		return
	}
	banner := ferrors.NewBuilder(ferrors.CodeNetworkOffline).WithOrigin(component, "").Build()
	if _, err := q.reporter.ReportContext(ctx, banner); err != nil {
		q.log.Warn("offline banner not shown", "error", err)
	}
}

// SetOnline leaves degraded mode and replays the queue
func (q *Queue) SetOnline(ctx context.Context) (ReplayResult, error) {
	if !q.transition(Online) {
		return ReplayResult{}, nil
	}
	return q.Replay(ctx)
}

// Banner returns the degraded-mode message while offline
func (q *Queue) Banner(ctx context.Context) (string, bool) {
	if q.State() != Offline {
		return "", false
	}
	msg := ferrors.Lookup(ferrors.CodeNetworkOffline).Message
	if stats, err := q.store.Stats(ctx); err == nil && stats.Pending > 0 {
		msg = fmt.Sprintf("%s (%d queued)", msg, stats.Pending)
	}
	return msg, true
}

type outcome int

const (
	delivered outcome = iota
	retrying
	failed
	wentOffline
)

// Replay delivers queued operations oldest first. A failing operation does
// not hold up the ones behind it; it is retried on the next pass until it
// has used up its attempts. Replay stops early when connectivity is lost.
func (q *Queue) Replay(ctx context.Context) (ReplayResult, error) {
	q.replayMu.Lock()
	defer q.replayMu.Unlock()

	q.setReplaying(true)
	defer q.setReplaying(false)

	var res ReplayResult
passes:
	for pass := 1; ; pass++ {
		if q.State() == Offline {
			break
		}
		pending, err := q.store.Pending(ctx, 0)
		if err != nil {
			return res, err
		}
		if len(pending) == 0 {
			break
		}

		again := false
		for _, op := range pending {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			out, err := q.replayOne(ctx, op)
			if err != nil {
				return res, err
			}
			switch out {
			case delivered:
				res.Delivered++
			case failed:
				res.Failed++
			case retrying:
				again = true
			case wentOffline:
				break passes
			}
		}

		if again {
			if err := q.sleep(ctx, q.policy.Base(pass)); err != nil {
				return res, err
			}
		}
	}

	stats, err := q.store.Stats(ctx)
	if err != nil {
		return res, err
	}
	res.Remaining = stats.Pending
	if res.Remaining == 0 && q.State() == Online && q.errs != nil {
		q.errs.DismissMatching(ferrors.CodeNetworkOffline, component)
	}
	q.log.Info("replay finished", "delivered", res.Delivered, "failed", res.Failed, "remaining", res.Remaining)
	return res, nil
}

func (q *Queue) setReplaying(v bool) {
	q.mu.Lock()
	q.replaying = v
	q.mu.Unlock()
}

func (q *Queue) replayOne(ctx context.Context, op *queue.Operation) (outcome, error) {
	h, ok := q.handler(op.Kind)
	if !ok {
		return failed, q.fail(ctx, op, op.Attempts, fmt.Errorf("%w: %s", ErrNoHandler, op.Kind))
	}

	cause := runHandler(ctx, h, op.Payload)
	if cause == nil {
		if err := q.store.Ack(ctx, op.ID); err != nil {
			return delivered, fmt.Errorf("ack %s: %w", op.ID, err)
		}
		return delivered, nil
	}

	hints := ferrors.Hints{Kind: ferrors.KindTask, Component: component, Action: op.Kind}
	if ferrors.IsOfflineFailure(ferrors.Classify(cause, hints)) {
		q.SetOffline(ctx)
		return wentOffline, nil
	}
	if q.reporter != nil {
		q.reporter.Log(ctx, cause, hints)
	}

	attempts, err := q.store.MarkAttempt(ctx, op.ID, cause)
	if err != nil {
		return retrying, err
	}
	if attempts >= q.maxAttempts {
		return failed, q.fail(ctx, op, attempts, cause)
	}
	return retrying, nil
}

// fail marks op as permanently failed and surfaces it with a retry action
func (q *Queue) fail(ctx context.Context, op *queue.Operation, attempts int, cause error) error {
	if err := q.store.MarkFailed(ctx, op.ID, cause); err != nil {
		return err
	}
	if q.reporter == nil {
		return nil
	}

	id := op.ID
	fault := ferrors.NewBuilder(ferrors.CodeTaskReplayFailed).
		Wrap(cause).
		WithOrigin(failureOrigin(id), op.Kind).
		WithDetail("operation_id", id).
		WithDetail("kind", op.Kind).
		WithDetail("attempts", attempts).
		WithCallback(ferrors.ActionRetry, func() error {
			_, err := q.RetryFailed(context.Background(), id)
			return err
		}).
		Build()
	if _, err := q.reporter.ReportContext(ctx, fault); err != nil {
		q.log.Warn("replay failure not surfaced", "id", id, "error", err)
	}
	return nil
}

// failureOrigin keeps each failed operation its own store entry
func failureOrigin(id string) string {
	return component + "/" + id
}

// RetryFailed returns a permanently failed operation to the queue and, when
// online, replays it.
func (q *Queue) RetryFailed(ctx context.Context, id string) (ReplayResult, error) {
	if err := q.store.Requeue(ctx, id); err != nil {
		return ReplayResult{}, err
	}
	if q.errs != nil {
		q.errs.DismissMatching(ferrors.CodeTaskReplayFailed, failureOrigin(id))
	}
	if q.State() != Online {
		return ReplayResult{Remaining: 1}, nil
	}
	return q.Replay(ctx)
}

// Pending returns the queued operations in replay order
func (q *Queue) Pending(ctx context.Context) ([]*queue.Operation, error) {
	return q.store.Pending(ctx, 0)
}

func runHandler(ctx context.Context, h Handler, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ferrors.PanicError{Value: r}
		}
	}()
	return h(ctx, payload)
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
