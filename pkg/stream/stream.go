// Package stream keeps a server-push event stream connected. Silence longer
// than the heartbeat timeout counts as a disconnect; reconnection backs off
// exponentially with jitter and, once the attempts are used up, waits for a
// manual Reconnect.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/armorclaw/faultline/pkg/config"
	ferrors "github.com/armorclaw/faultline/pkg/errors"
	"github.com/armorclaw/faultline/pkg/errstore"
	"github.com/armorclaw/faultline/pkg/faults"
	"github.com/armorclaw/faultline/pkg/logger"
	"github.com/armorclaw/faultline/pkg/retry"
)

const (
	// DefaultHeartbeatTimeout is the longest the stream may stay silent
	DefaultHeartbeatTimeout = 10 * time.Second

	component = "stream"
)

var (
	// ErrRunning is returned when Run is called twice
	ErrRunning = errors.New("stream already running")
	// ErrStopped is returned by Reconnect after Run returned
	ErrStopped = errors.New("stream stopped")

	errHeartbeatTimeout = errors.New("no message within heartbeat timeout")
	errExhausted        = errors.New("reconnect attempts exhausted")
)

// Status is the connection state
type Status string

const (
	Connected    Status = "connected"
	Disconnected Status = "disconnected"
	Reconnecting Status = "reconnecting"
)

var allStatuses = []Status{Connected, Disconnected, Reconnecting}

// Conn is one open stream connection
type Conn interface {
	// Read blocks for the next frame. It must return when ctx is done.
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Transport opens connections
type Transport interface {
	// Dial connects. A non-empty resumeToken asks the server to continue
	// after that event ID.
	Dial(ctx context.Context, resumeToken string) (Conn, error)
	// SupportsResume reports whether the server honors resume tokens
	SupportsResume() bool
}

// Handler receives decoded events. Errors and panics are logged; they
// never close the stream.
type Handler func(ctx context.Context, ev Event) error

// Reconnector drives a Transport through the connection state machine
type Reconnector struct {
	transport Transport
	handler   Handler
	reporter  faults.Reporter
	errs      *errstore.Store
	policy    retry.Policy
	heartbeat time.Duration
	resume    bool
	jitter    retry.JitterFunc
	sleep     func(ctx context.Context, d time.Duration) error
	log       *logger.Logger

	mu          sync.RWMutex
	status      Status
	lastEventID string
	attempt     int
	waiting     bool
	listeners   map[int]func(Status)
	nextID      int

	started atomic.Bool
	manual  chan chan error
	done    chan struct{}
	sf      singleflight.Group
}

// Option configures a Reconnector
type Option func(*Reconnector)

// WithSleep replaces the wait between reconnect attempts
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Reconnector) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// WithJitter replaces the random jitter source
func WithJitter(fn retry.JitterFunc) Option {
	return func(r *Reconnector) { r.jitter = fn }
}

// WithErrorStore lets a successful reconnect clear the exhausted fault
func WithErrorStore(s *errstore.Store) Option {
	return func(r *Reconnector) { r.errs = s }
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(r *Reconnector) { r.log = l }
}

// New creates a Reconnector. Zero values in cfg fall back to the defaults:
// a 10s heartbeat and retry.StreamPolicy.
func New(transport Transport, handler Handler, reporter faults.Reporter, cfg config.StreamConfig, opts ...Option) *Reconnector {
	policy := retry.StreamPolicy()
	if d := cfg.BaseDelay.D(); d > 0 {
		policy.Initial = d
	}
	if d := cfg.MaxDelay.D(); d > 0 {
		policy.Max = d
	}
	if d := cfg.MaxJitter.D(); d > 0 {
		policy.MaxJitter = d
	}
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	heartbeat := cfg.HeartbeatTimeout.D()
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatTimeout
	}

	r := &Reconnector{
		transport: transport,
		handler:   handler,
		reporter:  reporter,
		policy:    policy,
		heartbeat: heartbeat,
		resume:    cfg.Resume,
		sleep:     sleepContext,
		status:    Disconnected,
		listeners: make(map[int]func(Status)),
		manual:    make(chan chan error),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Global()
	}
	r.log = r.log.WithComponent(component)
	return r
}

// Status returns the connection state
func (r *Reconnector) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Attempt returns the current reconnect attempt, 0 while connected
func (r *Reconnector) Attempt() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attempt
}

// Waiting reports whether automatic reconnection gave up
func (r *Reconnector) Waiting() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// LastEventID returns the ID of the last delivered event
func (r *Reconnector) LastEventID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastEventID
}

// OnStatus registers fn for status changes and returns a function that removes it
func (r *Reconnector) OnStatus(fn func(Status)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Reconnector) setStatus(s Status) {
	r.mu.Lock()
	if r.status == s {
		r.mu.Unlock()
		return
	}
	r.status = s
	if s == Connected {
		r.attempt = 0
	}
	fns := make([]func(Status), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, st := range allStatuses {
		v := 0.0
		if st == s {
			v = 1
		}
		statusGauge.WithLabelValues(string(st)).Set(v)
	}
	r.log.Info("stream status changed", "status", s)
	for _, fn := range fns {
		fn(s)
	}
}

func (r *Reconnector) setAttempt(n int) {
	r.mu.Lock()
	r.attempt = n
	r.mu.Unlock()
}

func (r *Reconnector) setWaiting(v bool) {
	r.mu.Lock()
	r.waiting = v
	r.mu.Unlock()
}

// Run connects and keeps the stream alive until ctx is done. It returns
// ctx.Err(). Run may only be called once.
func (r *Reconnector) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(r.done)
	defer r.setStatus(Disconnected)

	first, everConnected := true, false
	for {
		var (
			conn Conn
			err  error
		)
		if first {
			r.setStatus(Reconnecting)
			conn, err = r.dial(ctx)
			if err != nil && ctx.Err() == nil {
				r.logDisconnect(ctx, err)
				conn, err = r.reconnect(ctx)
			}
		} else {
			conn, err = r.reconnect(ctx)
		}
		if errors.Is(err, errExhausted) {
			conn, err = r.awaitManual(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		r.connected(ctx, everConnected)
		first, everConnected = false, true

		err = r.consume(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.setStatus(Disconnected)
		r.logDisconnect(ctx, err)
	}
}

func (r *Reconnector) dial(ctx context.Context) (Conn, error) {
	token := ""
	if r.resumable() {
		token = r.LastEventID()
	}
	return r.transport.Dial(ctx, token)
}

func (r *Reconnector) resumable() bool {
	return r.resume && r.transport.SupportsResume()
}

// reconnect dials with backoff until a connection opens or the attempts run out
func (r *Reconnector) reconnect(ctx context.Context) (Conn, error) {
	b := retry.NewBackOff(r.policy, retry.WithJitter(r.jitter))
	for {
		d := b.NextBackOff()
		if d == backoff.Stop {
			return nil, errExhausted
		}
		r.setAttempt(b.Attempt())
		r.setStatus(Reconnecting)
		reconnectAttempts.Inc()
		r.log.Debug("reconnecting", "attempt", b.Attempt(), "delay", d)

		if err := r.sleep(ctx, d); err != nil {
			return nil, err
		}
		conn, err := r.dial(ctx)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if r.reporter != nil {
			r.reporter.Log(ctx, err, ferrors.Hints{Kind: ferrors.KindStream, Component: component, Action: "dial"})
		}
	}
}

// awaitManual surfaces the exhausted fault and dials once per Reconnect call
func (r *Reconnector) awaitManual(ctx context.Context) (Conn, error) {
	exhaustedTotal.Inc()
	for {
		r.setStatus(Disconnected)
		r.reportExhausted(ctx)
		r.setWaiting(true)

		var reply chan error
		select {
		case <-ctx.Done():
			r.setWaiting(false)
			return nil, ctx.Err()
		case reply = <-r.manual:
		}
		r.setWaiting(false)
		r.setStatus(Reconnecting)

		conn, err := r.dial(ctx)
		reply <- err
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.log.Warn("manual reconnect failed", "error", err)
	}
}

func (r *Reconnector) reportExhausted(ctx context.Context) {
	fault := ferrors.NewBuilder(ferrors.CodeStreamExhausted).
		WithOrigin(component, "reconnect").
		WithDetail("attempts", r.policy.MaxAttempts).
		WithCallback(ferrors.ActionReconnect, r.Reconnect).
		Build()
	if r.reporter == nil {
		r.log.FaultEvent(ctx, "stream reconnect exhausted", fault)
		return
	}
	if _, err := r.reporter.ReportContext(ctx, fault); err != nil {
		r.log.Warn("exhausted fault not surfaced", "error", err)
	}
}

// Reconnect asks a stream that gave up to dial again. Concurrent calls share
// one attempt. It returns nil without dialing while automatic reconnection
// is still in progress.
func (r *Reconnector) Reconnect() error {
	_, err, _ := r.sf.Do("reconnect", func() (any, error) {
		if !r.Waiting() {
			return nil, nil
		}
		reply := make(chan error, 1)
		select {
		case r.manual <- reply:
		case <-r.done:
			return nil, ErrStopped
		}
		return nil, <-reply
	})
	return err
}

// connected records an open connection. A reconnect that could not resume
// may have missed events, so it is surfaced as a gap.
func (r *Reconnector) connected(ctx context.Context, reconnected bool) {
	if r.errs != nil {
		r.errs.DismissMatching(ferrors.CodeStreamExhausted, component)
	}
	r.setStatus(Connected)
	if !reconnected {
		return
	}
	token := r.LastEventID()
	if r.resumable() && token != "" {
		r.log.Info("stream resumed", "last_event_id", token)
		return
	}
	gap := ferrors.NewBuilder(ferrors.CodeStreamGap).
		WithOrigin(component, "resume").
		WithDetail("last_event_id", token).
		WithDetail("resume_supported", r.transport.SupportsResume()).
		Build()
	if r.reporter == nil {
		r.log.FaultEvent(ctx, "stream may have missed events", gap)
		return
	}
	if _, err := r.reporter.ReportContext(ctx, gap); err != nil {
		r.log.Warn("gap warning not surfaced", "error", err)
	}
}

func (r *Reconnector) logDisconnect(ctx context.Context, cause error) {
	fault := ferrors.NewBuilder(ferrors.CodeStreamDisconnected).
		Wrap(cause).
		WithOrigin(component, "read").
		Build()
	if r.reporter != nil {
		r.reporter.Log(ctx, fault, ferrors.Hints{})
		return
	}
	r.log.FaultEvent(ctx, "stream disconnected", fault)
}

// consume reads frames until the connection fails or goes silent
func (r *Reconnector) consume(ctx context.Context, conn Conn) error {
	for {
		rctx, cancel := context.WithTimeout(ctx, r.heartbeat)
		frame, err := conn.Read(rctx)
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(rctx.Err(), context.DeadlineExceeded)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if timedOut {
				return fmt.Errorf("%w (%s)", errHeartbeatTimeout, r.heartbeat)
			}
			return err
		}

		ev, err := DecodeEvent(frame)
		if err != nil {
			eventsTotal.WithLabelValues("malformed").Inc()
			if r.reporter != nil {
				r.reporter.Log(ctx, err, ferrors.Hints{Kind: ferrors.KindStream, Component: component, Action: "decode"})
			} else {
				r.log.Warn("malformed event skipped", "error", err)
			}
			continue
		}
		if ev.Type == HeartbeatType {
			eventsTotal.WithLabelValues("heartbeat").Inc()
			continue
		}

		if ev.ID != "" {
			r.mu.Lock()
			r.lastEventID = ev.ID
			r.mu.Unlock()
		}
		eventsTotal.WithLabelValues("delivered").Inc()
		r.deliver(ctx, ev)
	}
}

func (r *Reconnector) deliver(ctx context.Context, ev Event) {
	if r.handler == nil {
		return
	}
	err := func() (err error) {
		defer func() {
			if v := recover(); v != nil {
				err = &ferrors.PanicError{Value: v, Component: component}
			}
		}()
		return r.handler(ctx, ev)
	}()
	if err == nil {
		return
	}
	if r.reporter != nil {
		r.reporter.Log(ctx, err, ferrors.Hints{Kind: ferrors.KindStream, Component: component, Action: ev.Type})
		return
	}
	r.log.Warn("event handler failed", "type", ev.Type, "error", err)
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
