// Package display projects the error store onto three surfaces: transient
// toasts, a blocking modal for critical faults and inline field messages.
// Surfaces only read the store and act on it through its own operations.
package display

import (
	"context"
	"errors"
	"sync"
	"time"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
	"github.com/armorclaw/faultline/pkg/errstore"
	"github.com/armorclaw/faultline/pkg/faults"
	"github.com/armorclaw/faultline/pkg/logger"
)

var (
	// ErrNotShown is returned for IDs that are not currently displayed
	ErrNotShown = errors.New("not displayed")
	// ErrActionUnavailable is returned when a fault offers no handler for an action
	ErrActionUnavailable = errors.New("action unavailable")
	// ErrBusy is returned when an action is already running for a toast
	ErrBusy = errors.New("action already running")
)

const (
	DefaultToastTimeout = 5 * time.Second
	DefaultMaxToasts    = 3
)

// Toast is one displayed transient notification
type Toast struct {
	Entry     errstore.Entry
	Hovered   bool
	Loading   bool
	Remaining time.Duration
}

// ID returns the store entry ID
func (t Toast) ID() string { return t.Entry.ID }

type toastTimer struct {
	remaining time.Duration
	resumedAt time.Time
	hovered   bool
	loading   bool
}

func (tt *toastTimer) left(now time.Time) time.Duration {
	if tt.hovered || tt.loading {
		return tt.remaining
	}
	return tt.remaining - now.Sub(tt.resumedAt)
}

// Toasts shows non-critical, non-validation faults as auto-dismissing notifications
type Toasts struct {
	store    *errstore.Store
	reporter faults.Reporter
	timeout  time.Duration
	max      int
	now      func() time.Time
	log      *logger.Logger

	mu       sync.Mutex
	timers   map[string]*toastTimer
	onChange func()

	unsubscribe func()
}

// ToastOption configures Toasts
type ToastOption func(*Toasts)

// WithTimeout sets the auto-dismiss delay (default 5s)
func WithTimeout(d time.Duration) ToastOption {
	return func(t *Toasts) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithMaxToasts sets how many toasts show at once (default 3)
func WithMaxToasts(n int) ToastOption {
	return func(t *Toasts) {
		if n > 0 {
			t.max = n
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) ToastOption {
	return func(t *Toasts) {
		if now != nil {
			t.now = now
		}
	}
}

// WithToastLogger sets the logger
func WithToastLogger(l *logger.Logger) ToastOption {
	return func(t *Toasts) { t.log = l }
}

// NewToasts subscribes to store. reporter receives repeat failures of toast
// actions and may be nil.
func NewToasts(store *errstore.Store, reporter faults.Reporter, opts ...ToastOption) *Toasts {
	t := &Toasts{
		store:    store,
		reporter: reporter,
		timeout:  DefaultToastTimeout,
		max:      DefaultMaxToasts,
		now:      time.Now,
		timers:   make(map[string]*toastTimer),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.Global()
	}
	t.log = t.log.WithComponent("display")
	t.unsubscribe = store.Subscribe(t.onEvent)
	return t
}

// OnChange registers fn to run whenever the displayed set may have changed
func (t *Toasts) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *Toasts) onEvent(ev errstore.Event) {
	t.mu.Lock()
	switch ev.Type {
	case errstore.EventUpdated:
		// A repeat occurrence shows the toast for a full period again.
		if tt, ok := t.timers[ev.Entry.ID]; ok {
			tt.remaining = t.timeout
			tt.resumedAt = t.now()
		}
	case errstore.EventDismissed:
		delete(t.timers, ev.Entry.ID)
	case errstore.EventCleared:
		t.timers = make(map[string]*toastTimer)
	}
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Eligible reports whether an entry belongs on the toast surface
func Eligible(e errstore.Entry) bool {
	c := e.Context
	return c != nil && c.Severity != ferrors.SeverityCritical && c.Kind != ferrors.KindValidation
}

// Visible returns the toasts currently displayed, most severe first. Toasts
// are drawn from the store's visible set, so they share its cap with the
// modal and inline surfaces.
func (t *Toasts) Visible() []Toast {
	var shown []errstore.Entry
	for _, e := range t.store.Visible() {
		if !Eligible(e) {
			continue
		}
		shown = append(shown, e)
		if len(shown) == t.max {
			break
		}
	}

	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	keep := make(map[string]bool, len(shown))
	out := make([]Toast, 0, len(shown))
	for _, e := range shown {
		tt, ok := t.timers[e.ID]
		if !ok {
			tt = &toastTimer{remaining: t.timeout, resumedAt: now}
			t.timers[e.ID] = tt
		}
		keep[e.ID] = true
		out = append(out, Toast{
			Entry:     e,
			Hovered:   tt.hovered,
			Loading:   tt.loading,
			Remaining: max(tt.left(now), 0),
		})
	}
	for id := range t.timers {
		if !keep[id] {
			delete(t.timers, id)
		}
	}
	return out
}

// Tick dismisses every displayed toast whose timer ran out. Hovered and
// loading toasts never expire. It returns the dismissed IDs.
func (t *Toasts) Tick() []string {
	t.Visible()
	now := t.now()

	t.mu.Lock()
	var expired []string
	for id, tt := range t.timers {
		if tt.left(now) <= 0 {
			expired = append(expired, id)
		}
	}
	t.mu.Unlock()

	for _, id := range expired {
		if err := t.store.Dismiss(id); err != nil && !errors.Is(err, errstore.ErrNotFound) {
			t.log.Debug("toast dismiss failed", "id", id, "error", err)
		}
	}
	return expired
}

// Hover pauses (hovered) or resumes a toast's dismiss timer
func (t *Toasts) Hover(id string, hovered bool) error {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	tt, ok := t.timers[id]
	if !ok {
		return ErrNotShown
	}
	if tt.hovered == hovered {
		return nil
	}
	if hovered {
		tt.remaining = tt.left(now)
		tt.hovered = true
	} else {
		tt.hovered = false
		tt.resumedAt = now
	}
	return nil
}

// Dismiss removes a toast immediately
func (t *Toasts) Dismiss(id string) error {
	return t.store.Dismiss(id)
}

// Trigger runs the toast's retry callback. The toast shows a loading state
// until the callback returns; success dismisses it and failure reports the
// fault again so the toast re-renders with the new failure.
func (t *Toasts) Trigger(ctx context.Context, id string) error {
	entry, ok := t.store.Get(id)
	if !ok || entry.Dismissed {
		return ErrNotShown
	}
	cb, ok := entry.Context.Callback(ferrors.ActionRetry)
	if !ok {
		return ErrActionUnavailable
	}

	t.mu.Lock()
	tt, shown := t.timers[id]
	if !shown {
		t.mu.Unlock()
		return ErrNotShown
	}
	if tt.loading {
		t.mu.Unlock()
		return ErrBusy
	}
	tt.remaining = tt.left(t.now())
	tt.loading = true
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}

	err := runCallback(cb)

	t.mu.Lock()
	if tt, ok := t.timers[id]; ok {
		tt.loading = false
		tt.remaining = t.timeout
		tt.resumedAt = t.now()
	}
	t.mu.Unlock()

	if err == nil {
		return t.store.Dismiss(id)
	}

	again := ferrors.From(entry.Context).Renew().Wrap(err).Build()
	if t.reporter != nil {
		next, rerr := t.reporter.ReportContext(ctx, again)
		if rerr == nil && next != nil && next.ID != id {
			t.store.Dismiss(id)
		}
	}
	return err
}

// Close stops following the store
func (t *Toasts) Close() {
	if t.unsubscribe != nil {
		t.unsubscribe()
	}
}

// runCallback runs a fault's action handler; a panicking handler counts as a failure.
func runCallback(cb ferrors.Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ferrors.PanicError{Value: r}
		}
	}()
	return cb()
}
