// Package errstore holds the faults currently relevant to the user. It
// deduplicates repeats, ranks what is visible and notifies subscribers of
// every change.
package errstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
)

var (
	// ErrClosed is returned by mutations after Close
	ErrClosed = errors.New("error store closed")
	// ErrNotFound is returned for unknown entry IDs
	ErrNotFound = errors.New("entry not found")
)

// Config configures the store
type Config struct {
	// VisibleLimit bounds Visible (default 3)
	VisibleLimit int
	// DedupWindow merges repeats of the same code and origin (default 5s)
	DedupWindow time.Duration
	// HistoryCapacity bounds retained entries, oldest evicted first (default 100)
	HistoryCapacity int
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		VisibleLimit:    3,
		DedupWindow:     5 * time.Second,
		HistoryCapacity: 100,
	}
}

// Entry is one stored fault and its repeat count
type Entry struct {
	ID          string                `json:"id"`
	Context     *ferrors.ErrorContext `json:"context"`
	Count       int                   `json:"count"`
	FirstSeen   time.Time             `json:"first_seen"`
	LastSeen    time.Time             `json:"last_seen"`
	Dismissed   bool                  `json:"dismissed"`
	DismissedAt time.Time             `json:"dismissed_at,omitempty"`
}

// EventType names a store change
type EventType string

const (
	EventAdded     EventType = "added"
	EventUpdated   EventType = "updated"
	EventDismissed EventType = "dismissed"
	EventCleared   EventType = "cleared"
)

// Event describes one store change
type Event struct {
	Type  EventType
	Entry Entry
}

type dedupKey struct {
	code      string
	component string
}

func keyOf(c *ferrors.ErrorContext) dedupKey {
	return dedupKey{code: c.Code, component: c.Origin.Component}
}

// Store is the in-memory fault store
type Store struct {
	cfg Config

	mu      sync.RWMutex
	entries []*Entry
	byID    map[string]*Entry
	active  map[dedupKey]*Entry
	closed  bool

	subMu   sync.RWMutex
	subs    map[int]func(Event)
	nextSub int
}

// New creates a store
func New(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.VisibleLimit <= 0 {
		cfg.VisibleLimit = def.VisibleLimit
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = def.DedupWindow
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = def.HistoryCapacity
	}
	return &Store{
		cfg:    cfg,
		byID:   make(map[string]*Entry),
		active: make(map[dedupKey]*Entry),
		subs:   make(map[int]func(Event)),
	}
}

// Add stores c. A repeat of a non-dismissed entry with the same code and
// origin component within DedupWindow of its last occurrence increments that
// entry instead of creating a new one.
func (s *Store) Add(c *ferrors.ErrorContext) (Entry, error) {
	if c == nil {
		return Entry{}, errors.New("nil error context")
	}
	if err := c.Validate(); err != nil {
		return Entry{}, err
	}
	c = c.Clone()
	ts := c.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Entry{}, ErrClosed
	}

	var events []Event
	key := keyOf(c)
	if existing, ok := s.active[key]; ok && !existing.Dismissed && ts.Sub(existing.LastSeen) < s.cfg.DedupWindow {
		existing.Count++
		// A late, out-of-order repeat counts but never moves the entry back in time.
		if ts.After(existing.LastSeen) {
			existing.LastSeen = ts
			existing.Context = c
		}
		events = append(events, Event{Type: EventUpdated, Entry: *existing})
		out := *existing
		s.mu.Unlock()
		s.publish(events)
		return out, nil
	}

	e := &Entry{
		ID:        uuid.NewString(),
		Context:   c,
		Count:     1,
		FirstSeen: ts,
		LastSeen:  ts,
	}
	s.entries = append(s.entries, e)
	s.byID[e.ID] = e
	s.active[key] = e
	events = append(events, Event{Type: EventAdded, Entry: *e})

	for len(s.entries) > s.cfg.HistoryCapacity {
		evicted := s.entries[0]
		s.entries = s.entries[1:]
		delete(s.byID, evicted.ID)
		if s.active[keyOf(evicted.Context)] == evicted {
			delete(s.active, keyOf(evicted.Context))
		}
		if !evicted.Dismissed {
			events = append(events, Event{Type: EventDismissed, Entry: *evicted})
		}
	}

	out := *e
	s.mu.Unlock()
	s.publish(events)
	return out, nil
}

// Get returns the entry with id
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Dismiss hides the entry with id. A later repeat starts a new entry.
func (s *Store) Dismiss(id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	e, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if e.Dismissed {
		s.mu.Unlock()
		return nil
	}
	s.dismissLocked(e)
	ev := Event{Type: EventDismissed, Entry: *e}
	s.mu.Unlock()

	s.publish([]Event{ev})
	return nil
}

// DismissMatching dismisses every visible entry with code raised by component.
// An empty component matches any origin. It returns the number dismissed.
func (s *Store) DismissMatching(code, component string) int {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	var events []Event
	for _, e := range s.entries {
		if e.Dismissed || e.Context.Code != code {
			continue
		}
		if component != "" && e.Context.Origin.Component != component {
			continue
		}
		s.dismissLocked(e)
		events = append(events, Event{Type: EventDismissed, Entry: *e})
	}
	s.mu.Unlock()

	s.publish(events)
	return len(events)
}

func (s *Store) dismissLocked(e *Entry) {
	e.Dismissed = true
	e.DismissedAt = time.Now()
	if key := keyOf(e.Context); s.active[key] == e {
		delete(s.active, key)
	}
}

// ClearAll removes every entry
func (s *Store) ClearAll() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.entries = nil
	s.byID = make(map[string]*Entry)
	s.active = make(map[dedupKey]*Entry)
	s.mu.Unlock()

	s.publish([]Event{{Type: EventCleared}})
}

// Visible returns at most VisibleLimit non-dismissed entries, most severe
// first and most recent first within a severity.
func (s *Store) Visible() []Entry {
	active := s.Active()
	if len(active) > s.cfg.VisibleLimit {
		active = active[:s.cfg.VisibleLimit]
	}
	return active
}

// Active returns every non-dismissed entry in visible order
func (s *Store) Active() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.Dismissed {
			out = append(out, *e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	return out
}

// Less orders entries for display: higher severity first, then most recent.
func Less(a, b Entry) bool {
	ra, rb := a.Context.Severity.Rank(), b.Context.Severity.Rank()
	if ra != rb {
		return ra > rb
	}
	if !a.LastSeen.Equal(b.LastSeen) {
		return a.LastSeen.After(b.LastSeen)
	}
	return a.Context.Seq > b.Context.Seq
}

// History returns all retained entries, oldest first
func (s *Store) History() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = *e
	}
	return out
}

// Len returns the number of retained entries
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Subscribe registers fn for store events and returns a function that removes it.
// Events are delivered synchronously, outside the store lock, in the order
// the mutating goroutine produced them.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	s.subMu.RLock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), len(ids))
	for i, id := range ids {
		fns[i] = s.subs[id]
	}
	s.subMu.RUnlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// Close tears the store down: entries and subscribers are dropped and
// further mutations fail with ErrClosed.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.entries = nil
	s.byID = make(map[string]*Entry)
	s.active = make(map[dedupKey]*Entry)
	s.mu.Unlock()

	s.subMu.Lock()
	s.subs = make(map[int]func(Event))
	s.subMu.Unlock()
}

type ctxKey struct{}

// NewContext returns a context carrying s
func NewContext(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the store carried by ctx, if any
func FromContext(ctx context.Context) (*Store, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Store)
	return s, ok && s != nil
}
