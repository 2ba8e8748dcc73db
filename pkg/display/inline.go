package display

import (
	"fmt"
	"sync"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
	"github.com/armorclaw/faultline/pkg/errstore"
)

// Inline shows validation faults next to the field they concern. A message
// clears as soon as the field's value changes.
type Inline struct {
	store *errstore.Store

	mu     sync.Mutex
	values map[string]string
}

// NewInline creates an inline surface over store
func NewInline(store *errstore.Store) *Inline {
	return &Inline{
		store:  store,
		values: make(map[string]string),
	}
}

func fieldOf(e errstore.Entry) string {
	if e.Context == nil || e.Context.Kind != ferrors.KindValidation {
		return ""
	}
	v, ok := e.Context.Details["field"]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Message returns the newest validation message for field
func (i *Inline) Message(field string) (string, bool) {
	var (
		best  errstore.Entry
		found bool
	)
	for _, e := range i.store.Visible() {
		if fieldOf(e) != field {
			continue
		}
		if !found || e.LastSeen.After(best.LastSeen) {
			best, found = e, true
		}
	}
	if !found {
		return "", false
	}
	return scrub(best.Context.Message), true
}

// Fields returns the message shown for every field that has one
func (i *Inline) Fields() map[string]string {
	out := make(map[string]string)
	for _, e := range i.store.Visible() {
		if f := fieldOf(e); f != "" {
			if _, seen := out[f]; !seen {
				out[f] = scrub(e.Context.Message)
			}
		}
	}
	return out
}

// Observe records a field's current value without clearing anything
func (i *Inline) Observe(field, value string) {
	i.mu.Lock()
	i.values[field] = value
	i.mu.Unlock()
}

// Changed records a new value for field. When it differs from the last
// observed value every message for the field is dismissed. It returns the
// number of messages cleared.
func (i *Inline) Changed(field, value string) int {
	i.mu.Lock()
	prev, known := i.values[field]
	i.values[field] = value
	i.mu.Unlock()

	if known && prev == value {
		return 0
	}

	cleared := 0
	for _, e := range i.store.Active() {
		if fieldOf(e) == field {
			if err := i.store.Dismiss(e.ID); err == nil {
				cleared++
			}
		}
	}
	return cleared
}
