package faults

import (
	"sync"
	"time"

	"github.com/armorclaw/faultline/internal/ring"
	ferrors "github.com/armorclaw/faultline/pkg/errors"
)

const defaultCrumbsPerComponent = 10

// Crumb is one recorded user action
type Crumb struct {
	Component string    `json:"component"`
	Action    string    `json:"action"`
	At        time.Time `json:"at"`
}

// Breadcrumbs keeps the recent user actions of each component in a bounded ring
type Breadcrumbs struct {
	size int

	mu         sync.RWMutex
	components map[string]*ring.Buffer[Crumb]
}

// NewBreadcrumbs creates a tracker keeping size actions per component
func NewBreadcrumbs(size int) *Breadcrumbs {
	if size <= 0 {
		size = defaultCrumbsPerComponent
	}
	return &Breadcrumbs{
		size:       size,
		components: make(map[string]*ring.Buffer[Crumb]),
	}
}

// Track records action for component
func (b *Breadcrumbs) Track(component, action string) {
	if component == "" || action == "" {
		return
	}
	b.buffer(component).Add(Crumb{Component: component, Action: action, At: time.Now()})
}

func (b *Breadcrumbs) buffer(component string) *ring.Buffer[Crumb] {
	b.mu.RLock()
	buf, ok := b.components[component]
	b.mu.RUnlock()
	if ok {
		return buf
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if buf, ok = b.components[component]; ok {
		return buf
	}
	buf = ring.New[Crumb](b.size)
	b.components[component] = buf
	return buf
}

// Latest returns the most recent action recorded for component
func (b *Breadcrumbs) Latest(component string) (Crumb, bool) {
	b.mu.RLock()
	buf, ok := b.components[component]
	b.mu.RUnlock()
	if !ok {
		return Crumb{}, false
	}
	return buf.Newest()
}

// Recent returns up to n actions for component, oldest first
func (b *Breadcrumbs) Recent(component string, n int) []Crumb {
	b.mu.RLock()
	buf, ok := b.components[component]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	return buf.Last(n)
}

// Components returns the names of all tracked components
func (b *Breadcrumbs) Components() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.components))
	for name := range b.components {
		names = append(names, name)
	}
	return names
}

// Attach fills c's origin action from the latest breadcrumb of its component
// when the reporter did not name one.
func (b *Breadcrumbs) Attach(c *ferrors.ErrorContext) {
	if c == nil || c.Origin.Component == "" || c.Origin.Action != "" {
		return
	}
	if crumb, ok := b.Latest(c.Origin.Component); ok {
		c.Origin.Action = crumb.Action
	}
}
