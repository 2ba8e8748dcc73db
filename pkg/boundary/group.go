package boundary

import (
	"context"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Region is one boundary and the view it guards
type Region struct {
	Boundary *Boundary
	View     View
}

// Rendered is the output of one region
type Rendered struct {
	Name    string
	Content string
	Healthy bool
}

// Group renders sibling regions independently: a fault in one never stops
// the others from rendering.
type Group struct {
	mu      sync.RWMutex
	regions []Region
}

// NewGroup creates an empty group
func NewGroup() *Group {
	return &Group{}
}

// Add appends a region. Regions render in the order they were added.
func (g *Group) Add(b *Boundary, view View) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.regions = append(g.regions, Region{Boundary: b, View: view})
}

// Get returns the boundary named name
func (g *Group) Get(name string) (*Boundary, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, r := range g.regions {
		if r.Boundary.Name() == name {
			return r.Boundary, true
		}
	}
	return nil, false
}

// Boundaries returns the group's boundaries in order
func (g *Group) Boundaries() []*Boundary {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Boundary, len(g.regions))
	for i, r := range g.regions {
		out[i] = r.Boundary
	}
	return out
}

// Render renders every region
func (g *Group) Render(ctx context.Context) []Rendered {
	g.mu.RLock()
	regions := append([]Region(nil), g.regions...)
	g.mu.RUnlock()

	out := make([]Rendered, len(regions))
	for i, r := range regions {
		content, healthy := r.Boundary.Render(ctx, r.View)
		out[i] = Rendered{Name: r.Boundary.Name(), Content: content, Healthy: healthy}
	}
	return out
}

// View renders every region and stacks them vertically
func (g *Group) View(ctx context.Context) string {
	rendered := g.Render(ctx)
	parts := make([]string, len(rendered))
	for i, r := range rendered {
		parts[i] = r.Content
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// Faulted returns the boundaries currently showing a fallback
func (g *Group) Faulted() []*Boundary {
	var out []*Boundary
	for _, b := range g.Boundaries() {
		if !b.Healthy() {
			out = append(out, b)
		}
	}
	return out
}
