// Package tui hosts guarded regions and the fault surfaces in a terminal UI.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/armorclaw/faultline/pkg/boundary"
	"github.com/armorclaw/faultline/pkg/display"
	ferrors "github.com/armorclaw/faultline/pkg/errors"
	"github.com/armorclaw/faultline/pkg/offline"
	"github.com/armorclaw/faultline/pkg/stream"
)

// DefaultTickInterval drives toast expiry
const DefaultTickInterval = 250 * time.Millisecond

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("214")).
			Padding(0, 1)

	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	fieldStyle = lipgloss.NewStyle().Bold(true)

	statusColors = map[stream.Status]lipgloss.Color{
		stream.Connected:    lipgloss.Color("42"),
		stream.Reconnecting: lipgloss.Color("214"),
		stream.Disconnected: lipgloss.Color("196"),
	}
)

var sanitizer = ferrors.NewSanitizer()

// Config wires the model to the fault surfaces. Offline and Stream are optional.
type Config struct {
	Title        string
	Regions      *boundary.Group
	Toasts       *display.Toasts
	Modal        *display.Modal
	Inline       *display.Inline
	Offline      *offline.Queue
	Stream       *stream.Reconnector
	TickInterval time.Duration
}

type (
	tickMsg    time.Time
	changedMsg struct{}
	actionMsg  struct {
		what string
		err  error
	}
)

// Model is the bubbletea model for the terminal host
type Model struct {
	cfg     Config
	ctx     context.Context
	keys    keyMap
	help    help.Model
	spinner spinner.Model
	changes chan struct{}

	focusID  string
	notice   string
	width    int
	height   int
	quitting bool
}

// New creates the model. ctx bounds the actions it runs.
func New(ctx context.Context, cfg Config) Model {
	if cfg.Regions == nil {
		cfg.Regions = boundary.NewGroup()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Title == "" {
		cfg.Title = "faultline"
	}

	m := Model{
		cfg:     cfg,
		ctx:     ctx,
		keys:    defaultKeyMap(),
		help:    help.New(),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		changes: make(chan struct{}, 1),
	}

	notify := m.notifier()
	if cfg.Toasts != nil {
		cfg.Toasts.OnChange(notify)
	}
	if cfg.Stream != nil {
		cfg.Stream.OnStatus(func(stream.Status) { notify() })
	}
	if cfg.Offline != nil {
		cfg.Offline.OnState(func(offline.State) { notify() })
	}
	return m
}

// notifier wakes the model without ever blocking the caller
func (m Model) notifier() func() {
	ch := m.changes
	return func() {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick(m.cfg.TickInterval), waitForChange(m.changes))
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return changedMsg{}
	}
}

// run performs fn off the update loop and reports its outcome
func (m Model) run(what string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{what: what, err: fn()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		if m.cfg.Toasts != nil {
			m.cfg.Toasts.Tick()
		}
		m.syncFocus()
		return m, tick(m.cfg.TickInterval)

	case changedMsg:
		m.syncFocus()
		return m, waitForChange(m.changes)

	case actionMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s failed: %s", msg.what, sanitizer.ScrubString(msg.err.Error()))
		} else {
			m.notice = msg.what + " done"
		}
		m.syncFocus()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.ForceQuit) {
		m.quitting = true
		return m, tea.Quit
	}

	// While the modal is open only its actions are handled.
	if m.cfg.Modal != nil && m.cfg.Modal.Blocking() {
		action, ok := m.keys.modalAction(msg)
		if !ok || !hasAction(m.cfg.Modal.Actions(), action) {
			return m, nil
		}
		modal, ctx := m.cfg.Modal, m.ctx
		return m, m.run(string(action), func() error { return modal.Choose(ctx, action) })
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Focus):
		m.cycleFocus()

	case key.Matches(msg, m.keys.Blur):
		m.setFocus("")

	case key.Matches(msg, m.keys.Retry):
		if id := m.focusID; id != "" && m.cfg.Toasts != nil {
			toasts, ctx := m.cfg.Toasts, m.ctx
			return m, m.run("retry", func() error { return toasts.Trigger(ctx, id) })
		}
		if b := m.faulted(); b != nil {
			return m, m.run("retry "+b.Name(), b.Retry)
		}

	case key.Matches(msg, m.keys.Dismiss):
		if id := m.focusID; id != "" && m.cfg.Toasts != nil {
			m.setFocus("")
			if err := m.cfg.Toasts.Dismiss(id); err != nil {
				m.notice = "dismiss failed: " + err.Error()
			}
		}

	case key.Matches(msg, m.keys.Reset):
		if b := m.faulted(); b != nil {
			b.Reset()
			m.notice = "reset " + b.Name()
		}

	case key.Matches(msg, m.keys.Home):
		if b := m.faulted(); b != nil {
			b.GoHome()
			m.notice = "home"
		}

	case key.Matches(msg, m.keys.Reconnect):
		if m.cfg.Stream != nil {
			return m, m.run("reconnect", m.cfg.Stream.Reconnect)
		}
	}
	return m, nil
}

func hasAction(actions []ferrors.Action, a ferrors.Action) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

// faulted returns the first region showing a fallback
func (m Model) faulted() *boundary.Boundary {
	if f := m.cfg.Regions.Faulted(); len(f) > 0 {
		return f[0]
	}
	return nil
}

func (m Model) visibleToasts() []display.Toast {
	if m.cfg.Toasts == nil {
		return nil
	}
	return m.cfg.Toasts.Visible()
}

// setFocus moves keyboard focus to the toast id. A focused toast counts as
// hovered, so its timer is paused.
func (m *Model) setFocus(id string) {
	if m.focusID == id {
		return
	}
	if m.cfg.Toasts != nil {
		if m.focusID != "" {
			m.cfg.Toasts.Hover(m.focusID, false)
		}
		if id != "" {
			m.cfg.Toasts.Hover(id, true)
		}
	}
	m.focusID = id
}

// cycleFocus moves focus to the next visible toast, wrapping to none
func (m *Model) cycleFocus() {
	toasts := m.visibleToasts()
	if len(toasts) == 0 {
		m.setFocus("")
		return
	}
	next := 0
	for i, t := range toasts {
		if t.ID() == m.focusID {
			next = i + 1
			break
		}
	}
	if next >= len(toasts) {
		m.setFocus("")
		return
	}
	m.setFocus(toasts[next].ID())
}

// syncFocus drops focus from a toast that is no longer displayed
func (m *Model) syncFocus() {
	if m.focusID == "" {
		return
	}
	for _, t := range m.visibleToasts() {
		if t.ID() == m.focusID {
			return
		}
	}
	m.focusID = ""
}

func (m Model) focusIndex(toasts []display.Toast) int {
	for i, t := range toasts {
		if t.ID() == m.focusID {
			return i
		}
	}
	return -1
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.cfg.Modal != nil {
		if e, ok := m.cfg.Modal.Current(); ok {
			box := display.RenderModal(e, m.cfg.Modal.Actions())
			if m.width > 0 && m.height > 0 {
				return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
			}
			return box
		}
	}

	sections := []string{m.statusLine()}
	if banner, ok := m.banner(); ok {
		sections = append(sections, bannerStyle.Render(banner))
	}
	sections = append(sections, "", m.cfg.Regions.View(m.ctx))
	if fields := m.inlineView(); fields != "" {
		sections = append(sections, "", fields)
	}
	if toasts := m.visibleToasts(); len(toasts) > 0 {
		sections = append(sections, "", display.RenderToasts(toasts, m.spinner.View(), m.focusIndex(toasts)))
	}
	if m.notice != "" {
		sections = append(sections, noticeStyle.Render(m.notice))
	}
	sections = append(sections, "", m.help.View(m.keys))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) statusLine() string {
	parts := []string{titleStyle.Render(m.cfg.Title)}
	if m.cfg.Stream != nil {
		st := m.cfg.Stream.Status()
		label := "stream: " + string(st)
		if st == stream.Reconnecting && m.cfg.Stream.Attempt() > 0 {
			label = fmt.Sprintf("%s (attempt %d)", label, m.cfg.Stream.Attempt())
		}
		parts = append(parts, lipgloss.NewStyle().Foreground(statusColors[st]).Render(label))
	}
	if m.cfg.Offline != nil {
		parts = append(parts, "network: "+string(m.cfg.Offline.State()))
	}
	return strings.Join(parts, "  ")
}

func (m Model) banner() (string, bool) {
	if m.cfg.Offline == nil {
		return "", false
	}
	return m.cfg.Offline.Banner(m.ctx)
}

func (m Model) inlineView() string {
	if m.cfg.Inline == nil {
		return ""
	}
	fields := m.cfg.Inline.Fields()
	if len(fields) == 0 {
		return ""
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, len(names))
	for i, name := range names {
		lines[i] = fieldStyle.Render(name) + " " + display.RenderInline(fields[name])
	}
	return strings.Join(lines, "\n")
}

// Run starts the program and blocks until the user quits or ctx is done
func Run(ctx context.Context, cfg Config, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)
	_, err := tea.NewProgram(New(ctx, cfg), opts...).Run()
	return err
}
