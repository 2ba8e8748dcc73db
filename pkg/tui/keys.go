package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
)

type keyMap struct {
	Retry     key.Binding
	Dismiss   key.Binding
	Reset     key.Binding
	Home      key.Binding
	Skip      key.Binding
	Reconnect key.Binding
	Focus     key.Binding
	Blur      key.Binding
	Quit      key.Binding
	ForceQuit key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Retry:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry")),
		Dismiss:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "dismiss")),
		Reset:     key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "reset")),
		Home:      key.NewBinding(key.WithKeys("h"), key.WithHelp("h", "home")),
		Skip:      key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "skip")),
		Reconnect: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "reconnect")),
		Focus:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "focus toast")),
		Blur:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "unfocus")),
		Quit:      key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "quit")),
		ForceQuit: key.NewBinding(key.WithKeys("ctrl+c")),
	}
}

// ShortHelp implements help.KeyMap
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Focus, k.Retry, k.Dismiss, k.Reset, k.Home, k.Reconnect, k.Quit}
}

// FullHelp implements help.KeyMap
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Focus, k.Blur, k.Retry, k.Dismiss},
		{k.Reset, k.Home, k.Skip, k.Reconnect},
		{k.Quit},
	}
}

// modalAction maps a key to the fault action it selects in the modal
func (k keyMap) modalAction(msg tea.KeyMsg) (ferrors.Action, bool) {
	switch {
	case key.Matches(msg, k.Retry):
		return ferrors.ActionRetry, true
	case key.Matches(msg, k.Dismiss):
		return ferrors.ActionDismiss, true
	case key.Matches(msg, k.Reset):
		return ferrors.ActionReset, true
	case key.Matches(msg, k.Home):
		return ferrors.ActionNavigateHome, true
	case key.Matches(msg, k.Skip):
		return ferrors.ActionSkip, true
	case key.Matches(msg, k.Reconnect):
		return ferrors.ActionReconnect, true
	}
	return "", false
}
