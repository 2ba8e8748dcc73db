package display

import (
	"context"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
	"github.com/armorclaw/faultline/pkg/errstore"
)

// Modal presents the most important critical fault and blocks the rest of
// the screen until the user picks an action.
type Modal struct {
	store *errstore.Store
}

// NewModal creates a modal over store
func NewModal(store *errstore.Store) *Modal {
	return &Modal{store: store}
}

// Current returns the critical entry the modal shows, if any
func (m *Modal) Current() (errstore.Entry, bool) {
	// Visible is ordered by severity, so only the first entry can be critical.
	visible := m.store.Visible()
	if len(visible) > 0 && visible[0].Context.Severity == ferrors.SeverityCritical {
		return visible[0], true
	}
	return errstore.Entry{}, false
}

// Blocking reports whether the modal is open
func (m *Modal) Blocking() bool {
	_, ok := m.Current()
	return ok
}

// Actions returns the actions the current fault offers
func (m *Modal) Actions() []ferrors.Action {
	e, ok := m.Current()
	if !ok {
		return nil
	}
	actions := append([]ferrors.Action(nil), e.Context.SuggestedActions...)
	if !e.Context.HasAction(ferrors.ActionDismiss) {
		actions = append(actions, ferrors.ActionDismiss)
	}
	return actions
}

// Choose runs action for the current fault. Dismiss always closes the modal;
// other actions close it only when their handler succeeds.
func (m *Modal) Choose(ctx context.Context, action ferrors.Action) error {
	e, ok := m.Current()
	if !ok {
		return ErrNotShown
	}
	if action == ferrors.ActionDismiss {
		return m.store.Dismiss(e.ID)
	}

	cb, ok := e.Context.Callback(action)
	if !ok {
		return ErrActionUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := runCallback(cb); err != nil {
		return err
	}
	return m.store.Dismiss(e.ID)
}
