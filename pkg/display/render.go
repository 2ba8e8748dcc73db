package display

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
	"github.com/armorclaw/faultline/pkg/errstore"
)

var sanitizer = ferrors.NewSanitizer()

// scrub keeps secrets out of anything shown to the user
func scrub(s string) string {
	return sanitizer.ScrubString(s)
}

var severityColors = map[ferrors.Severity]lipgloss.Color{
	ferrors.SeverityInfo:     lipgloss.Color("39"),
	ferrors.SeverityWarning:  lipgloss.Color("214"),
	ferrors.SeverityError:    lipgloss.Color("203"),
	ferrors.SeverityCritical: lipgloss.Color("196"),
}

var (
	toastStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Width(48)

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(severityColors[ferrors.SeverityCritical]).
			Padding(1, 2).
			Width(60)

	modalTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(severityColors[ferrors.SeverityCritical])

	inlineStyle = lipgloss.NewStyle().
			Foreground(severityColors[ferrors.SeverityError]).
			Italic(true)

	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

var actionLabels = map[ferrors.Action]string{
	ferrors.ActionRetry:        "[r] Retry",
	ferrors.ActionReset:        "[R] Reset",
	ferrors.ActionNavigateHome: "[h] Home",
	ferrors.ActionSkip:         "[s] Skip",
	ferrors.ActionDismiss:      "[x] Dismiss",
	ferrors.ActionReconnect:    "[c] Reconnect",
}

// ActionHints renders key hints for actions
func ActionHints(actions []ferrors.Action) string {
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		if label, ok := actionLabels[a]; ok {
			parts = append(parts, label)
		}
	}
	return strings.Join(parts, "  ")
}

func countSuffix(e errstore.Entry) string {
	if e.Count > 1 {
		return fmt.Sprintf(" (x%d)", e.Count)
	}
	return ""
}

// RenderToast renders one toast. spinner is shown while its action runs;
// focused marks the toast keyboard actions apply to.
func RenderToast(t Toast, spinner string, focused bool) string {
	c := t.Entry.Context
	style := toastStyle.BorderForeground(severityColors[c.Severity])
	if focused {
		style = style.BorderStyle(lipgloss.ThickBorder())
	}

	var sb strings.Builder
	sb.WriteString(scrub(c.Message))
	sb.WriteString(countSuffix(t.Entry))
	sb.WriteString("\n")
	switch {
	case t.Loading:
		sb.WriteString(spinner + " working...")
	case focused:
		actions := []ferrors.Action{ferrors.ActionDismiss}
		if _, ok := c.Callback(ferrors.ActionRetry); ok {
			actions = append([]ferrors.Action{ferrors.ActionRetry}, actions...)
		}
		sb.WriteString(mutedStyle.Render(ActionHints(actions)))
	default:
		sb.WriteString(mutedStyle.Render(c.Code))
	}
	return style.Render(sb.String())
}

// RenderToasts stacks toasts vertically
func RenderToasts(toasts []Toast, spinner string, focus int) string {
	parts := make([]string, len(toasts))
	for i, t := range toasts {
		parts[i] = RenderToast(t, spinner, i == focus)
	}
	return lipgloss.JoinVertical(lipgloss.Right, parts...)
}

// RenderModal renders a critical fault with its actions
func RenderModal(e errstore.Entry, actions []ferrors.Action) string {
	c := e.Context
	var sb strings.Builder
	sb.WriteString(modalTitleStyle.Render("Something needs your attention"))
	sb.WriteString("\n\n")
	sb.WriteString(scrub(c.Message))
	sb.WriteString(countSuffix(e))
	sb.WriteString("\n\n")
	sb.WriteString(mutedStyle.Render(c.Code))
	sb.WriteString("\n")
	sb.WriteString(ActionHints(actions))
	return modalStyle.Render(sb.String())
}

// RenderInline renders a field message
func RenderInline(msg string) string {
	if msg == "" {
		return ""
	}
	return inlineStyle.Render("! " + scrub(msg))
}
