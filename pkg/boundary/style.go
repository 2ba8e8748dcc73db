package boundary

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
)

var (
	fallbackStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("203")).
			Padding(0, 1)

	fallbackTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("203"))

	fallbackHelpStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("241"))
)

var actionKeys = map[ferrors.Action]string{
	ferrors.ActionRetry:        "[r] Try again",
	ferrors.ActionReset:        "[R] Reset",
	ferrors.ActionNavigateHome: "[h] Go home",
}

// RenderFallback is the default fallback view
func RenderFallback(fb Fallback) string {
	var sb strings.Builder
	sb.WriteString(fallbackTitleStyle.Render(fmt.Sprintf("%s could not be displayed", fb.Name)))
	sb.WriteString("\n")
	if fb.Fault != nil {
		sb.WriteString(fb.Fault.Message)
		sb.WriteString("\n")
	}

	hints := make([]string, 0, len(fb.Actions))
	for _, a := range fb.Actions {
		if k, ok := actionKeys[a]; ok {
			hints = append(hints, k)
		}
	}
	sb.WriteString(fallbackHelpStyle.Render(strings.Join(hints, "  ")))

	if details := devDetails(fb.Fault); details != "" {
		sb.WriteString("\n")
		sb.WriteString(details)
	}
	return fallbackStyle.Render(sb.String())
}
