//go:build faultdev

package boundary

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
)

// DevMode reports whether developer details are compiled in
const DevMode = true

var devStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

func devDetails(c *ferrors.ErrorContext) string {
	if c == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "code: %s  origin: %s\n", c.Code, c.Origin)
	if c.Cause != "" {
		fmt.Fprintf(&sb, "cause: %s\n", c.Cause)
	}
	if fn, ok := c.Details["failing_component"]; ok {
		fmt.Fprintf(&sb, "component: %v\n", fn)
	}
	if c.Stack != "" {
		sb.WriteString(c.Stack)
	}
	return devStyle.Render(strings.TrimRight(sb.String(), "\n"))
}
