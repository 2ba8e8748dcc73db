package boundary

import (
	"strings"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
)

// Capture classifies a value recovered from a panicking view. It is pure:
// the caller supplies the recovered value and the stack.
func Capture(name string, recovered any, stack string) *ferrors.ErrorContext {
	pe, ok := recovered.(*ferrors.PanicError)
	if !ok {
		pe = &ferrors.PanicError{Value: recovered, Stack: stack}
	}
	if pe.Stack == "" {
		pe.Stack = stack
	}
	pe.Component = name

	c := ferrors.Classify(pe, ferrors.Hints{Kind: ferrors.KindRender, Component: name})
	if fn := componentFromStack(pe.Stack); fn != "" {
		c.Details = withDetail(c.Details, "failing_component", fn)
	}
	return c
}

func captureError(name string, err error) *ferrors.ErrorContext {
	return ferrors.NewBuilder(ferrors.CodeRenderError).
		Wrap(err).
		WithOrigin(name, "").
		Build()
}

func withDetail(m map[string]any, k string, v any) map[string]any {
	if m == nil {
		m = make(map[string]any)
	}
	m[k] = v
	return m
}

// componentFromStack returns the function that raised the panic, taken from
// the first frame after runtime.gopanic in a debug.Stack trace.
func componentFromStack(stack string) string {
	lines := strings.Split(stack, "\n")
	afterPanic := false
	for _, line := range lines {
		if strings.HasPrefix(line, "\t") || line == "" || strings.HasPrefix(line, "goroutine ") {
			continue
		}
		fn := line
		if i := strings.LastIndex(fn, "("); i > 0 && strings.HasSuffix(fn, ")") {
			fn = fn[:i]
		}
		if strings.HasPrefix(fn, "panic") || strings.HasPrefix(fn, "runtime.") {
			afterPanic = true
			continue
		}
		if !afterPanic || isInternalFrame(fn) {
			continue
		}
		return shortFuncName(fn)
	}
	return ""
}

func isInternalFrame(fn string) bool {
	return strings.Contains(fn, "faultline/pkg/boundary.(*Boundary)") ||
		strings.Contains(fn, "faultline/pkg/boundary.(*Group)") ||
		strings.HasPrefix(fn, "runtime/debug.")
}

// shortFuncName trims the import path: "example.com/app/ui.(*Cart).View" -> "ui.(*Cart).View".
func shortFuncName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	return fn
}
