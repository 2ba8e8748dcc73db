package errors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion tags every serialized ErrorContext.
const SchemaVersion = 1

// Kind is the closed set of fault categories.
type Kind string

const (
	KindNetwork    Kind = "network"
	KindRender     Kind = "render"
	KindValidation Kind = "validation"
	KindState      Kind = "state"
	KindTask       Kind = "task"
	KindStream     Kind = "stream"
)

// Kinds lists every valid Kind.
var Kinds = []Kind{KindNetwork, KindRender, KindValidation, KindState, KindTask, KindStream}

// Valid reports whether k belongs to the closed set.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Severity indicates how serious a fault is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Rank orders severities: info < warning < error < critical. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityError:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// Action is a recovery affordance offered to the user.
type Action string

const (
	ActionRetry        Action = "retry"
	ActionReset        Action = "reset"
	ActionNavigateHome Action = "navigateHome"
	ActionSkip         Action = "skip"
	ActionDismiss      Action = "dismiss"
	ActionReconnect    Action = "reconnect"
)

// Callback performs a recovery action on behalf of the collaborator that raised the fault.
type Callback func() error

// Origin identifies where a fault was raised.
type Origin struct {
	Component string `json:"component,omitempty"`
	Action    string `json:"action,omitempty"`
}

func (o Origin) String() string {
	if o.Action == "" {
		return o.Component
	}
	return o.Component + "/" + o.Action
}

// ErrorContext is the normalized fault record shared by every component.
type ErrorContext struct {
	Version          int                 `json:"v"`
	ID               string              `json:"id"`
	Seq              uint64              `json:"seq"`
	Code             string              `json:"code"`
	Kind             Kind                `json:"kind"`
	Severity         Severity            `json:"severity"`
	Message          string              `json:"message"`
	Timestamp        time.Time           `json:"timestamp"`
	Origin           Origin              `json:"origin"`
	Recoverable      bool                `json:"recoverable"`
	SuggestedActions []Action            `json:"suggested_actions,omitempty"`
	Details          map[string]any      `json:"details,omitempty"`
	Cause            string              `json:"cause,omitempty"`
	Stack            string              `json:"stack,omitempty"`
	RawCause         error               `json:"-"`
	Callbacks        map[Action]Callback `json:"-"`

	recoverySet bool
}

// Error implements the error interface
func (c *ErrorContext) Error() string {
	if c.Cause != "" {
		return fmt.Sprintf("%s: %s: %s", c.Code, c.Message, c.Cause)
	}
	return fmt.Sprintf("%s: %s", c.Code, c.Message)
}

// Unwrap returns the underlying cause
func (c *ErrorContext) Unwrap() error {
	return c.RawCause
}

// Is matches on code so sentinel contexts work with errors.Is.
func (c *ErrorContext) Is(target error) bool {
	t, ok := target.(*ErrorContext)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == c.Code
}

// Validate checks the structural invariants every context must satisfy before it is stored.
func (c *ErrorContext) Validate() error {
	if c.Code == "" {
		return fmt.Errorf("error context: empty code")
	}
	if !c.Kind.Valid() {
		return fmt.Errorf("error context %s: invalid kind %q", c.Code, c.Kind)
	}
	if !c.Severity.Valid() {
		return fmt.Errorf("error context %s: invalid severity %q", c.Code, c.Severity)
	}
	if c.Severity == SeverityCritical && !c.recoverySet {
		return fmt.Errorf("error context %s: critical fault without explicit recoverability", c.Code)
	}
	return nil
}

// RecoverySet reports whether recoverability was decided explicitly.
func (c *ErrorContext) RecoverySet() bool { return c.recoverySet }

// Callback returns the handler registered for action, if any.
func (c *ErrorContext) Callback(a Action) (Callback, bool) {
	if c.Callbacks == nil {
		return nil, false
	}
	cb, ok := c.Callbacks[a]
	return cb, ok && cb != nil
}

// HasAction reports whether a is among the suggested actions.
func (c *ErrorContext) HasAction(a Action) bool {
	for _, s := range c.SuggestedActions {
		if s == a {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no mutable maps or slices with c.
func (c *ErrorContext) Clone() *ErrorContext {
	if c == nil {
		return nil
	}
	out := *c
	if c.SuggestedActions != nil {
		out.SuggestedActions = append([]Action(nil), c.SuggestedActions...)
	}
	if c.Details != nil {
		out.Details = make(map[string]any, len(c.Details))
		for k, v := range c.Details {
			out.Details[k] = v
		}
	}
	if c.Callbacks != nil {
		out.Callbacks = make(map[Action]Callback, len(c.Callbacks))
		for k, v := range c.Callbacks {
			out.Callbacks[k] = v
		}
	}
	return &out
}

// FormatSummary returns a one-line human-readable form.
func (c *ErrorContext) FormatSummary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] %s %s: %s",
		c.Timestamp.Format(time.RFC3339), strings.ToUpper(string(c.Severity)), c.Code, c.Kind, c.Message)
	if origin := c.Origin.String(); origin != "" {
		fmt.Fprintf(&sb, " (at %s)", origin)
	}
	if len(c.SuggestedActions) > 0 {
		names := make([]string, len(c.SuggestedActions))
		for i, a := range c.SuggestedActions {
			names[i] = string(a)
		}
		fmt.Fprintf(&sb, " actions=%s", strings.Join(names, ","))
	}
	return sb.String()
}

// FormatJSON returns the error as indented JSON
func (c *ErrorContext) FormatJSON() (string, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

var seqCounter atomic.Uint64

func nextSeq() uint64 { return seqCounter.Add(1) }

// captureStack renders the current goroutine's call stack, skipping runtime frames.
func captureStack(skip int) string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return ""
	}

	var sb strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&sb, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		}
		if !more || frame.Function == "main.main" {
			break
		}
	}
	return sb.String()
}

// Builder constructs ErrorContext instances with a fluent API
type Builder struct {
	ctx *ErrorContext
}

// NewBuilder creates a builder seeded from the registered definition of code.
func NewBuilder(code string) *Builder {
	def := Lookup(code)
	return &Builder{
		ctx: &ErrorContext{
			Version:          SchemaVersion,
			ID:               uuid.NewString(),
			Seq:              nextSeq(),
			Code:             def.Code,
			Kind:             def.Kind,
			Severity:         def.Severity,
			Message:          def.Message,
			Timestamp:        time.Now(),
			Recoverable:      def.Recoverable,
			SuggestedActions: append([]Action(nil), def.Actions...),
			recoverySet:      true,
		},
	}
}

// From returns a builder seeded with a copy of c.
func From(c *ErrorContext) *Builder {
	if c == nil {
		return NewBuilder(CodeUnknown)
	}
	return &Builder{ctx: c.Clone()}
}

// Renew gives the context a fresh ID, sequence number and timestamp so it
// can be reported as a new occurrence.
func (b *Builder) Renew() *Builder {
	b.ctx.ID = uuid.NewString()
	b.ctx.Seq = nextSeq()
	b.ctx.Timestamp = time.Now()
	return b
}

// Wrap records cause as the developer-facing cause. The user message is left untouched.
func (b *Builder) Wrap(cause error) *Builder {
	if cause == nil {
		return b
	}
	b.ctx.RawCause = cause
	b.ctx.Cause = safeErrorString(cause)
	return b
}

// WithCause records a developer-facing cause string.
func (b *Builder) WithCause(cause string) *Builder {
	b.ctx.Cause = cause
	return b
}

// WithMessage overrides the user-facing message
func (b *Builder) WithMessage(msg string) *Builder {
	if msg != "" {
		b.ctx.Message = msg
	}
	return b
}

// WithMessagef overrides the user-facing message with a formatted string
func (b *Builder) WithMessagef(format string, args ...any) *Builder {
	b.ctx.Message = fmt.Sprintf(format, args...)
	return b
}

// WithKind overrides the kind of the registered code.
func (b *Builder) WithKind(k Kind) *Builder {
	if k.Valid() {
		b.ctx.Kind = k
	}
	return b
}

// WithSeverity overrides the default severity
func (b *Builder) WithSeverity(sev Severity) *Builder {
	if !sev.Valid() {
		return b
	}
	// Escalating to critical requires a fresh recoverability decision.
	if sev == SeverityCritical && b.ctx.Severity != SeverityCritical {
		b.ctx.recoverySet = false
	}
	b.ctx.Severity = sev
	return b
}

// WithRecoverable sets recoverability explicitly.
func (b *Builder) WithRecoverable(recoverable bool) *Builder {
	b.ctx.Recoverable = recoverable
	b.ctx.recoverySet = true
	return b
}

// WithOrigin sets the originating component and user action.
func (b *Builder) WithOrigin(component, action string) *Builder {
	b.ctx.Origin = Origin{Component: component, Action: action}
	return b
}

// WithDetail adds a single detail value
func (b *Builder) WithDetail(key string, value any) *Builder {
	if b.ctx.Details == nil {
		b.ctx.Details = make(map[string]any)
	}
	b.ctx.Details[key] = value
	return b
}

// WithDetails merges details
func (b *Builder) WithDetails(details map[string]any) *Builder {
	for k, v := range details {
		b.WithDetail(k, v)
	}
	return b
}

// WithActions replaces the suggested actions.
func (b *Builder) WithActions(actions ...Action) *Builder {
	b.ctx.SuggestedActions = append([]Action(nil), actions...)
	return b
}

// WithCallback registers a handler for action and adds it to the suggested actions.
func (b *Builder) WithCallback(action Action, cb Callback) *Builder {
	if cb == nil {
		return b
	}
	if b.ctx.Callbacks == nil {
		b.ctx.Callbacks = make(map[Action]Callback)
	}
	b.ctx.Callbacks[action] = cb
	if !b.ctx.HasAction(action) {
		b.ctx.SuggestedActions = append(b.ctx.SuggestedActions, action)
	}
	return b
}

// WithStack captures the caller's stack.
func (b *Builder) WithStack() *Builder {
	b.ctx.Stack = captureStack(1)
	return b
}

// WithStackString records an already rendered stack.
func (b *Builder) WithStackString(stack string) *Builder {
	b.ctx.Stack = stack
	return b
}

// WithTimestamp overrides the creation time.
func (b *Builder) WithTimestamp(ts time.Time) *Builder {
	b.ctx.Timestamp = ts
	return b
}

// Build returns the constructed context
func (b *Builder) Build() *ErrorContext {
	return b.ctx
}

// New creates a context for a registered code
func New(code string) *ErrorContext {
	return NewBuilder(code).Build()
}

// Wrap creates a context for code wrapping cause
func Wrap(code string, cause error) *ErrorContext {
	return NewBuilder(code).Wrap(cause).Build()
}

// safeErrorString calls Error() and survives a panicking implementation.
func safeErrorString(err error) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("<Error() panicked: %v>", r)
		}
	}()
	return err.Error()
}

// UnmarshalJSON decodes a persisted context. Persisted contexts were validated
// before they were written, so recoverability counts as explicit.
func (c *ErrorContext) UnmarshalJSON(data []byte) error {
	type plain ErrorContext
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = ErrorContext(p)
	c.recoverySet = true
	return nil
}
