package errors

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestErrorContext_Error(t *testing.T) {
	tests := []struct {
		name     string
		ctx      *ErrorContext
		expected string
	}{
		{
			name:     "without cause",
			ctx:      &ErrorContext{Code: CodeNetworkServer, Message: "The server encountered an error."},
			expected: "ERR_NETWORK_1500: The server encountered an error.",
		},
		{
			name:     "with cause",
			ctx:      &ErrorContext{Code: CodeNetworkServer, Message: "boom", Cause: "connection reset"},
			expected: "ERR_NETWORK_1500: boom: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ctx.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorContext_UnwrapAndIs(t *testing.T) {
	cause := errors.New("underlying")
	ctx := Wrap(CodeTaskFailed, cause)

	if !errors.Is(ctx, cause) {
		t.Error("errors.Is() should find the raw cause")
	}
	if !errors.Is(ctx, New(CodeTaskFailed)) {
		t.Error("errors.Is() should match contexts with the same code")
	}
	if errors.Is(ctx, New(CodeTaskReplayFailed)) {
		t.Error("errors.Is() should not match a different code")
	}
	if ctx.Message == cause.Error() {
		t.Error("Wrap() must not leak the raw cause into the user message")
	}
}

func TestBuilder_Defaults(t *testing.T) {
	ctx := NewBuilder(CodeNetworkTimeout).Build()

	if ctx.Kind != KindNetwork {
		t.Errorf("Kind = %q, want network", ctx.Kind)
	}
	if ctx.Severity != SeverityWarning {
		t.Errorf("Severity = %q, want warning", ctx.Severity)
	}
	if !ctx.Recoverable {
		t.Error("timeouts should be recoverable")
	}
	if ctx.ID == "" || ctx.Seq == 0 {
		t.Errorf("ID/Seq not assigned: %q/%d", ctx.ID, ctx.Seq)
	}
	if ctx.Version != SchemaVersion {
		t.Errorf("Version = %d, want %d", ctx.Version, SchemaVersion)
	}
	if err := ctx.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestBuilder_SeqMonotonic(t *testing.T) {
	a := New(CodeUnknown)
	b := New(CodeUnknown)
	if b.Seq <= a.Seq {
		t.Errorf("Seq not monotonic: %d then %d", a.Seq, b.Seq)
	}
}

func TestValidate_CriticalRequiresExplicitRecoverability(t *testing.T) {
	escalated := NewBuilder(CodeTaskFailed).WithSeverity(SeverityCritical).Build()
	if err := escalated.Validate(); err == nil {
		t.Error("Validate() should reject a critical context without an explicit recoverability decision")
	}

	decided := NewBuilder(CodeTaskFailed).WithSeverity(SeverityCritical).WithRecoverable(false).Build()
	if err := decided.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	literal := &ErrorContext{Code: "X", Kind: KindTask, Severity: SeverityCritical}
	if err := literal.Validate(); err == nil {
		t.Error("Validate() should reject a literal critical context")
	}

	registered := New(CodeStreamExhausted)
	if err := registered.Validate(); err != nil {
		t.Errorf("registered critical code should validate: %v", err)
	}
}

func TestValidate_RejectsInvalidFields(t *testing.T) {
	tests := []struct {
		name string
		ctx  *ErrorContext
	}{
		{"empty code", &ErrorContext{Kind: KindTask, Severity: SeverityError}},
		{"bad kind", &ErrorContext{Code: "X", Kind: "disk", Severity: SeverityError}},
		{"bad severity", &ErrorContext{Code: "X", Kind: KindTask, Severity: "fatal"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.ctx.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func TestWithCallback_AddsAction(t *testing.T) {
	called := false
	ctx := NewBuilder(CodeValidationField).
		WithActions(ActionDismiss).
		WithCallback(ActionRetry, func() error { called = true; return nil }).
		Build()

	if !ctx.HasAction(ActionRetry) {
		t.Fatal("retry should be suggested once a callback is registered")
	}
	cb, ok := ctx.Callback(ActionRetry)
	if !ok {
		t.Fatal("Callback(retry) missing")
	}
	if err := cb(); err != nil || !called {
		t.Errorf("callback error = %v, called = %v", err, called)
	}
	if _, ok := ctx.Callback(ActionReset); ok {
		t.Error("Callback(reset) should be absent")
	}
}

func TestClone_IsIndependent(t *testing.T) {
	orig := NewBuilder(CodeTaskFailed).WithDetail("k", "v").WithActions(ActionRetry).Build()
	cp := orig.Clone()
	cp.Details["k"] = "changed"
	cp.SuggestedActions[0] = ActionSkip

	if orig.Details["k"] != "v" || orig.SuggestedActions[0] != ActionRetry {
		t.Error("Clone() shares state with the original")
	}
}

func TestJSON_RoundTripKeepsValidity(t *testing.T) {
	ctx := NewBuilder(CodeRenderPanic).WithOrigin("cart", "open").Build()
	data, err := json.Marshal(ctx)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"v":1`) {
		t.Errorf("missing schema version in %s", data)
	}

	var decoded ErrorContext
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Code != ctx.Code || decoded.Origin != ctx.Origin {
		t.Errorf("decoded = %+v", decoded)
	}
	if err := decoded.Validate(); err != nil {
		t.Errorf("decoded Validate() error = %v", err)
	}
}

func TestFormatSummary(t *testing.T) {
	ctx := NewBuilder(CodeNetworkServer).WithOrigin("orders", "load").Build()
	s := ctx.FormatSummary()
	for _, want := range []string{"[ERROR]", CodeNetworkServer, "orders/load", "retry"} {
		if !strings.Contains(s, want) {
			t.Errorf("FormatSummary() = %q, missing %q", s, want)
		}
	}
}

func TestLookup_FallsBackToUnknown(t *testing.T) {
	def := Lookup("ERR_NOPE_0001")
	if def.Code != CodeUnknown {
		t.Errorf("Lookup() = %s, want %s", def.Code, CodeUnknown)
	}
	if Registered("ERR_NOPE_0001") {
		t.Error("Registered() should be false for unknown codes")
	}
}

func TestRegistry_AllCodesValid(t *testing.T) {
	for _, def := range AllCodes() {
		if !def.Kind.Valid() {
			t.Errorf("%s: invalid kind %q", def.Code, def.Kind)
		}
		if !def.Severity.Valid() {
			t.Errorf("%s: invalid severity %q", def.Code, def.Severity)
		}
		if def.Message == "" {
			t.Errorf("%s: empty message", def.Code)
		}
	}
	if len(CodesByKind(KindStream)) != 4 {
		t.Errorf("CodesByKind(stream) = %d, want 4", len(CodesByKind(KindStream)))
	}
	if len(CodesBySeverity(SeverityCritical)) == 0 {
		t.Error("expected at least one critical code")
	}
}

func TestSeverity_Rank(t *testing.T) {
	order := []Severity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s should outrank %s", order[i], order[i-1])
		}
	}
	if Severity("fatal").Valid() {
		t.Error("unknown severity should be invalid")
	}
}
