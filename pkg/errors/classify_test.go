package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) HTTPStatus() int { return int(s) }

type fieldErr string

func (f fieldErr) Error() string { return "invalid " + string(f) }
func (f fieldErr) Field() string { return string(f) }

type panickyErr struct{}

func (panickyErr) Error() string { panic("no message for you") }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify_HTTPStatus(t *testing.T) {
	tests := []struct {
		status      int
		code        string
		kind        Kind
		recoverable bool
	}{
		{400, CodeValidationBadRequest, KindValidation, false},
		{422, CodeValidationUnprocessable, KindValidation, false},
		{401, CodeNetworkUnauthorized, KindNetwork, false},
		{403, CodeNetworkForbidden, KindNetwork, false},
		{404, CodeNetworkNotFound, KindNetwork, false},
		{408, CodeNetworkTimeout, KindNetwork, true},
		{429, CodeNetworkRateLimited, KindNetwork, true},
		{500, CodeNetworkServer, KindNetwork, true},
		{502, CodeNetworkServer, KindNetwork, true},
		{503, CodeNetworkUnavailable, KindNetwork, true},
		{418, CodeNetworkFailure, KindNetwork, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			got := Classify(statusErr(tt.status), Hints{})
			if got.Code != tt.code || got.Kind != tt.kind || got.Recoverable != tt.recoverable {
				t.Errorf("Classify(%d) = %s/%s/%v, want %s/%s/%v",
					tt.status, got.Code, got.Kind, got.Recoverable, tt.code, tt.kind, tt.recoverable)
			}
			if got.Details["status"] != tt.status {
				t.Errorf("details.status = %v", got.Details["status"])
			}
		})
	}
}

func TestClassify_DistinctNetworkCodes(t *testing.T) {
	seen := map[string]int{}
	for _, status := range []int{401, 403, 404, 408, 429} {
		code := Classify(nil, Hints{Status: status}).Code
		if prev, ok := seen[code]; ok {
			t.Errorf("status %d and %d share code %s", prev, status, code)
		}
		seen[code] = status
	}
}

func TestClassify_Timeouts(t *testing.T) {
	for name, raw := range map[string]error{
		"deadline": context.DeadlineExceeded,
		"wrapped":  fmt.Errorf("get: %w", context.DeadlineExceeded),
		"net":      timeoutErr{},
	} {
		t.Run(name, func(t *testing.T) {
			got := Classify(raw, Hints{})
			if got.Code != CodeNetworkTimeout {
				t.Errorf("Code = %s, want %s", got.Code, CodeNetworkTimeout)
			}
			if !IsRetryable(got) {
				t.Error("timeouts should be retryable")
			}
		})
	}
	if Classify(statusErr(500), Hints{}).Code == CodeNetworkTimeout {
		t.Error("server errors must be distinguishable from timeouts")
	}
}

func TestClassify_Offline(t *testing.T) {
	raw := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	got := Classify(raw, Hints{})
	if !IsOfflineFailure(got) {
		t.Errorf("Code = %s, want %s", got.Code, CodeNetworkOffline)
	}
	if !IsOfflineFailure(Classify(fmt.Errorf("send: %w", ErrOffline), Hints{})) {
		t.Error("ErrOffline should classify as offline")
	}
}

func TestClassify_MalformedStreamPayload(t *testing.T) {
	var v map[string]any
	syntaxErr := json.Unmarshal([]byte("{not json"), &v)

	for name, raw := range map[string]error{
		"syntax":   syntaxErr,
		"sentinel": fmt.Errorf("event 7: %w", ErrMalformedEvent),
	} {
		t.Run(name, func(t *testing.T) {
			got := Classify(raw, Hints{})
			if got.Code != CodeStreamMalformed || got.Kind != KindStream || !got.Recoverable {
				t.Errorf("Classify() = %s/%s/%v", got.Code, got.Kind, got.Recoverable)
			}
		})
	}
}

func TestClassify_Panic(t *testing.T) {
	got := Classify(&PanicError{Value: "nil map", Stack: "main.view()", Component: "Cart"}, Hints{})
	if got.Kind != KindRender || got.Severity != SeverityCritical {
		t.Errorf("Classify(panic) = %s/%s", got.Kind, got.Severity)
	}
	if !got.Recoverable {
		t.Error("render panics are recoverable")
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if got.Origin.Component != "Cart" || got.Stack == "" {
		t.Errorf("origin/stack not carried: %+v", got)
	}
}

func TestClassify_FieldValidation(t *testing.T) {
	got := Classify(fieldErr("email"), Hints{})
	if got.Kind != KindValidation || got.Details["field"] != "email" {
		t.Errorf("Classify(field) = %s, details %v", got.Kind, got.Details)
	}
}

func TestClassify_Fallback(t *testing.T) {
	tests := []struct {
		name string
		raw  any
	}{
		{"nil", nil},
		{"string", "weird"},
		{"int", 42},
		{"plain error", errors.New("plain")},
		{"panicking Error()", panickyErr{}},
		{"nil context", (*ErrorContext)(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.raw, Hints{})
			if got == nil {
				t.Fatal("Classify() returned nil")
			}
			if got.Code != CodeUnknown || got.Severity != SeverityError {
				t.Errorf("Classify() = %s/%s, want %s/error", got.Code, got.Severity, CodeUnknown)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestClassify_Hints(t *testing.T) {
	got := Classify(errors.New("x"), Hints{
		Kind:      KindStream,
		Component: "feed",
		Action:    "scroll",
		Message:   "Feed unavailable.",
		Details:   map[string]any{"page": 2},
	})
	if got.Kind != KindStream {
		t.Errorf("Kind = %s, want stream", got.Kind)
	}
	if got.Origin != (Origin{Component: "feed", Action: "scroll"}) {
		t.Errorf("Origin = %+v", got.Origin)
	}
	if got.Message != "Feed unavailable." || got.Details["page"] != 2 {
		t.Errorf("hints not applied: %+v", got)
	}
}

func TestClassify_ContextIsCopied(t *testing.T) {
	orig := New(CodeStateMutation)
	got := Classify(orig, Hints{Component: "cart"})
	if got == orig {
		t.Error("Classify() must not return the caller's pointer")
	}
	if orig.Origin.Component != "" {
		t.Error("Classify() mutated its input")
	}
	if got.Code != CodeStateMutation {
		t.Errorf("Code = %s", got.Code)
	}
}

func TestClassify_MessageNeverCarriesRawText(t *testing.T) {
	got := Classify(errors.New("dial tcp 10.0.0.1: password=hunter2"), Hints{})
	if got.Message != Lookup(CodeUnknown).Message {
		t.Errorf("Message = %q", got.Message)
	}
}
