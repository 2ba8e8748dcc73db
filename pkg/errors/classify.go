package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// ErrMalformedEvent marks a stream payload that could not be decoded.
var ErrMalformedEvent = errors.New("malformed event")

// ErrOffline marks a failure caused by missing connectivity.
var ErrOffline = errors.New("offline")

// Hints carry caller knowledge that the raw failure does not.
type Hints struct {
	Kind      Kind
	Component string
	Action    string
	Field     string
	Status    int
	Message   string
	Details   map[string]any
}

// StatusCoder is implemented by failures that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// FieldError is implemented by validation failures tied to one input field.
type FieldError interface {
	Field() string
}

// PanicError wraps a value recovered from a panic.
type PanicError struct {
	Value     any
	Stack     string
	Component string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes a recovered error value.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Classify maps any raw failure to a valid ErrorContext. It never panics and has no side effects.
func Classify(raw any, hints Hints) (out *ErrorContext) {
	defer func() {
		if r := recover(); r != nil {
			out = applyHints(unknown(hints).WithCause(fmt.Sprintf("classification failed: %v", r)), hints).Build()
		}
	}()
	return applyHints(classify(raw, hints), hints).Build()
}

func classify(raw any, h Hints) *Builder {
	switch v := raw.(type) {
	case nil:
		if h.Status != 0 {
			return fromStatus(h.Status)
		}
		return unknown(h)
	case *ErrorContext:
		if v == nil {
			return unknown(h)
		}
		return &Builder{ctx: v.Clone()}
	case *PanicError:
		return fromPanic(v)
	case error:
		return classifyError(v, h)
	case string:
		return unknown(h).WithCause(v)
	default:
		return unknown(h).WithCause(fmt.Sprintf("%v", v))
	}
}

func classifyError(err error, h Hints) *Builder {
	var ec *ErrorContext
	if errors.As(err, &ec) && ec != nil {
		return &Builder{ctx: ec.Clone()}
	}

	var pe *PanicError
	if errors.As(err, &pe) {
		return fromPanic(pe)
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return fromStatus(sc.HTTPStatus()).Wrap(err)
	}
	if h.Status != 0 {
		return fromStatus(h.Status).Wrap(err)
	}

	if isTimeout(err) {
		return NewBuilder(CodeNetworkTimeout).Wrap(err)
	}
	if isOffline(err) {
		return NewBuilder(CodeNetworkOffline).Wrap(err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.Is(err, ErrMalformedEvent) || errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return NewBuilder(CodeStreamMalformed).Wrap(err)
	}

	var fe FieldError
	if errors.As(err, &fe) {
		return NewBuilder(CodeValidationField).Wrap(err).WithDetail("field", fe.Field())
	}

	return unknown(h).Wrap(err)
}

func fromPanic(pe *PanicError) *Builder {
	b := NewBuilder(CodeRenderPanic).Wrap(pe).WithStackString(pe.Stack).WithRecoverable(true)
	if pe.Component != "" {
		b.WithOrigin(pe.Component, "")
	}
	return b
}

func fromStatus(status int) *Builder {
	var b *Builder
	switch {
	case status == http.StatusBadRequest:
		b = NewBuilder(CodeValidationBadRequest)
	case status == http.StatusUnprocessableEntity:
		b = NewBuilder(CodeValidationUnprocessable)
	case status == http.StatusUnauthorized:
		b = NewBuilder(CodeNetworkUnauthorized)
	case status == http.StatusForbidden:
		b = NewBuilder(CodeNetworkForbidden)
	case status == http.StatusNotFound:
		b = NewBuilder(CodeNetworkNotFound)
	case status == http.StatusRequestTimeout:
		b = NewBuilder(CodeNetworkTimeout)
	case status == http.StatusTooManyRequests:
		b = NewBuilder(CodeNetworkRateLimited)
	case status == http.StatusServiceUnavailable:
		b = NewBuilder(CodeNetworkUnavailable)
	case status >= 500 && status <= 599:
		b = NewBuilder(CodeNetworkServer)
	case status >= 400 && status <= 499:
		b = NewBuilder(CodeNetworkFailure).WithRecoverable(false)
	default:
		b = NewBuilder(CodeNetworkFailure)
	}
	return b.WithDetail("status", status)
}

func unknown(h Hints) *Builder {
	b := NewBuilder(CodeUnknown)
	if h.Kind.Valid() {
		b.WithKind(h.Kind)
	}
	return b
}

func applyHints(b *Builder, h Hints) *Builder {
	if h.Component != "" || h.Action != "" {
		origin := b.ctx.Origin
		if h.Component != "" {
			origin.Component = h.Component
		}
		if h.Action != "" {
			origin.Action = h.Action
		}
		b.ctx.Origin = origin
	}
	if h.Field != "" {
		b.WithDetail("field", h.Field)
	}
	b.WithMessage(h.Message)
	b.WithDetails(h.Details)
	return b
}

// IsRetryable reports whether a classified failure is worth another attempt.
func IsRetryable(c *ErrorContext) bool {
	return c != nil && c.Kind == KindNetwork && c.Recoverable
}

// IsOfflineFailure reports whether c describes lost connectivity.
func IsOfflineFailure(c *ErrorContext) bool {
	return c != nil && c.Code == CodeNetworkOffline
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isOffline(err error) bool {
	if errors.Is(err, ErrOffline) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
