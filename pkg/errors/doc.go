// Package errors defines the fault taxonomy shared by every faultline component:
// kinds, severities, recovery actions, stable error codes and the normalized
// ErrorContext record.
//
// # Overview
//
// Every failure, whatever its origin, is turned into an ErrorContext by Classify:
//   - HTTP statuses map to validation or network codes (400/422 are validation,
//     401/403/404/408/429 each have their own network code, 5xx are retryable)
//   - timeouts and lost connectivity are distinct, retryable network codes
//   - undecodable stream payloads are recoverable stream faults
//   - recovered render panics are critical, recoverable render faults
//   - anything else falls back to ERR_UNKNOWN_9000 with severity error
//
// Classify never panics. The user-facing Message always comes from the code
// registry (or an explicit override); raw error text is kept in the
// developer-only Cause field.
//
// # Quick Start
//
//	ctx := errors.NewBuilder(errors.CodeStateMutation).
//	    Wrap(err).
//	    WithOrigin("cart", "add-item").
//	    WithCallback(errors.ActionRetry, retryFn).
//	    Build()
//
// # Error Codes
//
// Codes follow the format ERR_<KIND>_<NNNN>:
//   - ERR_NETWORK_1xxx: transport and HTTP failures
//   - ERR_VALIDATION_2xxx: rejected input
//   - ERR_RENDER_3xxx: view failures caught by a boundary
//   - ERR_STATE_4xxx: rolled back state mutations
//   - ERR_TASK_5xxx: background and queued operations
//   - ERR_STREAM_6xxx: event stream failures
//
// # Sanitization
//
// Sanitize strips denylisted detail keys (password, token, authorization, ...),
// scrubs secrets from string values and drops Cause/Stack unless the caller is
// a trusted development build. Anything that leaves the process goes through it.
//
// # Thread Safety
//
// The code registry is safe for concurrent use. ErrorContext values are not;
// use Clone before sharing a context that may be mutated.
package errors
