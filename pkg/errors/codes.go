package errors

import (
	"sort"
	"sync"
)

// CodeDefinition defines an error code's properties
type CodeDefinition struct {
	Code        string   `json:"code"`
	Kind        Kind     `json:"kind"`
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	Help        string   `json:"help"`
	Recoverable bool     `json:"recoverable"`
	Actions     []Action `json:"actions,omitempty"`
}

// Well-known codes. Format is ERR_<KIND>_<NNNN>.
const (
	CodeNetworkFailure      = "ERR_NETWORK_1000"
	CodeNetworkUnauthorized = "ERR_NETWORK_1001"
	CodeNetworkForbidden    = "ERR_NETWORK_1003"
	CodeNetworkNotFound     = "ERR_NETWORK_1004"
	CodeNetworkTimeout      = "ERR_NETWORK_1008"
	CodeNetworkOffline      = "ERR_NETWORK_1010"
	CodeNetworkRateLimited  = "ERR_NETWORK_1029"
	CodeNetworkServer       = "ERR_NETWORK_1500"
	CodeNetworkUnavailable  = "ERR_NETWORK_1503"

	CodeValidationBadRequest    = "ERR_VALIDATION_2000"
	CodeValidationUnprocessable = "ERR_VALIDATION_2022"
	CodeValidationField         = "ERR_VALIDATION_2100"

	CodeRenderPanic = "ERR_RENDER_3000"
	CodeRenderError = "ERR_RENDER_3001"

	CodeStateMutation      = "ERR_STATE_4000"
	CodeStatePostcondition = "ERR_STATE_4001"

	CodeTaskReplayFailed = "ERR_TASK_5000"
	CodeTaskFailed       = "ERR_TASK_5001"

	CodeStreamMalformed    = "ERR_STREAM_6000"
	CodeStreamDisconnected = "ERR_STREAM_6001"
	CodeStreamExhausted    = "ERR_STREAM_6002"
	CodeStreamGap          = "ERR_STREAM_6003"

	CodeUnknown = "ERR_UNKNOWN_9000"
)

// registry stores all registered error codes
var (
	registry   = make(map[string]CodeDefinition)
	registryMu sync.RWMutex
)

var retryDismiss = []Action{ActionRetry, ActionDismiss}

// Default error code definitions
var defaultCodes = []CodeDefinition{
	// Network (1000-1999, HTTP status mirrored in the low digits where one exists)
	{Code: CodeNetworkFailure, Kind: KindNetwork, Severity: SeverityError, Recoverable: true, Actions: retryDismiss,
		Message: "Something went wrong while contacting the server.", Help: "Check connectivity and retry"},
	{Code: CodeNetworkUnauthorized, Kind: KindNetwork, Severity: SeverityError, Actions: []Action{ActionNavigateHome, ActionDismiss},
		Message: "Your session has expired. Please sign in again.", Help: "Credentials were rejected (401)"},
	{Code: CodeNetworkForbidden, Kind: KindNetwork, Severity: SeverityError, Actions: []Action{ActionNavigateHome, ActionDismiss},
		Message: "You do not have access to this resource.", Help: "Request was forbidden (403)"},
	{Code: CodeNetworkNotFound, Kind: KindNetwork, Severity: SeverityWarning, Actions: []Action{ActionNavigateHome, ActionDismiss},
		Message: "The requested item could not be found.", Help: "Resource does not exist or was removed (404)"},
	{Code: CodeNetworkTimeout, Kind: KindNetwork, Severity: SeverityWarning, Recoverable: true, Actions: retryDismiss,
		Message: "The server took too long to respond.", Help: "Request timed out; it is safe to retry"},
	{Code: CodeNetworkOffline, Kind: KindNetwork, Severity: SeverityWarning, Recoverable: true, Actions: []Action{ActionDismiss},
		Message: "You are offline. Changes will be sent when the connection returns.", Help: "Connectivity lost; work is being queued"},
	{Code: CodeNetworkRateLimited, Kind: KindNetwork, Severity: SeverityWarning, Recoverable: true, Actions: retryDismiss,
		Message: "Too many requests. Please wait a moment.", Help: "Server applied rate limiting (429)"},
	{Code: CodeNetworkServer, Kind: KindNetwork, Severity: SeverityError, Recoverable: true, Actions: retryDismiss,
		Message: "The server encountered an error.", Help: "Server returned 5xx; retry may succeed"},
	{Code: CodeNetworkUnavailable, Kind: KindNetwork, Severity: SeverityError, Recoverable: true, Actions: retryDismiss,
		Message: "The service is temporarily unavailable.", Help: "Server returned 503; retry later"},

	// Validation (2000-2999)
	{Code: CodeValidationBadRequest, Kind: KindValidation, Severity: SeverityWarning, Actions: []Action{ActionDismiss},
		Message: "Some of the information provided is not valid.", Help: "Server rejected the request (400)"},
	{Code: CodeValidationUnprocessable, Kind: KindValidation, Severity: SeverityWarning, Actions: []Action{ActionDismiss},
		Message: "Please correct the highlighted fields.", Help: "Server could not process the input (422)"},
	{Code: CodeValidationField, Kind: KindValidation, Severity: SeverityWarning, Actions: []Action{ActionDismiss},
		Message: "This value is not valid.", Help: "Field-level validation failed"},

	// Render (3000-3999)
	{Code: CodeRenderPanic, Kind: KindRender, Severity: SeverityCritical, Recoverable: true,
		Actions: []Action{ActionRetry, ActionReset, ActionNavigateHome},
		Message: "This part of the screen failed to display.", Help: "A view panicked while rendering"},
	{Code: CodeRenderError, Kind: KindRender, Severity: SeverityError, Recoverable: true,
		Actions: []Action{ActionRetry, ActionReset, ActionNavigateHome},
		Message: "This part of the screen could not be displayed.", Help: "A view returned an error while rendering"},

	// State (4000-4999)
	{Code: CodeStateMutation, Kind: KindState, Severity: SeverityError, Recoverable: true, Actions: retryDismiss,
		Message: "Your change could not be applied and was undone.", Help: "A state mutation failed and was rolled back"},
	{Code: CodeStatePostcondition, Kind: KindState, Severity: SeverityError, Recoverable: true, Actions: retryDismiss,
		Message: "Your change left things in an invalid state and was undone.", Help: "A post-condition check failed after a mutation"},

	// Task (5000-5999)
	{Code: CodeTaskReplayFailed, Kind: KindTask, Severity: SeverityError, Recoverable: true, Actions: retryDismiss,
		Message: "A change made while offline could not be sent.", Help: "Offline operation exhausted its retries"},
	{Code: CodeTaskFailed, Kind: KindTask, Severity: SeverityError, Recoverable: true, Actions: retryDismiss,
		Message: "A background task failed.", Help: "Background operation returned an error"},

	// Stream (6000-6999)
	{Code: CodeStreamMalformed, Kind: KindStream, Severity: SeverityWarning, Recoverable: true, Actions: []Action{ActionSkip},
		Message: "An update could not be read and was skipped.", Help: "Malformed event payload"},
	{Code: CodeStreamDisconnected, Kind: KindStream, Severity: SeverityWarning, Recoverable: true, Actions: []Action{ActionReconnect},
		Message: "Live updates were interrupted. Reconnecting.", Help: "Stream connection lost"},
	{Code: CodeStreamExhausted, Kind: KindStream, Severity: SeverityCritical, Recoverable: true, Actions: []Action{ActionReconnect},
		Message: "Live updates are unavailable.", Help: "Automatic reconnection gave up; reconnect manually"},
	{Code: CodeStreamGap, Kind: KindStream, Severity: SeverityWarning, Recoverable: true, Actions: []Action{ActionDismiss},
		Message: "Some live updates may have been missed.", Help: "Stream resumed without a resumption token"},

	// Fallback
	{Code: CodeUnknown, Kind: KindTask, Severity: SeverityError, Recoverable: true, Actions: retryDismiss,
		Message: "Something went wrong.", Help: "Unclassified failure"},
}

func init() {
	// Register default codes
	for _, def := range defaultCodes {
		registry[def.Code] = def
	}
}

// Register adds a new error code to the registry
func Register(def CodeDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[def.Code] = def
}

// Lookup retrieves an error code definition, falling back to CodeUnknown.
func Lookup(code string) CodeDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if def, ok := registry[code]; ok {
		return def
	}
	return registry[CodeUnknown]
}

// Registered reports whether code has a definition.
func Registered(code string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[code]
	return ok
}

// AllCodes returns all registered definitions sorted by code
func AllCodes() []CodeDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]CodeDefinition, 0, len(registry))
	for _, v := range registry {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result
}

// CodesByKind returns all codes of a given kind
func CodesByKind(kind Kind) []CodeDefinition {
	var result []CodeDefinition
	for _, def := range AllCodes() {
		if def.Kind == kind {
			result = append(result, def)
		}
	}
	return result
}

// CodesBySeverity returns all codes with a given severity
func CodesBySeverity(severity Severity) []CodeDefinition {
	var result []CodeDefinition
	for _, def := range AllCodes() {
		if def.Severity == severity {
			result = append(result, def)
		}
	}
	return result
}
