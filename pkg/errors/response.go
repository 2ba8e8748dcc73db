package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// ErrorResponse is the normalized failure shape returned to callers of the network client.
type ErrorResponse struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
}

// ResponseFrom builds the normalized shape from a sanitized copy of c.
func ResponseFrom(c *ErrorContext) ErrorResponse {
	clean := Sanitize(c, false)
	return ErrorResponse{
		Code:      clean.Code,
		Message:   clean.Message,
		Details:   clean.Details,
		Severity:  clean.Severity,
		Timestamp: clean.Timestamp,
	}
}

func (r ErrorResponse) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// DecodeResponse parses a server-provided error body. ok is false when the body does not carry a code.
func DecodeResponse(body []byte) (resp ErrorResponse, ok bool) {
	if len(body) == 0 {
		return resp, false
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ErrorResponse{}, false
	}
	return resp, resp.Code != ""
}
