package stream

import (
	"encoding/json"
	"fmt"

	ferrors "github.com/armorclaw/faultline/pkg/errors"
)

// HeartbeatType marks keep-alive frames. They reset the silence timer and
// are never delivered to the handler.
const HeartbeatType = "heartbeat"

// Event is one decoded server-push message
type Event struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeEvent parses a frame. Errors wrap ferrors.ErrMalformedEvent.
func DecodeEvent(frame []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ferrors.ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ferrors.ErrMalformedEvent)
	}
	return ev, nil
}
