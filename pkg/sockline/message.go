package sockline

import (
	"encoding/json"
	"fmt"
)

// Frame is the JSON structure of a message on the wire, in both directions:
//
//	{"type": "notification", "payload": "x"}
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// encodeFrame builds the wire form of an outbound event.
func encodeFrame(eventType string, payload any) ([]byte, error) {
	if eventType == "" {
		return nil, ErrEmptyEventType
	}
	if IsReservedEvent(eventType) {
		return nil, fmt.Errorf("%w: %s", ErrReservedEvent, eventType)
	}

	frame := Frame{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		frame.Payload = raw
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame: %w", err)
	}
	return data, nil
}

// decodeFrame parses an inbound frame. Frames that can not be associated
// with an application event type are rejected.
func decodeFrame(data []byte) (string, any, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", nil, fmt.Errorf("malformed frame: %w", err)
	}
	if frame.Type == "" {
		return "", nil, ErrEmptyEventType
	}
	if IsReservedEvent(frame.Type) {
		return "", nil, fmt.Errorf("%w: %s", ErrReservedEvent, frame.Type)
	}

	var payload any
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return "", nil, fmt.Errorf("malformed payload: %w", err)
		}
	}
	return frame.Type, payload, nil
}
