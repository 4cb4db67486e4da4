// Package transform provides composable functions that rewrite or drop
// events before they reach a handler.
package transform

import (
	"strings"
	"sync"
	"time"

	"github.com/amir-yaghoubi/mqttpattern"
	"github.com/tsarna/sockline/pkg/sockline/content"
)

// Event is an event type and its payload as seen by a transform.
type Event struct {
	Type    string
	Payload any
}

// EventTransformFunc transforms an event before it is handled.
//
// Returns:
//   - *Event: the transformed event (nil to drop the event)
//   - bool: whether to call subsequent transform functions (ignored if the event is nil)
type EventTransformFunc func(ev *Event) (*Event, bool)

// DropEventPattern drops events whose type matches the given MQTT-style pattern.
//
//	DropEventPattern("debug/#")
func DropEventPattern(pattern string) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		if mqttpattern.Matches(pattern, ev.Type) {
			return nil, false
		}
		return ev, true
	}
}

// DropEventPrefix drops events whose type starts with prefix.
func DropEventPrefix(prefix string) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		if strings.HasPrefix(ev.Type, prefix) {
			return nil, false
		}
		return ev, true
	}
}

// RateLimitByEvent drops events that arrive less than minInterval after the
// last accepted event of the same type.
func RateLimitByEvent(minInterval time.Duration) EventTransformFunc {
	var mu sync.Mutex
	lastSent := make(map[string]time.Time)

	return func(ev *Event) (*Event, bool) {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		if last, exists := lastSent[ev.Type]; exists && now.Sub(last) < minInterval {
			return nil, false
		}
		lastSent[ev.Type] = now
		return ev, true
	}
}

// IfPattern applies transform only to events whose type matches pattern.
func IfPattern(pattern string, transform EventTransformFunc) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		if mqttpattern.Matches(pattern, ev.Type) {
			return transform(ev)
		}
		return ev, true
	}
}

// ModifyPayload replaces the payload with the result of fn. A nil result
// drops the event.
func ModifyPayload(fn func(payload any) any) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		payload := fn(ev.Payload)
		if payload == nil {
			return nil, true
		}
		return &Event{Type: ev.Type, Payload: payload}, true
	}
}

// SanitizeStrings runs every string in the payload, at any depth, through
// content.SanitizeHTML.
func SanitizeStrings() EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		return &Event{Type: ev.Type, Payload: sanitizeValue(ev.Payload)}, true
	}
}

func sanitizeValue(v any) any {
	switch v := v.(type) {
	case string:
		return content.SanitizeHTML(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			out[key] = sanitizeValue(value)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, value := range v {
			out[i] = sanitizeValue(value)
		}
		return out
	default:
		return v
	}
}

// ChainTransforms combines multiple transforms into one.
func ChainTransforms(transforms ...EventTransformFunc) EventTransformFunc {
	return func(ev *Event) (*Event, bool) {
		return ApplyTransforms(ev, transforms)
	}
}

// ApplyTransforms runs transforms in order until one drops the event or
// asks to stop.
func ApplyTransforms(ev *Event, transforms []EventTransformFunc) (*Event, bool) {
	current := ev
	for _, transform := range transforms {
		transformed, continueProcessing := transform(current)
		current = transformed

		if current == nil || !continueProcessing {
			return current, continueProcessing
		}
	}
	return current, true
}
