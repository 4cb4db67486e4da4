package transform

import (
	"context"

	"github.com/tsarna/sockline/pkg/sockline"
)

// TransformingHandler wraps another handler and applies transforms to
// events before passing them on. Dropped events are not passed on.
//
//	manager.Subscribe("chat/#", transform.NewTransformingHandler(
//	    printer,
//	    transform.DropEventPrefix("chat/internal/"),
//	    transform.SanitizeStrings(),
//	))
type TransformingHandler struct {
	wrapped    sockline.Handler
	transforms []EventTransformFunc
}

func NewTransformingHandler(wrapped sockline.Handler, transforms ...EventTransformFunc) *TransformingHandler {
	return &TransformingHandler{
		wrapped:    wrapped,
		transforms: transforms,
	}
}

func (t *TransformingHandler) OnEvent(ctx context.Context, eventType string, payload any) error {
	if len(t.transforms) == 0 {
		return t.wrapped.OnEvent(ctx, eventType, payload)
	}

	transformed, _ := ApplyTransforms(&Event{Type: eventType, Payload: payload}, t.transforms)
	if transformed == nil {
		return nil
	}
	return t.wrapped.OnEvent(ctx, transformed.Type, transformed.Payload)
}
