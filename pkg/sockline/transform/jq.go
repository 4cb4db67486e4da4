package transform

import (
	"context"
	"fmt"

	"github.com/itchyny/gojq"
	"go.uber.org/zap"
)

// JqTransform returns a transform that runs a jq query over the payload,
// with the event type available as $type.
//
//	JqTransform(`select(.level == "error") | .message`, logger)
//
// A query producing no output drops the event; several outputs are collected
// into an array. Runtime errors are logged and the event passes through
// unchanged.
func JqTransform(jqQuery string, logger *zap.Logger) (EventTransformFunc, error) {
	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JQ query '%s': %w", jqQuery, err)
	}

	compiledQuery, err := gojq.Compile(query, gojq.WithVariables([]string{"$type"}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile JQ query '%s': %w", jqQuery, err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return func(ev *Event) (*Event, bool) {
		// Lifecycle payloads may be errors, which jq can not take as input
		input := ev.Payload
		if err, ok := input.(error); ok {
			input = err.Error()
		}

		iter := compiledQuery.RunWithContext(context.Background(), input, ev.Type)

		var results []any
		for {
			result, hasResult := iter.Next()
			if !hasResult {
				break
			}
			if execErr, ok := result.(error); ok {
				logger.Error("JQ transform: JQ execution error",
					zap.String("jq_query", jqQuery),
					zap.String("event", ev.Type),
					zap.Error(execErr))
				return ev, true
			}
			results = append(results, result)
		}

		if len(results) == 0 {
			return nil, false
		}

		var payload any
		if len(results) == 1 {
			payload = results[0]
		} else {
			payload = results
		}
		return &Event{Type: ev.Type, Payload: payload}, true
	}, nil
}
