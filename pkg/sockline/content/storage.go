package content

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var ErrInvalidContent = errors.New("invalid JSON content")

// Store encodes v as JSON. Content should be structured; a bare string is
// accepted but logged, since it usually means raw HTML is being stored.
func Store(logger *zap.Logger, v any) ([]byte, error) {
	if _, ok := v.(string); ok && logger != nil {
		logger.Warn("String content detected, convert to structured JSON")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode content: %w", err)
	}
	return data, nil
}

// Retrieve decodes content produced by Store.
func Retrieve(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContent, err)
	}
	return v, nil
}
