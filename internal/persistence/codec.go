package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/petrijr/apiflow/pkg/api"
)

// EncodeResult serializes a result using its JSON wire shape.
func EncodeResult(res *api.WorkflowResult) ([]byte, error) {
	if res == nil {
		return nil, fmt.Errorf("encode result: nil result")
	}
	return json.Marshal(res)
}

// DecodeResult is the inverse of EncodeResult. Extracted values come back as
// plain JSON values (float64 numbers, []any, map[string]any).
func DecodeResult(data []byte) (*api.WorkflowResult, error) {
	if len(data) == 0 {
		return nil, ErrResultNotFound
	}
	var res api.WorkflowResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}

// cloneResult deep-copies res through the codec so stored results cannot be
// mutated by callers.
func cloneResult(res *api.WorkflowResult) (*api.WorkflowResult, error) {
	data, err := EncodeResult(res)
	if err != nil {
		return nil, err
	}
	return DecodeResult(data)
}
