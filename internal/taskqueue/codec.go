package taskqueue

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

func init() {
	// Run variables decoded from YAML or JSON nest these types.
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// EncodeTask serializes t for storage. Vars must hold gob-encodable values.
func EncodeTask(t Task) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&t); err != nil {
		return nil, fmt.Errorf("encode task for %q: %w", t.WorkflowName, err)
	}
	return buf.Bytes(), nil
}

// DecodeTask is the inverse of EncodeTask.
func DecodeTask(data []byte) (*Task, error) {
	t := new(Task)
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return t, nil
}
