package codec

import (
	"encoding/json"
	"fmt"

	"github.com/guyvdb/kvrepo/fault"
)

var _ Codec = JSON{}

type jsonEnvelope struct {
	Type   string          `json:"type"`
	Object json.RawMessage `json:"object"`
}

// JSON stores objects as {"type": ..., "object": ...} documents.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Encode(typeName string, v any) ([]byte, error) {
	obj, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", fault.ErrEncode, typeName, err)
	}
	data, err := json.Marshal(jsonEnvelope{Type: typeName, Object: obj})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", fault.ErrEncode, typeName, err)
	}
	return data, nil
}

func (JSON) Decode(data []byte, typeName string, into any) error {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %w", fault.ErrDecode, err)
	}
	if err := checkType(env.Type, typeName); err != nil {
		return err
	}
	if err := json.Unmarshal(env.Object, into); err != nil {
		return fmt.Errorf("%w: %s: %w", fault.ErrDecode, typeName, err)
	}
	return nil
}
