package codec

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/guyvdb/kvrepo/fault"
)

var _ Codec = Msgpack{}

type msgpackEnvelope struct {
	Type   string             `msgpack:"type"`
	Object msgpack.RawMessage `msgpack:"object"`
}

// Msgpack stores objects as MessagePack maps. Struct fields are named by
// their json tags, so a type serializes under the same field names with
// either codec.
type Msgpack struct{}

func (Msgpack) Name() string { return "msgpack" }

func (Msgpack) Encode(typeName string, v any) ([]byte, error) {
	var obj bytes.Buffer
	enc := msgpack.NewEncoder(&obj)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", fault.ErrEncode, typeName, err)
	}

	data, err := msgpack.Marshal(&msgpackEnvelope{Type: typeName, Object: obj.Bytes()})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", fault.ErrEncode, typeName, err)
	}
	return data, nil
}

func (Msgpack) Decode(data []byte, typeName string, into any) error {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %w", fault.ErrDecode, err)
	}
	if err := checkType(env.Type, typeName); err != nil {
		return err
	}

	dec := msgpack.NewDecoder(bytes.NewReader(env.Object))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("%w: %s: %w", fault.ErrDecode, typeName, err)
	}
	return nil
}
