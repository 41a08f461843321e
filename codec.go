package ces

import (
	"encoding/json"
	"fmt"
)

// Codec defines how a payload (event or query) is encoded to and decoded
// from the opaque JSON-shaped value the Driver persists. Each concrete
// event type registers its codec by type name with an EventStore; a
// QueryStore takes the single codec for its query type.
type Codec interface {
	Encode(v any) (json.RawMessage, error)
	Decode(b json.RawMessage) (any, error)
}

// JSONCodec is a generic Codec that marshals/unmarshals T via encoding/json.
// It is the default and, in practice, only codec implementation the core
// ships: payloads are specified as JSON-shaped everywhere in the data model
// (spec §3, §6).
func JSONCodec[T any]() Codec {
	return jsonCodec[T]{}
}

type jsonCodec[T any] struct{}

func (jsonCodec[T]) Encode(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %T: %v", ErrSerialization, v, err)
	}
	return b, nil
}

func (jsonCodec[T]) Decode(b json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("%w: decode into %T: %v", ErrSerialization, v, err)
	}
	return v, nil
}
