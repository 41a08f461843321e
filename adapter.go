package ces

import (
	"encoding/json"
	"fmt"
)

// eventEnvelope carries the event's type tag alongside its encoded data so
// the Driver's payload column can stay a truly opaque JSON value while the
// EventStore above it can still decode a heterogeneous event stream (Event
// is `any`; the envelope is how the adapter recovers which Go type to
// decode into).
type eventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// eventAdapter normalizes a Driver's untyped CRUD into typed
// insert/select operations over EventContext[E], encoding and decoding
// payloads via a type-name-keyed Codec registry.
type eventAdapter[E any] struct {
	driver Driver
	codecs map[string]Codec
}

func newEventAdapter[E any](driver Driver, codecs map[string]Codec) *eventAdapter[E] {
	return &eventAdapter[E]{driver: driver, codecs: codecs}
}

func (a *eventAdapter[E]) codecFor(typeName string) (Codec, error) {
	codec, ok := a.codecs[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: no codec registered for event type %q", ErrSerialization, typeName)
	}
	return codec, nil
}

func (a *eventAdapter[E]) encode(payload E, md Metadata) (envelope, meta json.RawMessage, err error) {
	typeName := EventType(payload)
	codec, err := a.codecFor(typeName)
	if err != nil {
		return nil, nil, err
	}

	data, err := codec.Encode(payload)
	if err != nil {
		return nil, nil, err
	}

	envelope, err = json.Marshal(eventEnvelope{Type: typeName, Data: data})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encode envelope for %q: %v", ErrSerialization, typeName, err)
	}

	meta, err = json.Marshal(md)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encode metadata: %v", ErrSerialization, err)
	}
	return envelope, meta, nil
}

func (a *eventAdapter[E]) decode(raw json.RawMessage) (E, error) {
	var zero E

	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return zero, fmt.Errorf("%w: decode envelope: %v", ErrSerialization, err)
	}

	codec, err := a.codecFor(env.Type)
	if err != nil {
		return zero, err
	}

	v, err := codec.Decode(env.Data)
	if err != nil {
		return zero, err
	}

	e, ok := v.(E)
	if !ok {
		return zero, fmt.Errorf("%w: decoded %q as %T, want %T", ErrSerialization, env.Type, v, zero)
	}
	return e, nil
}

func (a *eventAdapter[E]) decodeMetadata(raw json.RawMessage) (Metadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("%w: decode metadata: %v", ErrSerialization, err)
	}
	return md, nil
}

func (a *eventAdapter[E]) rowsToContexts(aggregateID string, rows []StoredEventRow) ([]EventContext[E], error) {
	out := make([]EventContext[E], 0, len(rows))
	for _, row := range rows {
		payload, err := a.decode(row.Payload)
		if err != nil {
			return nil, err
		}
		md, err := a.decodeMetadata(row.Metadata)
		if err != nil {
			return nil, err
		}
		out = append(out, NewEventContext(aggregateID, row.Sequence, payload, md))
	}
	return out, nil
}

// queryAdapter normalizes a Driver's untyped CRUD into typed
// save/load operations over a single Query payload type QT (the value
// type the projection is stored as; callers hold a pointer QP to it).
type queryAdapter[QT any] struct {
	driver Driver
	codec  Codec
}

func newQueryAdapter[QT any](driver Driver, codec Codec) *queryAdapter[QT] {
	return &queryAdapter[QT]{driver: driver, codec: codec}
}

func (a *queryAdapter[QT]) encode(payload any) (json.RawMessage, error) {
	return a.codec.Encode(payload)
}

func (a *queryAdapter[QT]) decode(raw json.RawMessage) (QT, error) {
	var zero QT
	v, err := a.codec.Decode(raw)
	if err != nil {
		return zero, err
	}
	q, ok := v.(QT)
	if !ok {
		return zero, fmt.Errorf("%w: decoded query as %T, want %T", ErrSerialization, v, zero)
	}
	return q, nil
}
