package ces

// AggregateContext pairs a rehydrated (or freshly defaulted) aggregate
// payload with its stream identity and version. Version == 0 iff the
// aggregate has never been committed to; otherwise it equals the sequence
// of the last event applied.
type AggregateContext[A any] struct {
	AggregateID string
	Version     int64
	Payload     A
}

// NewAggregateContext constructs an AggregateContext.
func NewAggregateContext[A any](aggregateID string, version int64, payload A) AggregateContext[A] {
	return AggregateContext[A]{AggregateID: aggregateID, Version: version, Payload: payload}
}

// EventContext is an immutable record of a single committed event: its
// stream position, payload, and attached metadata. Sequence is strictly
// monotonic per aggregate, starting at 1, with no gaps or duplicates.
type EventContext[E any] struct {
	AggregateID string
	Sequence    int64
	Payload     E
	Metadata    Metadata
}

// NewEventContext constructs an EventContext.
func NewEventContext[E any](aggregateID string, sequence int64, payload E, md Metadata) EventContext[E] {
	return EventContext[E]{AggregateID: aggregateID, Sequence: sequence, Payload: payload, Metadata: md}
}

// QueryContext pairs a materialized projection payload with its identity
// and version. Version == 0 iff the projection has never been persisted;
// otherwise it equals the sequence of the last event folded into it.
type QueryContext[Q any] struct {
	AggregateID string
	Version     int64
	Payload     Q
}

// NewQueryContext constructs a QueryContext.
func NewQueryContext[Q any](aggregateID string, version int64, payload Q) QueryContext[Q] {
	return QueryContext[Q]{AggregateID: aggregateID, Version: version, Payload: payload}
}
