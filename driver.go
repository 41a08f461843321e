package ces

import (
	"context"
	"encoding/json"
)

// StoredEventRow is one row read back from the events table: a sequence
// number, its JSON-shaped payload (an envelope carrying both the event
// type tag and its data, opaque to the Driver), and — when read via
// SelectEventsWithMetadata — its JSON-shaped metadata.
type StoredEventRow struct {
	Sequence int64
	Payload  json.RawMessage
	Metadata json.RawMessage
}

// SnapshotRow is the single row (if any) read back from the snapshots
// table for one aggregate.
type SnapshotRow struct {
	Version int64
	Payload json.RawMessage
}

// QueryRow is the single row (if any) read back from the queries table for
// one (aggregate_type, aggregate_id, query_type) triple.
type QueryRow struct {
	Version int64
	Payload json.RawMessage
}

// Driver is the lowest-level collaborator in the tower: backend-specific,
// stateless-over-a-connection CRUD on the three logical tables described in
// spec §3 (events, snapshots, queries). It operates entirely on opaque
// JSON-shaped payload values — serialization into and out of caller types
// happens one layer up, in the EventStore/QueryStore via a Codec.
//
// Concrete backends (relational, document, key-value) implement Driver;
// see stores/mem for the in-memory reference and stores/pgx for the
// Postgres reference. Every method may suspend awaiting network/disk I/O
// and must be safe for concurrent use.
type Driver interface {
	// InsertEvent appends one event row at the given sequence. Backends
	// that enforce a primary key on (agg_type, agg_id, sequence) surface a
	// collision as an error satisfying errors.Is(err, ErrConflict).
	InsertEvent(ctx context.Context, aggType, aggID string, sequence int64, payload, metadata json.RawMessage) error

	// SelectEventsOnly returns every event row for the aggregate, ordered
	// by sequence ascending, with Metadata left nil.
	SelectEventsOnly(ctx context.Context, aggType, aggID string) ([]StoredEventRow, error)

	// SelectEventsWithMetadata is SelectEventsOnly but also populates
	// Metadata on each row.
	SelectEventsWithMetadata(ctx context.Context, aggType, aggID string) ([]StoredEventRow, error)

	// UpsertSnapshot replaces the single snapshot row for the aggregate,
	// inserting it if absent. lastSequence is always the sequence of the
	// last event folded into payload (spec §9 Open Question 1).
	UpsertSnapshot(ctx context.Context, aggType, aggID string, lastSequence int64, payload json.RawMessage) error

	// SelectSnapshot returns the snapshot row for the aggregate, if any.
	SelectSnapshot(ctx context.Context, aggType, aggID string) (row SnapshotRow, found bool, err error)

	// UpsertQuery replaces the single projection row for
	// (aggType, aggID, queryType), inserting it if absent.
	UpsertQuery(ctx context.Context, aggType, aggID, queryType string, version int64, payload json.RawMessage) error

	// SelectQuery returns the projection row for
	// (aggType, aggID, queryType), if any.
	SelectQuery(ctx context.Context, aggType, aggID, queryType string) (row QueryRow, found bool, err error)
}
