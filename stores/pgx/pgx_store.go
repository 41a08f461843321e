// Package pgx is a PostgreSQL-backed ces.Driver built on pgx/pgxpool. It
// expects three tables (DDL below) and maps unique-key violations on the
// events table to ces.ConflictError so optimistic concurrency works the
// same way it does against stores/mem.
//
//	CREATE TABLE events (
//		aggregate_type text        NOT NULL,
//		aggregate_id   text        NOT NULL,
//		sequence       bigint      NOT NULL,
//		payload        jsonb       NOT NULL,
//		metadata       jsonb       NOT NULL,
//		PRIMARY KEY (aggregate_type, aggregate_id, sequence)
//	);
//
//	CREATE TABLE snapshots (
//		aggregate_type text   NOT NULL,
//		aggregate_id   text   NOT NULL,
//		version        bigint NOT NULL,
//		payload        jsonb  NOT NULL,
//		PRIMARY KEY (aggregate_type, aggregate_id)
//	);
//
//	CREATE TABLE queries (
//		aggregate_type text   NOT NULL,
//		aggregate_id   text   NOT NULL,
//		query_type     text   NOT NULL,
//		version        bigint NOT NULL,
//		payload        jsonb  NOT NULL,
//		PRIMARY KEY (aggregate_type, aggregate_id, query_type)
//	);
package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/eventframe/ces"
)

// Driver is the PostgreSQL ces.Driver.
type Driver struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// Option configures Driver at construction.
type Option func(*Driver)

// WithTracer sets the tracer used to emit one span per query.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Driver) { d.tracer = tracer }
}

// New creates a Driver over an already-connected pool.
func New(pool *pgxpool.Pool, opts ...Option) *Driver {
	d := &Driver{pool: pool, tracer: otel.Tracer("ces/stores/pgx")}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) startSpan(ctx context.Context, op, aggType, aggID string) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, "ces.pgx."+op, trace.WithAttributes(
		attribute.String("ces.aggregate_type", aggType),
		attribute.String("ces.aggregate_id", aggID),
	))
}

// InsertEvent appends one event row; a primary-key collision on
// (aggregate_type, aggregate_id, sequence) surfaces as *ces.ConflictError.
func (d *Driver) InsertEvent(ctx context.Context, aggType, aggID string, sequence int64, payload, metadata json.RawMessage) error {
	ctx, span := d.startSpan(ctx, "insert_event", aggType, aggID)
	defer span.End()

	_, err := d.pool.Exec(ctx, `
		INSERT INTO events (aggregate_type, aggregate_id, sequence, payload, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, aggType, aggID, sequence, payload, metadata)
	if err != nil {
		if isUniqueViolation(err) {
			conflict := &ces.ConflictError{
				AggregateType:   aggType,
				AggregateID:     aggID,
				ExpectedVersion: sequence,
				ActualVersion:   d.currentSequence(ctx, aggType, aggID),
			}
			span.RecordError(conflict)
			return conflict
		}
		wrapped := fmt.Errorf("pgx: insert event: %w", err)
		span.RecordError(wrapped)
		return wrapped
	}
	return nil
}

// currentSequence best-effort reads the highest committed sequence for an
// aggregate to populate a ConflictError's ActualVersion; a failure here is
// swallowed since the conflict itself is already the operation's result.
func (d *Driver) currentSequence(ctx context.Context, aggType, aggID string) int64 {
	var seq int64
	_ = d.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM events
		WHERE aggregate_type = $1 AND aggregate_id = $2
	`, aggType, aggID).Scan(&seq)
	return seq
}

func (d *Driver) selectEvents(ctx context.Context, aggType, aggID string, withMetadata bool) ([]ces.StoredEventRow, error) {
	query := `SELECT sequence, payload FROM events WHERE aggregate_type = $1 AND aggregate_id = $2 ORDER BY sequence ASC`
	if withMetadata {
		query = `SELECT sequence, payload, metadata FROM events WHERE aggregate_type = $1 AND aggregate_id = $2 ORDER BY sequence ASC`
	}

	rows, err := d.pool.Query(ctx, query, aggType, aggID)
	if err != nil {
		return nil, fmt.Errorf("pgx: select events: %w", err)
	}
	defer rows.Close()

	var out []ces.StoredEventRow
	for rows.Next() {
		var row ces.StoredEventRow
		if withMetadata {
			if err := rows.Scan(&row.Sequence, &row.Payload, &row.Metadata); err != nil {
				return nil, fmt.Errorf("pgx: scan event: %w", err)
			}
		} else {
			if err := rows.Scan(&row.Sequence, &row.Payload); err != nil {
				return nil, fmt.Errorf("pgx: scan event: %w", err)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgx: iterate events: %w", err)
	}
	return out, nil
}

// SelectEventsOnly returns every event row, sequence ascending, with
// Metadata left nil.
func (d *Driver) SelectEventsOnly(ctx context.Context, aggType, aggID string) ([]ces.StoredEventRow, error) {
	ctx, span := d.startSpan(ctx, "select_events_only", aggType, aggID)
	defer span.End()

	rows, err := d.selectEvents(ctx, aggType, aggID, false)
	if err != nil {
		span.RecordError(err)
	}
	return rows, err
}

// SelectEventsWithMetadata is SelectEventsOnly but also populates Metadata.
func (d *Driver) SelectEventsWithMetadata(ctx context.Context, aggType, aggID string) ([]ces.StoredEventRow, error) {
	ctx, span := d.startSpan(ctx, "select_events_with_metadata", aggType, aggID)
	defer span.End()

	rows, err := d.selectEvents(ctx, aggType, aggID, true)
	if err != nil {
		span.RecordError(err)
	}
	return rows, err
}

// UpsertSnapshot replaces the single snapshot row for the aggregate.
func (d *Driver) UpsertSnapshot(ctx context.Context, aggType, aggID string, lastSequence int64, payload json.RawMessage) error {
	ctx, span := d.startSpan(ctx, "upsert_snapshot", aggType, aggID)
	defer span.End()

	_, err := d.pool.Exec(ctx, `
		INSERT INTO snapshots (aggregate_type, aggregate_id, version, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (aggregate_type, aggregate_id) DO UPDATE
		SET version = EXCLUDED.version, payload = EXCLUDED.payload
	`, aggType, aggID, lastSequence, payload)
	if err != nil {
		err = fmt.Errorf("pgx: upsert snapshot: %w", err)
		span.RecordError(err)
	}
	return err
}

// SelectSnapshot returns the snapshot row for the aggregate, if any.
func (d *Driver) SelectSnapshot(ctx context.Context, aggType, aggID string) (ces.SnapshotRow, bool, error) {
	ctx, span := d.startSpan(ctx, "select_snapshot", aggType, aggID)
	defer span.End()

	var row ces.SnapshotRow
	err := d.pool.QueryRow(ctx, `
		SELECT version, payload FROM snapshots WHERE aggregate_type = $1 AND aggregate_id = $2
	`, aggType, aggID).Scan(&row.Version, &row.Payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ces.SnapshotRow{}, false, nil
		}
		err = fmt.Errorf("pgx: select snapshot: %w", err)
		span.RecordError(err)
		return ces.SnapshotRow{}, false, err
	}
	return row, true, nil
}

// UpsertQuery replaces the single projection row for
// (aggType, aggID, queryType).
func (d *Driver) UpsertQuery(ctx context.Context, aggType, aggID, queryType string, version int64, payload json.RawMessage) error {
	ctx, span := d.startSpan(ctx, "upsert_query", aggType, aggID)
	span.SetAttributes(attribute.String("ces.query_type", queryType))
	defer span.End()

	_, err := d.pool.Exec(ctx, `
		INSERT INTO queries (aggregate_type, aggregate_id, query_type, version, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (aggregate_type, aggregate_id, query_type) DO UPDATE
		SET version = EXCLUDED.version, payload = EXCLUDED.payload
	`, aggType, aggID, queryType, version, payload)
	if err != nil {
		err = fmt.Errorf("pgx: upsert query: %w", err)
		span.RecordError(err)
	}
	return err
}

// SelectQuery returns the projection row for (aggType, aggID, queryType),
// if any.
func (d *Driver) SelectQuery(ctx context.Context, aggType, aggID, queryType string) (ces.QueryRow, bool, error) {
	ctx, span := d.startSpan(ctx, "select_query", aggType, aggID)
	span.SetAttributes(attribute.String("ces.query_type", queryType))
	defer span.End()

	var row ces.QueryRow
	err := d.pool.QueryRow(ctx, `
		SELECT version, payload FROM queries
		WHERE aggregate_type = $1 AND aggregate_id = $2 AND query_type = $3
	`, aggType, aggID, queryType).Scan(&row.Version, &row.Payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ces.QueryRow{}, false, nil
		}
		err = fmt.Errorf("pgx: select query: %w", err)
		span.RecordError(err)
		return ces.QueryRow{}, false, err
	}
	return row, true, nil
}

// WithinTx runs fn inside a single pgx transaction, committing on success
// and rolling back on any error fn returns — the Driver's
// ces.TransactionalDriver capability (spec §4.1).
func (d *Driver) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ces.Driver) error) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgx: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &txDriver{tx: tx, tracer: d.tracer}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgx: commit transaction: %w", err)
	}
	return nil
}

// txDriver is Driver's InsertEvent (the only operation SaveEvents needs
// inside a transaction) running against a pgx.Tx instead of the pool.
type txDriver struct {
	tx     pgx.Tx
	tracer trace.Tracer
}

func (t *txDriver) InsertEvent(ctx context.Context, aggType, aggID string, sequence int64, payload, metadata json.RawMessage) error {
	_, span := t.tracer.Start(ctx, "ces.pgx.insert_event_tx", trace.WithAttributes(
		attribute.String("ces.aggregate_type", aggType),
		attribute.String("ces.aggregate_id", aggID),
	))
	defer span.End()

	_, err := t.tx.Exec(ctx, `
		INSERT INTO events (aggregate_type, aggregate_id, sequence, payload, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, aggType, aggID, sequence, payload, metadata)
	if err != nil {
		if isUniqueViolation(err) {
			conflict := &ces.ConflictError{AggregateType: aggType, AggregateID: aggID, ExpectedVersion: sequence}
			span.RecordError(conflict)
			return conflict
		}
		err = fmt.Errorf("pgx: insert event (tx): %w", err)
		span.RecordError(err)
		return err
	}
	return nil
}

func (t *txDriver) SelectEventsOnly(ctx context.Context, aggType, aggID string) ([]ces.StoredEventRow, error) {
	return nil, errors.New("pgx: SelectEventsOnly not supported inside a transaction")
}

func (t *txDriver) SelectEventsWithMetadata(ctx context.Context, aggType, aggID string) ([]ces.StoredEventRow, error) {
	return nil, errors.New("pgx: SelectEventsWithMetadata not supported inside a transaction")
}

func (t *txDriver) UpsertSnapshot(ctx context.Context, aggType, aggID string, lastSequence int64, payload json.RawMessage) error {
	return errors.New("pgx: UpsertSnapshot not supported inside a transaction")
}

func (t *txDriver) SelectSnapshot(ctx context.Context, aggType, aggID string) (ces.SnapshotRow, bool, error) {
	return ces.SnapshotRow{}, false, errors.New("pgx: SelectSnapshot not supported inside a transaction")
}

func (t *txDriver) UpsertQuery(ctx context.Context, aggType, aggID, queryType string, version int64, payload json.RawMessage) error {
	return errors.New("pgx: UpsertQuery not supported inside a transaction")
}

func (t *txDriver) SelectQuery(ctx context.Context, aggType, aggID, queryType string) (ces.QueryRow, bool, error) {
	return ces.QueryRow{}, false, errors.New("pgx: SelectQuery not supported inside a transaction")
}

var (
	_ ces.Driver              = (*Driver)(nil)
	_ ces.TransactionalDriver = (*Driver)(nil)
)
