// Package mem is an in-process, mutex-guarded reference implementation of
// ces.Driver. It is concurrency-safe and suitable for tests, prototypes,
// and local runs; state is lost on process restart.
package mem

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/eventframe/ces"
)

type eventKey struct {
	aggType  string
	aggID    string
	sequence int64
}

type streamKey struct {
	aggType string
	aggID   string
}

type queryKey struct {
	aggType   string
	aggID     string
	queryType string
}

type storedEvent struct {
	payload  json.RawMessage
	metadata json.RawMessage
}

type storedSnapshot struct {
	version int64
	payload json.RawMessage
}

type storedQuery struct {
	version int64
	payload json.RawMessage
}

// Driver is the in-memory ces.Driver. Its zero value is not usable; build
// one with New.
type Driver struct {
	mu sync.RWMutex

	events    map[streamKey][]eventKey
	eventRows map[eventKey]storedEvent
	snapshots map[streamKey]storedSnapshot
	queries   map[queryKey]storedQuery
}

// New creates an empty in-memory Driver.
func New() *Driver {
	return &Driver{
		events:    make(map[streamKey][]eventKey),
		eventRows: make(map[eventKey]storedEvent),
		snapshots: make(map[streamKey]storedSnapshot),
		queries:   make(map[queryKey]storedQuery),
	}
}

// InsertEvent appends one event row, rejecting a duplicate
// (aggType, aggID, sequence) with a *ces.ConflictError — the in-memory
// stand-in for a backend's unique-key violation.
func (d *Driver) InsertEvent(_ context.Context, aggType, aggID string, sequence int64, payload, metadata json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.insertEventLocked(aggType, aggID, sequence, payload, metadata)
}

func (d *Driver) insertEventLocked(aggType, aggID string, sequence int64, payload, metadata json.RawMessage) error {
	ek := eventKey{aggType: aggType, aggID: aggID, sequence: sequence}
	if _, exists := d.eventRows[ek]; exists {
		sk := streamKey{aggType: aggType, aggID: aggID}
		return &ces.ConflictError{
			AggregateType:   aggType,
			AggregateID:     aggID,
			ExpectedVersion: sequence,
			ActualVersion:   int64(len(d.events[sk])),
		}
	}
	sk := streamKey{aggType: aggType, aggID: aggID}
	d.events[sk] = append(d.events[sk], ek)
	d.eventRows[ek] = storedEvent{payload: payload, metadata: metadata}
	return nil
}

func (d *Driver) selectEventsLocked(aggType, aggID string, withMetadata bool) []ces.StoredEventRow {
	sk := streamKey{aggType: aggType, aggID: aggID}
	keys := d.events[sk]
	rows := make([]ces.StoredEventRow, 0, len(keys))
	for _, ek := range keys {
		row := d.eventRows[ek]
		out := ces.StoredEventRow{Sequence: ek.sequence, Payload: row.payload}
		if withMetadata {
			out.Metadata = row.metadata
		}
		rows = append(rows, out)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Sequence < rows[j].Sequence })
	return rows
}

// SelectEventsOnly returns every event row, sequence ascending, omitting
// metadata. Rows are stored in insertion order and sorted by sequence on
// read; a duplicate sequence is rejected by InsertEvent.
func (d *Driver) SelectEventsOnly(_ context.Context, aggType, aggID string) ([]ces.StoredEventRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.selectEventsLocked(aggType, aggID, false), nil
}

// SelectEventsWithMetadata is SelectEventsOnly but also populates Metadata.
func (d *Driver) SelectEventsWithMetadata(_ context.Context, aggType, aggID string) ([]ces.StoredEventRow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.selectEventsLocked(aggType, aggID, true), nil
}

func (d *Driver) upsertSnapshotLocked(aggType, aggID string, lastSequence int64, payload json.RawMessage) {
	d.snapshots[streamKey{aggType: aggType, aggID: aggID}] = storedSnapshot{version: lastSequence, payload: payload}
}

// UpsertSnapshot replaces the single snapshot row for the aggregate.
func (d *Driver) UpsertSnapshot(_ context.Context, aggType, aggID string, lastSequence int64, payload json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upsertSnapshotLocked(aggType, aggID, lastSequence, payload)
	return nil
}

func (d *Driver) selectSnapshotLocked(aggType, aggID string) (ces.SnapshotRow, bool) {
	snap, ok := d.snapshots[streamKey{aggType: aggType, aggID: aggID}]
	if !ok {
		return ces.SnapshotRow{}, false
	}
	return ces.SnapshotRow{Version: snap.version, Payload: snap.payload}, true
}

// SelectSnapshot returns the snapshot row for the aggregate, if any.
func (d *Driver) SelectSnapshot(_ context.Context, aggType, aggID string) (ces.SnapshotRow, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	row, found := d.selectSnapshotLocked(aggType, aggID)
	return row, found, nil
}

func (d *Driver) upsertQueryLocked(aggType, aggID, queryType string, version int64, payload json.RawMessage) {
	d.queries[queryKey{aggType: aggType, aggID: aggID, queryType: queryType}] = storedQuery{version: version, payload: payload}
}

// UpsertQuery replaces the single projection row for
// (aggType, aggID, queryType).
func (d *Driver) UpsertQuery(_ context.Context, aggType, aggID, queryType string, version int64, payload json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upsertQueryLocked(aggType, aggID, queryType, version, payload)
	return nil
}

func (d *Driver) selectQueryLocked(aggType, aggID, queryType string) (ces.QueryRow, bool) {
	q, ok := d.queries[queryKey{aggType: aggType, aggID: aggID, queryType: queryType}]
	if !ok {
		return ces.QueryRow{}, false
	}
	return ces.QueryRow{Version: q.version, Payload: q.payload}, true
}

// SelectQuery returns the projection row for (aggType, aggID, queryType),
// if any.
func (d *Driver) SelectQuery(_ context.Context, aggType, aggID, queryType string) (ces.QueryRow, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	row, found := d.selectQueryLocked(aggType, aggID, queryType)
	return row, found, nil
}

// WithinTx runs fn under this Driver's write lock, recording an undo log
// of every write fn makes through tx. If fn returns an error, the log is
// replayed in reverse before WithinTx returns, so a failed transaction
// leaves no trace — the in-memory stand-in for a real rollback.
func (d *Driver) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ces.Driver) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx := &txDriver{d: d}
	err := fn(ctx, tx)
	if err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

// txDriver re-exposes Driver's locked helpers without re-acquiring d.mu,
// for use inside WithinTx where the write lock is already held. Every
// write pushes its own inverse onto undo so a failed transaction can be
// unwound.
type txDriver struct {
	d    *Driver
	undo []func()
}

func (t *txDriver) InsertEvent(_ context.Context, aggType, aggID string, sequence int64, payload, metadata json.RawMessage) error {
	if err := t.d.insertEventLocked(aggType, aggID, sequence, payload, metadata); err != nil {
		return err
	}
	t.undo = append(t.undo, func() {
		sk := streamKey{aggType: aggType, aggID: aggID}
		ek := eventKey{aggType: aggType, aggID: aggID, sequence: sequence}
		if keys := t.d.events[sk]; len(keys) > 0 && keys[len(keys)-1] == ek {
			t.d.events[sk] = keys[:len(keys)-1]
		}
		delete(t.d.eventRows, ek)
	})
	return nil
}

func (t *txDriver) SelectEventsOnly(_ context.Context, aggType, aggID string) ([]ces.StoredEventRow, error) {
	return t.d.selectEventsLocked(aggType, aggID, false), nil
}

func (t *txDriver) SelectEventsWithMetadata(_ context.Context, aggType, aggID string) ([]ces.StoredEventRow, error) {
	return t.d.selectEventsLocked(aggType, aggID, true), nil
}

func (t *txDriver) UpsertSnapshot(_ context.Context, aggType, aggID string, lastSequence int64, payload json.RawMessage) error {
	sk := streamKey{aggType: aggType, aggID: aggID}
	previous, had := t.d.snapshots[sk]
	t.d.upsertSnapshotLocked(aggType, aggID, lastSequence, payload)
	t.undo = append(t.undo, func() {
		if had {
			t.d.snapshots[sk] = previous
		} else {
			delete(t.d.snapshots, sk)
		}
	})
	return nil
}

func (t *txDriver) SelectSnapshot(_ context.Context, aggType, aggID string) (ces.SnapshotRow, bool, error) {
	row, found := t.d.selectSnapshotLocked(aggType, aggID)
	return row, found, nil
}

func (t *txDriver) UpsertQuery(_ context.Context, aggType, aggID, queryType string, version int64, payload json.RawMessage) error {
	qk := queryKey{aggType: aggType, aggID: aggID, queryType: queryType}
	previous, had := t.d.queries[qk]
	t.d.upsertQueryLocked(aggType, aggID, queryType, version, payload)
	t.undo = append(t.undo, func() {
		if had {
			t.d.queries[qk] = previous
		} else {
			delete(t.d.queries, qk)
		}
	})
	return nil
}

func (t *txDriver) SelectQuery(_ context.Context, aggType, aggID, queryType string) (ces.QueryRow, bool, error) {
	row, found := t.d.selectQueryLocked(aggType, aggID, queryType)
	return row, found, nil
}

var (
	_ ces.Driver              = (*Driver)(nil)
	_ ces.TransactionalDriver = (*Driver)(nil)
)
