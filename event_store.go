package ces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EventStoreAPI is the Event Store contract (spec §4.1): the operations a
// Repository or CachedEventStore depend on, independent of whether the
// concrete implementation talks to a Driver, a cache, or wraps another
// EventStoreAPI.
type EventStoreAPI[E, A any] interface {
	SaveEvents(ctx context.Context, contexts []EventContext[E]) error
	LoadEvents(ctx context.Context, aggregateID string) ([]EventContext[E], error)
	SaveAggregateSnapshot(ctx context.Context, ctxVal AggregateContext[A]) error
	LoadAggregateFromSnapshot(ctx context.Context, aggregateID string) (AggregateContext[A], error)
}

// TransactionalDriver is the optional capability a Driver implements to
// get atomic multi-event commits. When absent, EventStore falls back to
// strictly ordered inserts against the plain Driver, stopping at the first
// failing insert and leaving the earlier inserts of the batch in place; a
// sequence collision surfaces as ErrConflict, any other driver failure as
// a *BackendError.
type TransactionalDriver interface {
	Driver
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Driver) error) error
}

// EventStore is the concrete, Driver-backed implementation of
// EventStoreAPI. It is generic over the command type C, the event type E,
// the aggregate's storage type T, and its pointer type A (constrained to
// *T implementing Aggregate[C,E]) — the "PT" idiom that stands in for
// Aggregate::default() without reflection (SPEC_FULL §4).
type EventStore[C, E any, T any, A interface {
	*T
	Aggregate[C, E]
}] struct {
	driver        Driver
	codecs        map[string]Codec
	adapter       *eventAdapter[E]
	aggType       string
	withSnapshots bool
	extractor     MetadataExtractor
	logger        *slog.Logger
	tracer        trace.Tracer
}

// EventStoreOption configures an EventStore at construction.
type EventStoreOption[C, E any, T any, A interface {
	*T
	Aggregate[C, E]
}] func(*EventStore[C, E, T, A])

// WithSnapshots records whether this store is used in snapshot mode. Off
// by default. EventStore itself does not act on it: SaveEvents never
// writes a snapshot. The post-commit snapshot write is done by Repository
// when its own withSnapshots flag is on.
func WithSnapshots[C, E any, T any, A interface {
	*T
	Aggregate[C, E]
}](on bool) EventStoreOption[C, E, T, A] {
	return func(s *EventStore[C, E, T, A]) { s.withSnapshots = on }
}

// WithEventStoreMetadataExtractor sets a function that builds Metadata
// from context; SaveEvents merges extracted metadata with each event's
// explicit metadata, with explicit keys taking precedence.
func WithEventStoreMetadataExtractor[C, E any, T any, A interface {
	*T
	Aggregate[C, E]
}](ex MetadataExtractor) EventStoreOption[C, E, T, A] {
	return func(s *EventStore[C, E, T, A]) { s.extractor = ex }
}

// WithEventStoreLogger sets the structured logger used for per-operation
// debug/error records (spec §7).
func WithEventStoreLogger[C, E any, T any, A interface {
	*T
	Aggregate[C, E]
}](logger *slog.Logger) EventStoreOption[C, E, T, A] {
	return func(s *EventStore[C, E, T, A]) { s.logger = logger }
}

// WithEventStoreTracer sets the tracer used to emit one span per
// Driver-facing operation.
func WithEventStoreTracer[C, E any, T any, A interface {
	*T
	Aggregate[C, E]
}](tracer trace.Tracer) EventStoreOption[C, E, T, A] {
	return func(s *EventStore[C, E, T, A]) { s.tracer = tracer }
}

// NewEventStore builds an EventStore over driver, registering codecs keyed
// by event type name (see EventType).
func NewEventStore[C, E any, T any, A interface {
	*T
	Aggregate[C, E]
}](driver Driver, codecs map[string]Codec, opts ...EventStoreOption[C, E, T, A]) *EventStore[C, E, T, A] {
	var zero T
	aggType := A(&zero).AggregateType()

	s := &EventStore[C, E, T, A]{
		driver:  driver,
		codecs:  codecs,
		adapter: newEventAdapter[E](driver, codecs),
		aggType: aggType,
		logger:  slog.Default(),
		tracer:  otel.Tracer("ces"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *EventStore[C, E, T, A]) wrapErr(err error, op, aggregateID string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrSerialization) {
		return err
	}
	return &BackendError{Op: op, AggregateType: s.aggType, AggregateID: aggregateID, Err: err}
}

// SaveEvents persists a batch of events belonging to one aggregate,
// assigning no new sequences itself — callers (typically Repository) have
// already sequenced the batch via wrapEvents. An empty batch is a no-op
// success that never touches the Driver (spec §4.1 "tie-break policy").
func (s *EventStore[C, E, T, A]) SaveEvents(ctx context.Context, contexts []EventContext[E]) error {
	if len(contexts) == 0 {
		return nil
	}

	aggregateID := contexts[0].AggregateID

	ctx, span := s.tracer.Start(ctx, "ces.eventstore.save_events", trace.WithAttributes(
		attribute.String("ces.aggregate_type", s.aggType),
		attribute.String("ces.aggregate_id", aggregateID),
		attribute.Int("ces.event_count", len(contexts)),
	))
	defer span.End()

	insertAll := func(ctx context.Context, driver Driver) error {
		adapter := s.adapter
		if driver != s.driver {
			adapter = newEventAdapter[E](driver, s.codecs)
		}
		for _, c := range contexts {
			md := c.Metadata
			if s.extractor != nil {
				md = s.extractor(ctx).Merge(md)
			}
			envelope, meta, err := adapter.encode(c.Payload, md)
			if err != nil {
				return err
			}
			if err := driver.InsertEvent(ctx, s.aggType, aggregateID, c.Sequence, envelope, meta); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if tx, ok := s.driver.(TransactionalDriver); ok {
		err = tx.WithinTx(ctx, insertAll)
	} else {
		err = insertAll(ctx, s.driver)
	}
	err = s.wrapErr(err, "save_events", aggregateID)

	if err != nil {
		span.RecordError(err)
		s.logger.Error("ces: save_events failed", "aggregate_type", s.aggType, "aggregate_id", aggregateID, "error", err)
		return err
	}

	s.logger.Debug("ces: save_events committed", "aggregate_type", s.aggType, "aggregate_id", aggregateID, "count", len(contexts))
	return nil
}

// LoadEvents returns every event for the aggregate, ordered by sequence
// ascending. An absent aggregate yields an empty, non-error result (spec
// §8 invariant 3).
func (s *EventStore[C, E, T, A]) LoadEvents(ctx context.Context, aggregateID string) ([]EventContext[E], error) {
	ctx, span := s.tracer.Start(ctx, "ces.eventstore.load_events", trace.WithAttributes(
		attribute.String("ces.aggregate_type", s.aggType),
		attribute.String("ces.aggregate_id", aggregateID),
	))
	defer span.End()

	rows, err := s.driver.SelectEventsWithMetadata(ctx, s.aggType, aggregateID)
	if err != nil {
		err = s.wrapErr(err, "load_events", aggregateID)
		span.RecordError(err)
		s.logger.Error("ces: load_events failed", "aggregate_type", s.aggType, "aggregate_id", aggregateID, "error", err)
		return nil, err
	}

	contexts, err := s.adapter.rowsToContexts(aggregateID, rows)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("ces: load_events decode failed", "aggregate_type", s.aggType, "aggregate_id", aggregateID, "error", err)
		return nil, err
	}
	return contexts, nil
}

// SaveAggregateSnapshot upserts the single snapshot row for the aggregate.
// Per spec §9 Open Question 1, the caller must pass ctxVal.Version equal
// to the sequence of the last event folded into ctxVal.Payload.
func (s *EventStore[C, E, T, A]) SaveAggregateSnapshot(ctx context.Context, ctxVal AggregateContext[A]) error {
	ctx, span := s.tracer.Start(ctx, "ces.eventstore.save_snapshot", trace.WithAttributes(
		attribute.String("ces.aggregate_type", s.aggType),
		attribute.String("ces.aggregate_id", ctxVal.AggregateID),
		attribute.Int64("ces.version", ctxVal.Version),
	))
	defer span.End()

	raw, err := json.Marshal(ctxVal.Payload)
	if err != nil {
		err = fmt.Errorf("%w: encode snapshot for %s: %v", ErrSerialization, ctxVal.AggregateID, err)
		span.RecordError(err)
		return err
	}

	if err := s.driver.UpsertSnapshot(ctx, s.aggType, ctxVal.AggregateID, ctxVal.Version, raw); err != nil {
		err = s.wrapErr(err, "save_aggregate_snapshot", ctxVal.AggregateID)
		span.RecordError(err)
		s.logger.Error("ces: save_aggregate_snapshot failed", "aggregate_type", s.aggType, "aggregate_id", ctxVal.AggregateID, "error", err)
		return err
	}

	s.logger.Debug("ces: save_aggregate_snapshot committed", "aggregate_type", s.aggType, "aggregate_id", ctxVal.AggregateID, "version", ctxVal.Version)
	return nil
}

// LoadAggregateFromSnapshot returns the stored snapshot, or
// (aggregateID, 0, default) when none exists (spec §8 invariant 3).
func (s *EventStore[C, E, T, A]) LoadAggregateFromSnapshot(ctx context.Context, aggregateID string) (AggregateContext[A], error) {
	ctx, span := s.tracer.Start(ctx, "ces.eventstore.load_snapshot", trace.WithAttributes(
		attribute.String("ces.aggregate_type", s.aggType),
		attribute.String("ces.aggregate_id", aggregateID),
	))
	defer span.End()

	row, found, err := s.driver.SelectSnapshot(ctx, s.aggType, aggregateID)
	if err != nil {
		err = s.wrapErr(err, "load_aggregate_from_snapshot", aggregateID)
		span.RecordError(err)
		s.logger.Error("ces: load_aggregate_from_snapshot failed", "aggregate_type", s.aggType, "aggregate_id", aggregateID, "error", err)
		return AggregateContext[A]{}, err
	}
	if !found {
		return NewAggregateContext(aggregateID, int64(0), A(new(T))), nil
	}

	var state T
	if err := json.Unmarshal(row.Payload, &state); err != nil {
		err = fmt.Errorf("%w: decode snapshot for %s: %v", ErrSerialization, aggregateID, err)
		span.RecordError(err)
		return AggregateContext[A]{}, err
	}

	return NewAggregateContext(aggregateID, row.Version, A(&state)), nil
}
