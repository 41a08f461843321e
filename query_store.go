package ces

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// QueryStoreAPI is the Query Store contract (spec §4.2): persistence plus
// EventDispatcher, so any compliant implementation can be registered with
// a Repository as a post-commit listener.
type QueryStoreAPI[E, Q any] interface {
	SaveQuery(ctx context.Context, qctx QueryContext[Q]) error
	LoadQuery(ctx context.Context, aggregateID string) (QueryContext[Q], error)
	EventDispatcher[E]
}

// QueryStore is the concrete, Driver-backed implementation of
// QueryStoreAPI for one (aggregate type, query type) pair. QT is the
// query's storage type and QP its pointer type (constrained to *QT
// implementing Query[E]) — the same "PT" idiom EventStore uses for
// Aggregate::default().
type QueryStore[E any, QT any, QP interface {
	*QT
	Query[E]
}] struct {
	driver    Driver
	adapter   *queryAdapter[QT]
	aggType   string
	queryType string
	logger    *slog.Logger
	tracer    trace.Tracer
}

// QueryStoreOption configures a QueryStore at construction.
type QueryStoreOption[E any, QT any, QP interface {
	*QT
	Query[E]
}] func(*QueryStore[E, QT, QP])

// WithQueryStoreLogger sets the structured logger used for per-operation
// debug/error records.
func WithQueryStoreLogger[E any, QT any, QP interface {
	*QT
	Query[E]
}](logger *slog.Logger) QueryStoreOption[E, QT, QP] {
	return func(s *QueryStore[E, QT, QP]) { s.logger = logger }
}

// WithQueryStoreTracer sets the tracer used to emit one span per
// Driver-facing operation.
func WithQueryStoreTracer[E any, QT any, QP interface {
	*QT
	Query[E]
}](tracer trace.Tracer) QueryStoreOption[E, QT, QP] {
	return func(s *QueryStore[E, QT, QP]) { s.tracer = tracer }
}

// NewQueryStore builds a QueryStore over driver for projections of kind
// QP addressed by (aggType, aggregate_id, query_type).
func NewQueryStore[E any, QT any, QP interface {
	*QT
	Query[E]
}](driver Driver, aggType string, codec Codec, opts ...QueryStoreOption[E, QT, QP]) *QueryStore[E, QT, QP] {
	var zero QT
	queryType := QP(&zero).QueryType()

	s := &QueryStore[E, QT, QP]{
		driver:    driver,
		adapter:   newQueryAdapter[QT](driver, codec),
		aggType:   aggType,
		queryType: queryType,
		logger:    slog.Default(),
		tracer:    otel.Tracer("ces"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *QueryStore[E, QT, QP]) wrapErr(err error, op, aggregateID string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSerialization) {
		return err
	}
	return &BackendError{Op: op, AggregateType: s.aggType, AggregateID: aggregateID, Err: err}
}

// SaveQuery upserts the projection for context.AggregateID via the
// Driver's idempotent UpsertQuery verb (spec §9 Open Question 3: no
// version==1 insert-vs-update heuristic anywhere in the core).
func (s *QueryStore[E, QT, QP]) SaveQuery(ctx context.Context, qctx QueryContext[QP]) error {
	ctx, span := s.tracer.Start(ctx, "ces.querystore.save_query", trace.WithAttributes(
		attribute.String("ces.aggregate_type", s.aggType),
		attribute.String("ces.aggregate_id", qctx.AggregateID),
		attribute.String("ces.query_type", s.queryType),
		attribute.Int64("ces.version", qctx.Version),
	))
	defer span.End()

	raw, err := s.adapter.encode(qctx.Payload)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := s.driver.UpsertQuery(ctx, s.aggType, qctx.AggregateID, s.queryType, qctx.Version, raw); err != nil {
		err = s.wrapErr(err, "save_query", qctx.AggregateID)
		span.RecordError(err)
		s.logger.Error("ces: save_query failed", "aggregate_type", s.aggType, "aggregate_id", qctx.AggregateID, "query_type", s.queryType, "error", err)
		return err
	}

	s.logger.Debug("ces: save_query committed", "aggregate_type", s.aggType, "aggregate_id", qctx.AggregateID, "query_type", s.queryType, "version", qctx.Version)
	return nil
}

// LoadQuery returns the stored projection, or (aggregateID, 0, default)
// when none exists (spec §8 invariant 3).
func (s *QueryStore[E, QT, QP]) LoadQuery(ctx context.Context, aggregateID string) (QueryContext[QP], error) {
	ctx, span := s.tracer.Start(ctx, "ces.querystore.load_query", trace.WithAttributes(
		attribute.String("ces.aggregate_type", s.aggType),
		attribute.String("ces.aggregate_id", aggregateID),
		attribute.String("ces.query_type", s.queryType),
	))
	defer span.End()

	row, found, err := s.driver.SelectQuery(ctx, s.aggType, aggregateID, s.queryType)
	if err != nil {
		err = s.wrapErr(err, "load_query", aggregateID)
		span.RecordError(err)
		s.logger.Error("ces: load_query failed", "aggregate_type", s.aggType, "aggregate_id", aggregateID, "query_type", s.queryType, "error", err)
		return QueryContext[QP]{}, err
	}
	if !found {
		return NewQueryContext(aggregateID, int64(0), QP(new(QT))), nil
	}

	state, err := s.adapter.decode(row.Payload)
	if err != nil {
		span.RecordError(err)
		return QueryContext[QP]{}, err
	}

	return NewQueryContext(aggregateID, row.Version, QP(&state)), nil
}

// Dispatch satisfies EventDispatcher[E] so a QueryStore can be registered
// directly with a Repository. It delegates to DispatchEvents.
func (s *QueryStore[E, QT, QP]) Dispatch(ctx context.Context, aggregateID string, events []EventContext[E]) error {
	ctx, span := s.tracer.Start(ctx, "ces.querystore.dispatch", trace.WithAttributes(
		attribute.String("ces.aggregate_type", s.aggType),
		attribute.String("ces.aggregate_id", aggregateID),
		attribute.String("ces.query_type", s.queryType),
		attribute.Int("ces.event_count", len(events)),
	))
	defer span.End()

	if err := DispatchEvents[E, QP](ctx, s, aggregateID, events); err != nil {
		span.RecordError(err)
		s.logger.Error("ces: dispatch failed", "aggregate_type", s.aggType, "aggregate_id", aggregateID, "query_type", s.queryType, "error", err)
		return err
	}
	return nil
}
