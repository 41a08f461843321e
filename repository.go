package ces

import (
	"context"
	"log/slog"
)

// Repository is the top-level orchestrator (spec §4.3): given an
// aggregate id and a command, it reconstitutes the aggregate, hands the
// command to it, commits the resulting events, and fans them out to a
// configured, ordered set of EventDispatchers.
//
// A Repository exclusively owns one EventStoreAPI and its dispatcher list
// (spec §3 "Ownership"); WithSnapshots must agree with how the underlying
// EventStoreAPI was itself constructed.
type Repository[C, E any, T any, A interface {
	*T
	Aggregate[C, E]
}] struct {
	store         EventStoreAPI[E, A]
	dispatchers   []EventDispatcher[E]
	withSnapshots bool
	logger        *slog.Logger
}

// NewRepository builds a Repository around store, invoking dispatchers
// serially, in order, after every successful commit (spec §9 "Dispatcher
// list ownership... a parallel-dispatch variant is explicitly not in
// scope"). withSnapshots must match the mode the store itself uses.
func NewRepository[C, E any, T any, A interface {
	*T
	Aggregate[C, E]
}](store EventStoreAPI[E, A], dispatchers []EventDispatcher[E], withSnapshots bool) *Repository[C, E, T, A] {
	return &Repository[C, E, T, A]{
		store:         store,
		dispatchers:   dispatchers,
		withSnapshots: withSnapshots,
		logger:        slog.Default(),
	}
}

// WithRepositoryLogger sets the structured logger Repository uses for its
// per-execution debug/error records.
func (r *Repository[C, E, T, A]) WithRepositoryLogger(logger *slog.Logger) *Repository[C, E, T, A] {
	r.logger = logger
	return r
}

// Execute is ExecuteWithMetadata with an empty metadata mapping.
func (r *Repository[C, E, T, A]) Execute(ctx context.Context, aggregateID string, command C) error {
	return r.ExecuteWithMetadata(ctx, aggregateID, command, nil)
}

// ExecuteWithMetadata runs the full command-execution protocol (spec §4.3):
//
//  1. load the aggregate (from snapshot, or by replaying events),
//  2. hand the command to Aggregate.Handle,
//  3. short-circuit on an empty event batch,
//  4. sequence and wrap the new events with metadata,
//  5. persist them,
//  6. snapshot, if enabled,
//  7. dispatch the committed events to every configured EventDispatcher
//     in order, aborting on the first dispatcher error.
//
// Every step is fail-fast and none is retried internally. A failure after
// step 5 leaves events durable but projections stale — callers treat
// dispatcher errors as "projection is stale" and may re-drive by
// replaying events.
func (r *Repository[C, E, T, A]) ExecuteWithMetadata(ctx context.Context, aggregateID string, command C, metadata Metadata) error {
	loaded, err := r.loadAggregate(ctx, aggregateID)
	if err != nil {
		r.logger.Error("ces: load aggregate failed", "aggregate_id", aggregateID, "error", err)
		return err
	}

	events, err := A(loaded.Payload).Handle(command)
	if err != nil {
		r.logger.Error("ces: handle command failed", "aggregate_id", aggregateID, "error", err)
		return err
	}

	if len(events) == 0 {
		return nil
	}

	eventContexts := wrapEvents(aggregateID, loaded.Version, events, metadata)

	if err := r.store.SaveEvents(ctx, eventContexts); err != nil {
		r.logger.Error("ces: save events failed", "aggregate_id", aggregateID, "error", err)
		return err
	}

	if r.withSnapshots {
		aggregate := loaded.Payload
		for _, ec := range eventContexts {
			aggregate.Apply(ec.Payload)
		}
		lastSequence := eventContexts[len(eventContexts)-1].Sequence
		if err := r.store.SaveAggregateSnapshot(ctx, NewAggregateContext(aggregateID, lastSequence, aggregate)); err != nil {
			r.logger.Error("ces: save snapshot failed", "aggregate_id", aggregateID, "error", err)
			return err
		}
	}

	for _, d := range r.dispatchers {
		if err := d.Dispatch(ctx, aggregateID, eventContexts); err != nil {
			r.logger.Error("ces: dispatcher failed", "aggregate_id", aggregateID, "error", err)
			return err
		}
	}

	r.logger.Debug("ces: executed command", "aggregate_id", aggregateID, "events", len(eventContexts))
	return nil
}

func (r *Repository[C, E, T, A]) loadAggregate(ctx context.Context, aggregateID string) (AggregateContext[A], error) {
	if r.withSnapshots {
		return r.store.LoadAggregateFromSnapshot(ctx, aggregateID)
	}
	return r.loadAggregateFromEvents(ctx, aggregateID)
}

func (r *Repository[C, E, T, A]) loadAggregateFromEvents(ctx context.Context, aggregateID string) (AggregateContext[A], error) {
	contexts, err := r.store.LoadEvents(ctx, aggregateID)
	if err != nil {
		return AggregateContext[A]{}, err
	}

	aggregate := A(new(T))
	if len(contexts) == 0 {
		return NewAggregateContext(aggregateID, int64(0), aggregate), nil
	}

	for _, ec := range contexts {
		aggregate.Apply(ec.Payload)
	}

	return NewAggregateContext(aggregateID, contexts[len(contexts)-1].Sequence, aggregate), nil
}

// wrapEvents assigns sequences currentSequence+1..currentSequence+len(events)
// to events, in order, attaching metadata to each (spec §4.3 step 4).
func wrapEvents[E any](aggregateID string, currentSequence int64, events []E, metadata Metadata) []EventContext[E] {
	out := make([]EventContext[E], 0, len(events))
	seq := currentSequence
	for _, e := range events {
		seq++
		out = append(out, NewEventContext(aggregateID, seq, e, metadata))
	}
	return out
}
