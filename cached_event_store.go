package ces

import (
	"context"
	"log/slog"
)

// CachedEventStore composes two EventStoreAPI instances of the same shape
// (spec §4.4): a fast, possibly-volatile cache in front of a durable
// store. Saves go to the durable store first, then the cache, so a durable
// failure leaves the cache untouched; snapshot loads are read-through with
// the durable store on a cache miss. Event loads always go straight to the
// durable store — the events table is the source of truth, so the cache's
// copy of the event stream is written but never read through this type.
type CachedEventStore[C, E any, T any, A interface {
	*T
	Aggregate[C, E]
}] struct {
	store  EventStoreAPI[E, A]
	cache  EventStoreAPI[E, A]
	logger *slog.Logger
}

// NewCachedEventStore wraps store with cache. cache.LoadAggregateFromSnapshot
// must return Version == 0 to signal "not present" (the same miss contract
// every EventStoreAPI implementation already honors).
func NewCachedEventStore[C, E any, T any, A interface {
	*T
	Aggregate[C, E]
}](store, cache EventStoreAPI[E, A]) *CachedEventStore[C, E, T, A] {
	return &CachedEventStore[C, E, T, A]{store: store, cache: cache, logger: slog.Default()}
}

// WithCachedEventStoreLogger sets the structured logger used to record
// cache hits and misses.
func (s *CachedEventStore[C, E, T, A]) WithCachedEventStoreLogger(logger *slog.Logger) *CachedEventStore[C, E, T, A] {
	s.logger = logger
	return s
}

// SaveEvents writes the durable store first, then the cache. If the
// durable write fails, the cache is left untouched.
func (s *CachedEventStore[C, E, T, A]) SaveEvents(ctx context.Context, contexts []EventContext[E]) error {
	if err := s.store.SaveEvents(ctx, contexts); err != nil {
		return err
	}
	return s.cache.SaveEvents(ctx, contexts)
}

// LoadEvents always reads the durable store.
func (s *CachedEventStore[C, E, T, A]) LoadEvents(ctx context.Context, aggregateID string) ([]EventContext[E], error) {
	return s.store.LoadEvents(ctx, aggregateID)
}

// SaveAggregateSnapshot writes the durable store first, then the cache. If
// the durable write fails, the cache is left untouched.
func (s *CachedEventStore[C, E, T, A]) SaveAggregateSnapshot(ctx context.Context, ctxVal AggregateContext[A]) error {
	if err := s.store.SaveAggregateSnapshot(ctx, ctxVal); err != nil {
		return err
	}
	return s.cache.SaveAggregateSnapshot(ctx, ctxVal)
}

// LoadAggregateFromSnapshot tries the cache first. A miss (Version == 0)
// falls through to the durable store; the result is not back-filled into
// the cache (spec §9 Open Question 3 — the cache is a write-through
// accelerator, not a self-healing one).
func (s *CachedEventStore[C, E, T, A]) LoadAggregateFromSnapshot(ctx context.Context, aggregateID string) (AggregateContext[A], error) {
	result, err := s.cache.LoadAggregateFromSnapshot(ctx, aggregateID)
	if err != nil {
		return AggregateContext[A]{}, err
	}

	if result.Version == 0 {
		s.logger.Debug("ces: snapshot cache miss", "aggregate_id", aggregateID)
		return s.store.LoadAggregateFromSnapshot(ctx, aggregateID)
	}

	s.logger.Debug("ces: snapshot cache hit", "aggregate_id", aggregateID)
	return result, nil
}
