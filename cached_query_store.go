package ces

import (
	"context"
	"log/slog"
)

// CachedQueryStore composes two QueryStoreAPI instances of the same shape
// (spec §4.4), following the same write-through/read-through contract as
// CachedEventStore: saves hit the durable store first, then the cache, so a
// durable failure leaves the cache untouched; loads try the cache and fall
// through to the durable store on a miss without back-filling.
type CachedQueryStore[E any, Q Query[E]] struct {
	store  QueryStoreAPI[E, Q]
	cache  QueryStoreAPI[E, Q]
	logger *slog.Logger
}

// NewCachedQueryStore wraps store with cache.
func NewCachedQueryStore[E any, Q Query[E]](store, cache QueryStoreAPI[E, Q]) *CachedQueryStore[E, Q] {
	return &CachedQueryStore[E, Q]{store: store, cache: cache, logger: slog.Default()}
}

// WithCachedQueryStoreLogger sets the structured logger used to record
// cache hits and misses.
func (s *CachedQueryStore[E, Q]) WithCachedQueryStoreLogger(logger *slog.Logger) *CachedQueryStore[E, Q] {
	s.logger = logger
	return s
}

// SaveQuery writes the durable store first, then the cache. If the durable
// write fails, the cache is left untouched.
func (s *CachedQueryStore[E, Q]) SaveQuery(ctx context.Context, qctx QueryContext[Q]) error {
	if err := s.store.SaveQuery(ctx, qctx); err != nil {
		return err
	}
	return s.cache.SaveQuery(ctx, qctx)
}

// LoadQuery tries the cache first. A miss (Version == 0) falls through to
// the durable store without back-filling the cache.
func (s *CachedQueryStore[E, Q]) LoadQuery(ctx context.Context, aggregateID string) (QueryContext[Q], error) {
	result, err := s.cache.LoadQuery(ctx, aggregateID)
	if err != nil {
		return QueryContext[Q]{}, err
	}

	if result.Version == 0 {
		s.logger.Debug("ces: query cache miss", "aggregate_id", aggregateID)
		return s.store.LoadQuery(ctx, aggregateID)
	}

	s.logger.Debug("ces: query cache hit", "aggregate_id", aggregateID)
	return result, nil
}

// Dispatch satisfies EventDispatcher[E] by delegating to the fold-and-save
// helper against this composed store, so a CachedQueryStore can itself be
// registered with a Repository.
func (s *CachedQueryStore[E, Q]) Dispatch(ctx context.Context, aggregateID string, events []EventContext[E]) error {
	return DispatchEvents[E, Q](ctx, s, aggregateID, events)
}
