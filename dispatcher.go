package ces

import "context"

// EventDispatcher is a post-commit listener that receives freshly
// committed event contexts for one aggregate. A QueryStore satisfies this
// interface so it can be registered with a Repository as an ordinary
// dispatcher (spec §2 item 4, §6).
type EventDispatcher[E any] interface {
	Dispatch(ctx context.Context, aggregateID string, events []EventContext[E]) error
}

// queryAccessor is the minimal surface DispatchEvents needs from a
// Query-Store implementer: load the current projection, fold events into
// it, and save the result back.
type queryAccessor[E, Q any] interface {
	LoadQuery(ctx context.Context, aggregateID string) (QueryContext[Q], error)
	SaveQuery(ctx context.Context, qctx QueryContext[Q]) error
}

// DispatchEvents is the shared fold-and-save helper spec §6 calls out as
// "provided for Query-Store implementers": load the current query, apply
// each event's Update in order, set the version to the last applied
// event's sequence (spec §9 Open Question 2), and save. Dispatching an
// empty batch is a no-op that touches neither load nor save.
func DispatchEvents[E any, Q Query[E]](
	ctx context.Context,
	store queryAccessor[E, Q],
	aggregateID string,
	events []EventContext[E],
) error {
	if len(events) == 0 {
		return nil
	}

	qctx, err := store.LoadQuery(ctx, aggregateID)
	if err != nil {
		return err
	}

	for _, e := range events {
		qctx.Payload.Update(e.Payload)
		qctx.Version = e.Sequence
	}

	return store.SaveQuery(ctx, qctx)
}
