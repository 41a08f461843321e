package ces_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventframe/ces"
)

// failingQueryStore always fails SaveQuery, standing in for a durable store
// that is unreachable.
type failingQueryStore struct{}

func (failingQueryStore) SaveQuery(context.Context, ces.QueryContext[*customerSummary]) error {
	return errors.New("durable store unreachable")
}

func (failingQueryStore) LoadQuery(context.Context, string) (ces.QueryContext[*customerSummary], error) {
	return ces.QueryContext[*customerSummary]{}, nil
}

func (failingQueryStore) Dispatch(context.Context, string, []ces.EventContext[ces.Event]) error {
	return nil
}

func TestCachedQueryStore_WriteThroughThenCacheHit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	durable := newTestQueryStore()
	cache := newTestQueryStore()
	cached := ces.NewCachedQueryStore[ces.Event, *customerSummary](durable, cache)

	qctx := ces.NewQueryContext[*customerSummary]("cust-1", 1, &customerSummary{Name: "Ada"})
	require.NoError(t, cached.SaveQuery(ctx, qctx))

	durableLoaded, err := durable.LoadQuery(ctx, "cust-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), durableLoaded.Version)

	cacheLoaded, err := cache.LoadQuery(ctx, "cust-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), cacheLoaded.Version)

	loaded, err := cached.LoadQuery(ctx, "cust-1")
	require.NoError(t, err)
	require.Equal(t, "Ada", loaded.Payload.Name)
}

func TestCachedQueryStore_CacheMissFallsThroughWithoutBackfill(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	durable := newTestQueryStore()
	cache := newTestQueryStore()
	cached := ces.NewCachedQueryStore[ces.Event, *customerSummary](durable, cache)

	require.NoError(t, durable.SaveQuery(ctx, ces.NewQueryContext[*customerSummary]("cust-2", 1, &customerSummary{Name: "Bo"})))

	loaded, err := cached.LoadQuery(ctx, "cust-2")
	require.NoError(t, err)
	require.Equal(t, int64(1), loaded.Version)
	require.Equal(t, "Bo", loaded.Payload.Name)

	stillMissing, err := cache.LoadQuery(ctx, "cust-2")
	require.NoError(t, err)
	require.Equal(t, int64(0), stillMissing.Version)
}

func TestCachedQueryStore_Dispatch_FoldsThroughCacheAndStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	durable := newTestQueryStore()
	cache := newTestQueryStore()
	cached := ces.NewCachedQueryStore[ces.Event, *customerSummary](durable, cache)

	events := []ces.EventContext[ces.Event]{
		ces.NewEventContext[ces.Event]("cust-3", 1, customerOpened{Name: "Cy"}, nil),
	}
	require.NoError(t, cached.Dispatch(ctx, "cust-3", events))

	loaded, err := durable.LoadQuery(ctx, "cust-3")
	require.NoError(t, err)
	require.Equal(t, int64(1), loaded.Version)
	require.Equal(t, "Cy", loaded.Payload.Name)
}

// Invariant 5: a durable-side failure leaves neither the durable store nor
// the cache reflecting the write (spec §4.4 durable-first ordering).
func TestCachedQueryStore_SaveQuery_DurableFailureLeavesCacheUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	durable := failingQueryStore{}
	cache := newTestQueryStore()
	cached := ces.NewCachedQueryStore[ces.Event, *customerSummary](durable, cache)

	qctx := ces.NewQueryContext[*customerSummary]("cust-4", 1, &customerSummary{Name: "Dee"})
	err := cached.SaveQuery(ctx, qctx)
	require.Error(t, err)

	cacheLoaded, loadErr := cache.LoadQuery(ctx, "cust-4")
	require.NoError(t, loadErr)
	require.Equal(t, int64(0), cacheLoaded.Version)
}
