package ces_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventframe/ces"
	"github.com/eventframe/ces/stores/mem"
)

func newTestEventStoreAPI() ces.EventStoreAPI[ces.Event, *customerAccount] {
	return ces.NewEventStore[ces.Command, ces.Event, customerAccount, *customerAccount](
		mem.New(), customerCodecs(),
		ces.WithSnapshots[ces.Command, ces.Event, customerAccount, *customerAccount](true),
	)
}

// failingEventStore always fails SaveAggregateSnapshot, standing in for a
// durable store that is unreachable.
type failingEventStore struct{}

func (failingEventStore) SaveEvents(context.Context, []ces.EventContext[ces.Event]) error {
	return nil
}

func (failingEventStore) LoadEvents(context.Context, string) ([]ces.EventContext[ces.Event], error) {
	return nil, nil
}

func (failingEventStore) SaveAggregateSnapshot(context.Context, ces.AggregateContext[*customerAccount]) error {
	return errors.New("durable store unreachable")
}

func (failingEventStore) LoadAggregateFromSnapshot(context.Context, string) (ces.AggregateContext[*customerAccount], error) {
	return ces.AggregateContext[*customerAccount]{}, nil
}

// S6: a write lands in both the cache and the durable store, and a
// subsequent read is served from the cache (invariant 5, write-through).
func TestCachedEventStore_WriteThroughThenCacheHit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	durable := newTestEventStoreAPI()
	cache := newTestEventStoreAPI()
	cached := ces.NewCachedEventStore[ces.Command, ces.Event, customerAccount, *customerAccount](durable, cache)

	snapshot := ces.NewAggregateContext[*customerAccount]("cust-1", 1, &customerAccount{ID: "cust-1", Name: "Ada"})
	require.NoError(t, cached.SaveAggregateSnapshot(ctx, snapshot))

	durableLoaded, err := durable.LoadAggregateFromSnapshot(ctx, "cust-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), durableLoaded.Version)

	cacheLoaded, err := cache.LoadAggregateFromSnapshot(ctx, "cust-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), cacheLoaded.Version)

	loaded, err := cached.LoadAggregateFromSnapshot(ctx, "cust-1")
	require.NoError(t, err)
	require.Equal(t, "Ada", loaded.Payload.Name)
}

// A cache miss falls through to the durable store and is not back-filled
// into the cache (spec §9 Open Question 3).
func TestCachedEventStore_CacheMissFallsThroughWithoutBackfill(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	durable := newTestEventStoreAPI()
	cache := newTestEventStoreAPI()
	cached := ces.NewCachedEventStore[ces.Command, ces.Event, customerAccount, *customerAccount](durable, cache)

	require.NoError(t, durable.SaveAggregateSnapshot(ctx, ces.NewAggregateContext[*customerAccount]("cust-2", 1, &customerAccount{ID: "cust-2", Name: "Bo"})))

	loaded, err := cached.LoadAggregateFromSnapshot(ctx, "cust-2")
	require.NoError(t, err)
	require.Equal(t, int64(1), loaded.Version)
	require.Equal(t, "Bo", loaded.Payload.Name)

	stillMissing, err := cache.LoadAggregateFromSnapshot(ctx, "cust-2")
	require.NoError(t, err)
	require.Equal(t, int64(0), stillMissing.Version)
}

func TestCachedEventStore_LoadEvents_AlwaysGoesToDurableStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	durable := newTestEventStoreAPI()
	cache := newTestEventStoreAPI()
	cached := ces.NewCachedEventStore[ces.Command, ces.Event, customerAccount, *customerAccount](durable, cache)

	events := []ces.EventContext[ces.Event]{
		ces.NewEventContext[ces.Event]("cust-3", 1, customerOpened{Name: "Cy"}, nil),
	}
	// Saved to the durable store only, so a read served from the cache
	// would come back empty.
	require.NoError(t, durable.SaveEvents(ctx, events))

	loaded, err := cached.LoadEvents(ctx, "cust-3")
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	fromCache, err := cache.LoadEvents(ctx, "cust-3")
	require.NoError(t, err)
	require.Empty(t, fromCache)
}

// Invariant 5: a durable-side failure leaves neither the durable store nor
// the cache reflecting the write (spec §4.4 durable-first ordering).
func TestCachedEventStore_SaveAggregateSnapshot_DurableFailureLeavesCacheUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	durable := failingEventStore{}
	cache := newTestEventStoreAPI()
	cached := ces.NewCachedEventStore[ces.Command, ces.Event, customerAccount, *customerAccount](durable, cache)

	snapshot := ces.NewAggregateContext[*customerAccount]("cust-4", 1, &customerAccount{ID: "cust-4", Name: "Dee"})
	err := cached.SaveAggregateSnapshot(ctx, snapshot)
	require.Error(t, err)

	cacheLoaded, loadErr := cache.LoadAggregateFromSnapshot(ctx, "cust-4")
	require.NoError(t, loadErr)
	require.Equal(t, int64(0), cacheLoaded.Version)
}
