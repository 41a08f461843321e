package ces_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventframe/ces"
	"github.com/eventframe/ces/stores/mem"
)

type customerSummary struct {
	Name       string
	EventCount int
}

func (*customerSummary) QueryType() string { return "customer_summary" }

func (s *customerSummary) Update(e ces.Event) {
	switch ev := e.(type) {
	case customerOpened:
		s.Name = ev.Name
	case customerRenamed:
		s.Name = ev.Name
	}
	s.EventCount++
}

func newTestQueryStore() *ces.QueryStore[ces.Event, customerSummary, *customerSummary] {
	driver := mem.New()
	return ces.NewQueryStore[ces.Event, customerSummary, *customerSummary](
		driver, "customer", ces.JSONCodec[customerSummary](),
	)
}

func TestQueryStore_SaveAndLoad_Upsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestQueryStore()

	first := ces.NewQueryContext[*customerSummary]("cust-1", 1, &customerSummary{Name: "Ada"})
	require.NoError(t, store.SaveQuery(ctx, first))

	second := ces.NewQueryContext[*customerSummary]("cust-1", 2, &customerSummary{Name: "Ada L."})
	require.NoError(t, store.SaveQuery(ctx, second))

	loaded, err := store.LoadQuery(ctx, "cust-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), loaded.Version)
	require.Equal(t, "Ada L.", loaded.Payload.Name)
}

func TestQueryStore_LoadQuery_UnknownIsDefaultVersionZero(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestQueryStore()

	loaded, err := store.LoadQuery(ctx, "never-seen")
	require.NoError(t, err)
	require.Equal(t, int64(0), loaded.Version)
	require.Equal(t, "", loaded.Payload.Name)
}

func TestQueryStore_Dispatch_FoldsEventsAndSetsVersionToLastSequence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestQueryStore()

	events := []ces.EventContext[ces.Event]{
		ces.NewEventContext[ces.Event]("cust-2", 1, customerOpened{Name: "Bo"}, nil),
		ces.NewEventContext[ces.Event]("cust-2", 2, customerRenamed{Name: "Bo Jr."}, nil),
	}
	require.NoError(t, store.Dispatch(ctx, "cust-2", events))

	loaded, err := store.LoadQuery(ctx, "cust-2")
	require.NoError(t, err)
	require.Equal(t, int64(2), loaded.Version)
	require.Equal(t, "Bo Jr.", loaded.Payload.Name)
	require.Equal(t, 2, loaded.Payload.EventCount)
}

func TestQueryStore_Dispatch_EmptyBatchIsNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestQueryStore()

	require.NoError(t, store.Dispatch(ctx, "cust-3", nil))

	loaded, err := store.LoadQuery(ctx, "cust-3")
	require.NoError(t, err)
	require.Equal(t, int64(0), loaded.Version)
}
