package ces_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventframe/ces"
	"github.com/eventframe/ces/stores/mem"
)

func newTestRepository(t *testing.T, withSnapshots bool, dispatchers ...ces.EventDispatcher[ces.Event]) (*ces.Repository[ces.Command, ces.Event, customerAccount, *customerAccount], ces.Driver) {
	t.Helper()
	driver := mem.New()
	store := ces.NewEventStore[ces.Command, ces.Event, customerAccount, *customerAccount](
		driver, customerCodecs(),
		ces.WithSnapshots[ces.Command, ces.Event, customerAccount, *customerAccount](withSnapshots),
	)
	repo := ces.NewRepository[ces.Command, ces.Event, customerAccount, *customerAccount](store, dispatchers, withSnapshots)
	return repo, driver
}

// S1: a fresh stream accepts its first command and persists exactly the
// events Handle returns, starting sequencing at 1.
func TestRepository_FreshStream(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, driver := newTestRepository(t, false)

	require.NoError(t, repo.Execute(ctx, "cust-1", openCustomer{Name: "Ada"}))

	rows, err := driver.SelectEventsOnly(ctx, "customer", "cust-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(1), rows[0].Sequence)
}

// S2: extending an existing stream appends at the next sequence and replay
// reflects every committed event in order.
func TestRepository_ExtendStream(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, driver := newTestRepository(t, false)

	require.NoError(t, repo.Execute(ctx, "cust-2", openCustomer{Name: "Bo"}))
	require.NoError(t, repo.Execute(ctx, "cust-2", renameCustomer{Name: "Bo Jr."}))

	rows, err := driver.SelectEventsOnly(ctx, "customer", "cust-2")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, int64(1), rows[0].Sequence)
	require.Equal(t, int64(2), rows[1].Sequence)
}

// S3: a domain refusal (Handle returns an error) leaves the stream
// completely unchanged — invariant 7, error surfacing without partial
// writes.
func TestRepository_DomainRefusal_LeavesStreamUnchanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, driver := newTestRepository(t, false)

	err := repo.Execute(ctx, "cust-3", renameCustomer{Name: "no one home"})
	require.Error(t, err)

	rows, selErr := driver.SelectEventsOnly(ctx, "customer", "cust-3")
	require.NoError(t, selErr)
	require.Empty(t, rows)
}

// S4: with snapshots off, Execute replays purely from the event stream and
// still sees prior commits.
func TestRepository_NoSnapshotReplay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, _ := newTestRepository(t, false)

	require.NoError(t, repo.Execute(ctx, "cust-4", openCustomer{Name: "Cy"}))
	require.NoError(t, repo.Execute(ctx, "cust-4", renameCustomer{Name: "Cy Prime"}))

	// A third command only succeeds if both earlier events were replayed:
	// Handle refuses a rename on an unopened customer, and the new event is
	// sequenced after the highest replayed sequence, so a missed event
	// would collide with a stored one.
	require.NoError(t, repo.Execute(ctx, "cust-4", renameCustomer{Name: "Cy II"}))
}

func TestRepository_WithSnapshots_CommitsSnapshotAfterEachExecute(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, driver := newTestRepository(t, true)

	require.NoError(t, repo.Execute(ctx, "cust-5", openCustomer{Name: "Dee"}))

	row, found, err := driver.SelectSnapshot(ctx, "customer", "cust-5")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(1), row.Version)
}

// Invariant 6: dispatchers run in registration order and the first error
// aborts the remaining ones.
type orderingDispatcher struct {
	name    string
	calls   *[]string
	failErr error
}

func (d *orderingDispatcher) Dispatch(_ context.Context, _ string, _ []ces.EventContext[ces.Event]) error {
	*d.calls = append(*d.calls, d.name)
	return d.failErr
}

func TestRepository_Dispatchers_RunInOrder_AbortOnFirstError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var calls []string
	boom := errors.New("boom")
	first := &orderingDispatcher{name: "first", calls: &calls}
	second := &orderingDispatcher{name: "second", calls: &calls, failErr: boom}
	third := &orderingDispatcher{name: "third", calls: &calls}

	repo, _ := newTestRepository(t, false, first, second, third)

	err := repo.Execute(ctx, "cust-6", openCustomer{Name: "Eve"})
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"first", "second"}, calls)
}

func TestRepository_ExecuteWithMetadata_AttachesMetadataToEachEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, driver := newTestRepository(t, false)

	md := ces.Metadata{"tenant_id": "t1", "user_id": "u1"}
	require.NoError(t, repo.ExecuteWithMetadata(ctx, "cust-7", openCustomer{Name: "Fay"}, md))

	rows, err := driver.SelectEventsWithMetadata(ctx, "customer", "cust-7")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.JSONEq(t, `{"tenant_id":"t1","user_id":"u1"}`, string(rows[0].Metadata))
}
