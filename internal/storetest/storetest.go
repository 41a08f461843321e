// Package storetest is a backend-independent compliance suite run against
// every ces.Driver implementation. It exercises the Driver contract
// directly — one level below ces.EventStore/ces.QueryStore — so the same
// suite drives both stores/mem and stores/pgx without either depending on
// the other.
package storetest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventframe/ces"
)

// Factory creates a fresh, isolated Driver instance for one subtest. Use
// t.Cleanup in the factory for teardown if the backend needs it.
type Factory func(t *testing.T) ces.Driver

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

// Run executes the full Driver compliance suite. Subtests run in
// parallel, so the Driver under test must be safe for concurrent use.
func Run(t *testing.T, newDriver Factory) {
	t.Run("monotonic sequencing", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		d := newDriver(t)

		const aggType, aggID = "account", "A"

		for seq := int64(1); seq <= 3; seq++ {
			require.NoError(t, d.InsertEvent(ctx, aggType, aggID, seq, payload(t, map[string]int64{"seq": seq}), payload(t, map[string]string{})))
		}

		rows, err := d.SelectEventsOnly(ctx, aggType, aggID)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		for i, row := range rows {
			require.Equal(t, int64(i+1), row.Sequence)
		}
	})

	t.Run("duplicate sequence is a conflict", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		d := newDriver(t)

		const aggType, aggID = "account", "B"

		require.NoError(t, d.InsertEvent(ctx, aggType, aggID, 1, payload(t, map[string]int{"n": 1}), payload(t, map[string]string{})))

		err := d.InsertEvent(ctx, aggType, aggID, 1, payload(t, map[string]int{"n": 2}), payload(t, map[string]string{}))
		require.ErrorIs(t, err, ces.ErrConflict)
	})

	t.Run("select events with metadata", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		d := newDriver(t)

		const aggType, aggID = "account", "C"

		md := payload(t, map[string]string{"time": "2021-03-18T12:32:45.930Z"})
		require.NoError(t, d.InsertEvent(ctx, aggType, aggID, 1, payload(t, map[string]int{"n": 1}), md))

		rows, err := d.SelectEventsWithMetadata(ctx, aggType, aggID)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.JSONEq(t, string(md), string(rows[0].Metadata))
	})

	t.Run("idempotent default for unknown aggregate", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		d := newDriver(t)

		rows, err := d.SelectEventsOnly(ctx, "account", "unknown")
		require.NoError(t, err)
		require.Empty(t, rows)

		_, found, err := d.SelectSnapshot(ctx, "account", "unknown")
		require.NoError(t, err)
		require.False(t, found)

		_, found, err = d.SelectQuery(ctx, "account", "unknown", "summary")
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("snapshot upsert", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		d := newDriver(t)

		const aggType, aggID = "account", "D"

		require.NoError(t, d.UpsertSnapshot(ctx, aggType, aggID, 1, payload(t, map[string]int{"v": 1})))
		require.NoError(t, d.UpsertSnapshot(ctx, aggType, aggID, 2, payload(t, map[string]int{"v": 2})))

		row, found, err := d.SelectSnapshot(ctx, aggType, aggID)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, int64(2), row.Version)
		require.JSONEq(t, string(payload(t, map[string]int{"v": 2})), string(row.Payload))
	})

	t.Run("query upsert (S5)", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		d := newDriver(t)

		const aggType, aggID, queryType = "account", "E", "summary"

		require.NoError(t, d.UpsertQuery(ctx, aggType, aggID, queryType, 1, payload(t, map[string]string{"name": "first"})))
		require.NoError(t, d.UpsertQuery(ctx, aggType, aggID, queryType, 2, payload(t, map[string]string{"name": "second"})))

		row, found, err := d.SelectQuery(ctx, aggType, aggID, queryType)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, int64(2), row.Version)
		require.JSONEq(t, string(payload(t, map[string]string{"name": "second"})), string(row.Payload))
	})

	t.Run("queries are isolated per query type", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		d := newDriver(t)

		const aggType, aggID = "account", "F"

		require.NoError(t, d.UpsertQuery(ctx, aggType, aggID, "summary", 1, payload(t, "summary-1")))
		require.NoError(t, d.UpsertQuery(ctx, aggType, aggID, "address", 1, payload(t, "address-1")))

		summary, found, err := d.SelectQuery(ctx, aggType, aggID, "summary")
		require.NoError(t, err)
		require.True(t, found)
		require.JSONEq(t, string(payload(t, "summary-1")), string(summary.Payload))

		address, found, err := d.SelectQuery(ctx, aggType, aggID, "address")
		require.NoError(t, err)
		require.True(t, found)
		require.JSONEq(t, string(payload(t, "address-1")), string(address.Payload))
	})

	if txDriver, ok := anyTransactional(newDriver, t); ok {
		t.Run("transactional commit is atomic", func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			d := txDriver(t)

			const aggType, aggID = "account", "G"

			err := d.WithinTx(ctx, func(ctx context.Context, tx ces.Driver) error {
				if err := tx.InsertEvent(ctx, aggType, aggID, 1, payload(t, 1), payload(t, map[string]string{})); err != nil {
					return err
				}
				return tx.InsertEvent(ctx, aggType, aggID, 2, payload(t, 2), payload(t, map[string]string{}))
			})
			require.NoError(t, err)

			rows, err := d.SelectEventsOnly(ctx, aggType, aggID)
			require.NoError(t, err)
			require.Len(t, rows, 2)
		})

		t.Run("transactional rollback leaves nothing behind", func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			d := txDriver(t)

			const aggType, aggID = "account", "H"
			sentinel := ces.ErrBackend

			err := d.WithinTx(ctx, func(ctx context.Context, tx ces.Driver) error {
				if err := tx.InsertEvent(ctx, aggType, aggID, 1, payload(t, 1), payload(t, map[string]string{})); err != nil {
					return err
				}
				return sentinel
			})
			require.ErrorIs(t, err, sentinel)

			rows, err := d.SelectEventsOnly(ctx, aggType, aggID)
			require.NoError(t, err)
			require.Empty(t, rows)
		})
	}
}

// anyTransactional reports whether the factory's Driver also implements
// ces.TransactionalDriver, returning a Factory producing the narrowed type
// when so.
func anyTransactional(newDriver Factory, t *testing.T) (func(t *testing.T) ces.TransactionalDriver, bool) {
	t.Helper()
	probe := newDriver(t)
	if _, ok := probe.(ces.TransactionalDriver); !ok {
		return nil, false
	}
	return func(t *testing.T) ces.TransactionalDriver {
		t.Helper()
		return newDriver(t).(ces.TransactionalDriver)
	}, true
}
