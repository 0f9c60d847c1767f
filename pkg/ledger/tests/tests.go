package tests

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/custody-program/pkg/database/query"
	"github.com/code-payments/custody-program/pkg/ledger"
)

func RunTests(t *testing.T, s ledger.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s ledger.Store){
		testRoundTrip,
		testAtomicSave,
		testStaleSlot,
		testGetAllByOwner,
	} {
		tf(t, s)
		teardown()
	}
}

func testRoundTrip(t *testing.T, s ledger.Store) {
	t.Run("testRoundTrip", func(t *testing.T) {
		ctx := context.Background()

		_, err := s.Get(ctx, "custody")
		assert.Equal(t, ledger.ErrAccountNotFound, err)

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 0, count)

		start := time.Now()

		expected := &ledger.Record{
			Address:  "custody",
			Owner:    "program",
			Lamports: 1_000_000,
			Data:     []byte{1, 2, 3, 4, 5, 6, 7, 8},
			Slot:     1,
		}
		cloned := expected.Clone()

		require.NoError(t, s.Save(ctx, expected))
		assert.True(t, expected.Id > 0)
		assert.False(t, expected.LastUpdatedAt.Before(start.Add(-time.Millisecond)))

		actual, err := s.Get(ctx, "custody")
		require.NoError(t, err)
		assertEquivalentRecords(t, actual, &cloned)
		assert.Equal(t, expected.Id, actual.Id)

		id := expected.Id

		expected.Lamports = 42
		expected.Data = []byte{8, 7, 6, 5, 4, 3, 2, 1}
		expected.Slot = 2
		cloned = expected.Clone()

		require.NoError(t, s.Save(ctx, expected))
		assert.Equal(t, id, expected.Id)

		actual, err = s.Get(ctx, "custody")
		require.NoError(t, err)
		assertEquivalentRecords(t, actual, &cloned)
		assert.Equal(t, id, actual.Id)

		// Mutating the returned record must not affect the stored copy
		actual.Data[0] = 0xff
		actual, err = s.Get(ctx, "custody")
		require.NoError(t, err)
		assert.EqualValues(t, 8, actual.Data[0])

		count, err = s.Count(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)
	})
}

func testAtomicSave(t *testing.T, s ledger.Store) {
	t.Run("testAtomicSave", func(t *testing.T) {
		ctx := context.Background()

		user := &ledger.Record{Address: "user", Owner: "system", Lamports: 10}
		custody := &ledger.Record{Address: "custody", Owner: "program", Lamports: 20, Data: make([]byte, 8)}
		require.NoError(t, s.Save(ctx, user, custody))
		assert.NotEqual(t, user.Id, custody.Id)

		count, err := s.Count(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, count)

		// An invalid record anywhere in the batch rejects the whole batch
		user.Lamports = 0
		err = s.Save(ctx, user, &ledger.Record{Address: "invalid"})
		assert.Error(t, err)

		actual, err := s.Get(ctx, "user")
		require.NoError(t, err)
		assert.EqualValues(t, 10, actual.Lamports)

		_, err = s.Get(ctx, "invalid")
		assert.Equal(t, ledger.ErrAccountNotFound, err)

		require.NoError(t, s.Save(ctx))
	})
}

func testStaleSlot(t *testing.T, s ledger.Store) {
	t.Run("testStaleSlot", func(t *testing.T) {
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, &ledger.Record{Address: "a", Owner: "system", Lamports: 1, Slot: 5}))

		err := s.Save(
			ctx,
			&ledger.Record{Address: "b", Owner: "system", Lamports: 2, Slot: 6},
			&ledger.Record{Address: "a", Owner: "system", Lamports: 3, Slot: 4},
		)
		assert.Equal(t, ledger.ErrStaleSlot, err)

		_, err = s.Get(ctx, "b")
		assert.Equal(t, ledger.ErrAccountNotFound, err)

		actual, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.EqualValues(t, 1, actual.Lamports)

		// Same slot updates are allowed
		require.NoError(t, s.Save(ctx, &ledger.Record{Address: "a", Owner: "system", Lamports: 4, Slot: 5}))
		actual, err = s.Get(ctx, "a")
		require.NoError(t, err)
		assert.EqualValues(t, 4, actual.Lamports)
	})
}

func testGetAllByOwner(t *testing.T, s ledger.Store) {
	t.Run("testGetAllByOwner", func(t *testing.T) {
		ctx := context.Background()

		_, err := s.GetAllByOwner(ctx, "program", query.EmptyCursor, 10, query.Ascending)
		assert.Equal(t, ledger.ErrAccountNotFound, err)

		var expected []*ledger.Record
		for i := 0; i < 5; i++ {
			record := &ledger.Record{
				Address:  fmt.Sprintf("custody%d", i),
				Owner:    "program",
				Lamports: uint64(i + 1),
				Data:     []byte{byte(i), 0, 0, 0, 0, 0, 0, 0},
			}
			require.NoError(t, s.Save(ctx, record))
			expected = append(expected, record)

			require.NoError(t, s.Save(ctx, &ledger.Record{
				Address:  fmt.Sprintf("user%d", i),
				Owner:    "system",
				Lamports: uint64(i + 1),
			}))
		}

		actual, err := s.GetAllByOwner(ctx, "program", query.EmptyCursor, 10, query.Ascending)
		require.NoError(t, err)
		require.Len(t, actual, len(expected))
		for i, record := range actual {
			assertEquivalentRecords(t, record, expected[i])
		}

		actual, err = s.GetAllByOwner(ctx, "program", query.EmptyCursor, 10, query.Descending)
		require.NoError(t, err)
		require.Len(t, actual, len(expected))
		for i, record := range actual {
			assertEquivalentRecords(t, record, expected[len(expected)-1-i])
		}

		actual, err = s.GetAllByOwner(ctx, "program", query.ToCursor(expected[1].Id), 2, query.Ascending)
		require.NoError(t, err)
		require.Len(t, actual, 2)
		assertEquivalentRecords(t, actual[0], expected[2])
		assertEquivalentRecords(t, actual[1], expected[3])

		actual, err = s.GetAllByOwner(ctx, "program", query.ToCursor(expected[2].Id), 10, query.Descending)
		require.NoError(t, err)
		require.Len(t, actual, 2)
		assertEquivalentRecords(t, actual[0], expected[1])
		assertEquivalentRecords(t, actual[1], expected[0])

		_, err = s.GetAllByOwner(ctx, "program", query.ToCursor(expected[4].Id), 10, query.Ascending)
		assert.Equal(t, ledger.ErrAccountNotFound, err)

		actual, err = s.GetAllByOwner(ctx, "program", query.EmptyCursor, 0, query.Ascending)
		require.NoError(t, err)
		assert.Len(t, actual, len(expected))

		_, err = s.GetAllByOwner(ctx, "program", query.Cursor{1, 2, 3}, 10, query.Ascending)
		assert.Error(t, err)

		_, err = s.GetAllByOwner(ctx, "program", query.EmptyCursor, 1_000_000, query.Ascending)
		assert.Equal(t, query.ErrQueryNotSupported, err)
	})
}

func assertEquivalentRecords(t *testing.T, obj1, obj2 *ledger.Record) {
	assert.Equal(t, obj1.Address, obj2.Address)
	assert.Equal(t, obj1.Owner, obj2.Owner)
	assert.Equal(t, obj1.Lamports, obj2.Lamports)
	assert.EqualValues(t, len(obj1.Data), len(obj2.Data))
	assert.True(t, obj1.Equals(obj2))
	assert.Equal(t, obj1.Executable, obj2.Executable)
	assert.Equal(t, obj1.Slot, obj2.Slot)
}
