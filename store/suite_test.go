package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimasry/go-collab-history/ot"
)

// storeFactory returns a fresh store and a function that maps a test
// document name to the ID to use in that store.
type storeFactory func(t *testing.T) (DocumentStore, func(name string) string)

func plainIDs(name string) string { return name }

// runStoreSuite checks the behaviour every DocumentStore shares.
func runStoreSuite(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s, id := newStore(t)
		require.NoError(t, s.Create(ctx, id("doc1"), "hello"))

		info, err := s.Get(ctx, id("doc1"))
		require.NoError(t, err)
		assert.Equal(t, id("doc1"), info.ID)
		assert.Equal(t, "hello", info.Content)
		assert.Equal(t, 0, info.Version)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		s, id := newStore(t)
		require.NoError(t, s.Create(ctx, id("doc1"), ""))
		assert.Error(t, s.Create(ctx, id("doc1"), ""))
	})

	t.Run("GetNotFound", func(t *testing.T) {
		s, id := newStore(t)
		_, err := s.Get(ctx, id("nope"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		s, id := newStore(t)
		for _, name := range []string{"a", "b", "c"} {
			require.NoError(t, s.Create(ctx, id(name), ""))
		}
		docs, err := s.List(ctx)
		require.NoError(t, err)
		var ids []string
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		assert.Subset(t, ids, []string{id("a"), id("b"), id("c")})
	})

	t.Run("UpdateContent", func(t *testing.T) {
		s, id := newStore(t)
		require.NoError(t, s.Create(ctx, id("doc1"), "hello"))
		require.NoError(t, s.UpdateContent(ctx, id("doc1"), "hello world", 1))

		info, err := s.Get(ctx, id("doc1"))
		require.NoError(t, err)
		assert.Equal(t, "hello world", info.Content)
		assert.Equal(t, 1, info.Version)

		assert.ErrorIs(t, s.UpdateContent(ctx, id("nope"), "x", 1), ErrNotFound)
	})

	t.Run("Operations", func(t *testing.T) {
		s, id := newStore(t)
		require.NoError(t, s.Create(ctx, id("doc1"), "hello"))
		op1 := ot.NewInsert(5, " world", 5)
		op2 := ot.NewDelete(0, 5, 11)
		require.NoError(t, s.AppendOperation(ctx, id("doc1"), op1, 1))
		require.NoError(t, s.AppendOperation(ctx, id("doc1"), op2, 2))

		ops, err := s.GetOperations(ctx, id("doc1"), 0)
		require.NoError(t, err)
		assert.Equal(t, []ot.Operation{op1, op2}, ops)

		ops, err = s.GetOperations(ctx, id("doc1"), 1)
		require.NoError(t, err)
		assert.Equal(t, []ot.Operation{op2}, ops)
	})

	t.Run("OperationsNotFound", func(t *testing.T) {
		s, id := newStore(t)
		_, err := s.GetOperations(ctx, id("nope"), 0)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("History", func(t *testing.T) {
		s, id := newStore(t)
		require.NoError(t, s.Create(ctx, id("doc1"), ""))

		_, err := s.LoadHistory(ctx, id("doc1"), "alice")
		assert.ErrorIs(t, err, ErrNotFound)

		rec := HistoryRecord{DocID: id("doc1"), Owner: "alice", Data: []byte(`{"done":[],"undone":[]}`), Version: 3}
		require.NoError(t, s.SaveHistory(ctx, rec))
		rec.Data = []byte(`{"done":[],"undone":[{}]}`)
		rec.Version = 4
		require.NoError(t, s.SaveHistory(ctx, rec))
		require.NoError(t, s.SaveHistory(ctx, HistoryRecord{DocID: id("doc1"), Owner: "bob", Data: []byte(`{}`)}))

		got, err := s.LoadHistory(ctx, id("doc1"), "alice")
		require.NoError(t, err)
		assert.Equal(t, id("doc1"), got.DocID)
		assert.Equal(t, "alice", got.Owner)
		assert.Equal(t, `{"done":[],"undone":[{}]}`, string(got.Data))
		assert.Equal(t, 4, got.Version)
		assert.False(t, got.UpdatedAt.IsZero())

		assert.ErrorIs(t, s.SaveHistory(ctx, HistoryRecord{DocID: id("nope"), Owner: "alice"}), ErrNotFound)
	})
}
