package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimasry/go-collab-history/ot"
)

func TestCachedStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) (DocumentStore, func(string) string) {
		cs := NewCachedStore(NewMemoryStore(), time.Hour)
		t.Cleanup(cs.Close)
		return cs, plainIDs
	})
}

func TestCachedStore_ReadThrough(t *testing.T) {
	backing := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, backing.Create(ctx, "doc1", "hello"))
	require.NoError(t, backing.AppendOperation(ctx, "doc1", ot.NewInsert(5, " world", 5), 1))
	require.NoError(t, backing.SaveHistory(ctx, HistoryRecord{DocID: "doc1", Owner: "alice", Data: []byte("{}"), Version: 1}))

	cs := NewCachedStore(backing, time.Hour)
	defer cs.Close()

	info, err := cs.Get(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, "hello", info.Content)
	assert.Equal(t, 1, info.Version)

	ops, err := cs.GetOperations(ctx, "doc1", 0)
	require.NoError(t, err)
	assert.Len(t, ops, 1)

	rec, err := cs.LoadHistory(ctx, "doc1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
}

func TestCachedStore_WriteBehind(t *testing.T) {
	backing := NewMemoryStore()
	ctx := context.Background()
	cs := NewCachedStore(backing, 50*time.Millisecond)
	defer cs.Close()

	require.NoError(t, cs.Create(ctx, "doc1", "hello"))
	_, err := backing.Get(ctx, "doc1")
	assert.ErrorIs(t, err, ErrNotFound, "backing must not have the document before a flush")

	assert.Eventually(t, func() bool {
		_, err := backing.Get(ctx, "doc1")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCachedStore_OperationFlushTracking(t *testing.T) {
	backing := NewMemoryStore()
	ctx := context.Background()
	cs := NewCachedStore(backing, 50*time.Millisecond)
	defer cs.Close()

	require.NoError(t, cs.Create(ctx, "doc1", "hello"))
	for i := 1; i <= 3; i++ {
		require.NoError(t, cs.AppendOperation(ctx, "doc1", ot.NewInsert(0, "x", 4+i), i))
	}
	backingOps := func() int {
		ops, err := backing.GetOperations(ctx, "doc1", 0)
		if err != nil {
			return -1
		}
		return len(ops)
	}
	require.Eventually(t, func() bool { return backingOps() == 3 }, 2*time.Second, 20*time.Millisecond)

	for i := 4; i <= 5; i++ {
		require.NoError(t, cs.AppendOperation(ctx, "doc1", ot.NewInsert(0, "y", 4+i), i))
	}
	require.Eventually(t, func() bool { return backingOps() == 5 }, 2*time.Second, 20*time.Millisecond)

	// Flushed ops are not written twice.
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 5, backingOps())
}

func TestCachedStore_CloseFlushes(t *testing.T) {
	backing := NewMemoryStore()
	ctx := context.Background()
	cs := NewCachedStore(backing, time.Hour)

	require.NoError(t, cs.Create(ctx, "doc1", "hello"))
	require.NoError(t, cs.UpdateContent(ctx, "doc1", "hello world", 1))
	require.NoError(t, cs.AppendOperation(ctx, "doc1", ot.NewInsert(5, " world", 5), 1))
	require.NoError(t, cs.SaveHistory(ctx, HistoryRecord{DocID: "doc1", Owner: "alice", Data: []byte("{}"), Version: 1}))
	cs.Close()

	info, err := backing.Get(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", info.Content)
	assert.Equal(t, 1, info.Version)

	ops, err := backing.GetOperations(ctx, "doc1", 0)
	require.NoError(t, err)
	assert.Len(t, ops, 1)

	rec, err := backing.LoadHistory(ctx, "doc1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(rec.Data))
}

func TestCachedStore_PreLoadedDoc(t *testing.T) {
	backing := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, backing.Create(ctx, "doc1", "ab"))
	require.NoError(t, backing.AppendOperation(ctx, "doc1", ot.NewInsert(2, "c", 2), 1))
	require.NoError(t, backing.AppendOperation(ctx, "doc1", ot.NewInsert(3, "d", 3), 2))

	cs := NewCachedStore(backing, time.Hour)
	_, err := cs.Get(ctx, "doc1")
	require.NoError(t, err)
	require.NoError(t, cs.AppendOperation(ctx, "doc1", ot.NewInsert(4, "e", 4), 3))
	cs.Close()

	ops, err := backing.GetOperations(ctx, "doc1", 0)
	require.NoError(t, err)
	assert.Len(t, ops, 3, "already persisted ops must not be duplicated")
}

func TestCachedStore_HistoryResavedDuringFlush(t *testing.T) {
	backing := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, backing.Create(ctx, "doc1", ""))

	cs := NewCachedStore(backing, time.Hour)
	first := HistoryRecord{DocID: "doc1", Owner: "alice", Data: []byte("1"), UpdatedAt: time.Unix(1, 0)}
	require.NoError(t, cs.SaveHistory(ctx, first))
	cs.flush()

	second := first
	second.Data, second.UpdatedAt = []byte("2"), time.Unix(2, 0)
	require.NoError(t, cs.SaveHistory(ctx, second))
	cs.Close()

	rec, err := backing.LoadHistory(ctx, "doc1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "2", string(rec.Data))
}

func TestCachedStore_ListDelegatesToBacking(t *testing.T) {
	backing := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, backing.Create(ctx, "a", ""))
	require.NoError(t, backing.Create(ctx, "b", ""))

	cs := NewCachedStore(backing, time.Hour)
	defer cs.Close()

	docs, err := cs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}
