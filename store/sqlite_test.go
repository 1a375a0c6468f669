package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimasry/go-collab-history/ot"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "collab.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) (DocumentStore, func(string) string) {
		return newTestSQLiteStore(t), plainIDs
	})
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collab.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, "doc1", "ab"))
	require.NoError(t, s.AppendOperation(ctx, "doc1", ot.NewInsert(2, "c", 2), 1))
	require.NoError(t, s.SaveHistory(ctx, HistoryRecord{DocID: "doc1", Owner: "alice", Data: []byte("{}"), Version: 1}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	info, err := s.Get(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Version)

	ops, err := s.GetOperations(ctx, "doc1", 0)
	require.NoError(t, err)
	assert.Len(t, ops, 1)

	rec, err := s.LoadHistory(ctx, "doc1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
}

func TestSQLiteStore_AppendToMissingDocument(t *testing.T) {
	s := newTestSQLiteStore(t)
	err := s.AppendOperation(context.Background(), "nope", ot.NewInsert(0, "x", 0), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_SaveHistoryWithoutData(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	err := s.SaveHistory(ctx, HistoryRecord{DocID: "nope", Owner: "alice"})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Create(ctx, "doc1", ""))
	require.NoError(t, s.SaveHistory(ctx, HistoryRecord{DocID: "doc1", Owner: "alice"}))
	rec, err := s.LoadHistory(ctx, "doc1", "alice")
	require.NoError(t, err)
	assert.Empty(t, rec.Data)
}
