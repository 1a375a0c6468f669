package store

import (
	"context"
	"errors"
	"time"

	"github.com/alimasry/go-collab-history/ot"
)

// ErrNotFound is wrapped by lookups of documents or histories that do not exist.
var ErrNotFound = errors.New("not found")

// DocumentInfo holds document metadata and content.
type DocumentInfo struct {
	ID        string
	Content   string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HistoryRecord is one author's serialized undo history for a document.
// Version is the document version the history was saved at; operations
// after it must be mapped into the history when it is restored.
type HistoryRecord struct {
	DocID     string
	Owner     string
	Data      []byte
	Version   int
	UpdatedAt time.Time
}

// DocumentStore abstracts document persistence.
// Implementations: MemoryStore, SQLiteStore, FirestoreStore and the
// write-behind CachedStore.
type DocumentStore interface {
	Create(ctx context.Context, id, content string) error
	Get(ctx context.Context, id string) (*DocumentInfo, error)
	List(ctx context.Context) ([]DocumentInfo, error)
	UpdateContent(ctx context.Context, id, content string, version int) error
	AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error
	GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error)
	SaveHistory(ctx context.Context, rec HistoryRecord) error
	LoadHistory(ctx context.Context, docID, owner string) (*HistoryRecord, error)
}
