package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alimasry/go-collab-history/ot"
)

// dirtyState tracks what needs flushing for a single document.
type dirtyState struct {
	contentDirty bool            // content/version needs writing to backing store
	flushedOps   int             // number of ops already flushed (index into history)
	created      bool            // doc created locally but not yet in backing store
	histories    map[string]bool // owners whose saved history is not yet flushed
}

func (ds *dirtyState) clean() bool {
	return !ds.contentDirty && !ds.created && len(ds.histories) == 0
}

// CachedOption configures a CachedStore.
type CachedOption func(*CachedStore)

// WithCacheLogger sets the logger flush failures are reported to.
func WithCacheLogger(l *zap.SugaredLogger) CachedOption {
	return func(cs *CachedStore) { cs.logger = l }
}

// CachedStore wraps a backing DocumentStore with an in-memory cache.
// All reads and writes are served from the cache. Dirty documents are
// flushed to the backing store periodically in the background.
type CachedStore struct {
	cache         *MemoryStore
	backing       DocumentStore
	mu            sync.Mutex
	dirty         map[string]*dirtyState
	flushInterval time.Duration
	logger        *zap.SugaredLogger
	stop          chan struct{}
	done          chan struct{}
}

// NewCachedStore creates a CachedStore that caches in memory and flushes
// dirty documents to the backing store every flushInterval.
func NewCachedStore(backing DocumentStore, flushInterval time.Duration, opts ...CachedOption) *CachedStore {
	cs := &CachedStore{
		cache:         NewMemoryStore(),
		backing:       backing,
		dirty:         make(map[string]*dirtyState),
		flushInterval: flushInterval,
		logger:        zap.NewNop().Sugar(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(cs)
	}
	go cs.flushLoop()
	return cs
}

func (cs *CachedStore) Create(ctx context.Context, id, content string) error {
	if err := cs.cache.Create(ctx, id, content); err != nil {
		return err
	}
	cs.mu.Lock()
	cs.dirty[id] = &dirtyState{contentDirty: true, created: true}
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	info, err := cs.cache.Get(ctx, id)
	if err == nil {
		return info, nil
	}
	// Cache miss, load from backing store.
	if err := cs.loadFromBacking(ctx, id); err != nil {
		return nil, err
	}
	return cs.cache.Get(ctx, id)
}

// List returns the backing store's documents, with cached state taking
// precedence and documents not yet flushed included.
func (cs *CachedStore) List(ctx context.Context) ([]DocumentInfo, error) {
	docs, err := cs.backing.List(ctx)
	if err != nil {
		return nil, err
	}
	cached, err := cs.cache.List(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(docs))
	for i, d := range docs {
		index[d.ID] = i
	}
	for _, d := range cached {
		if i, ok := index[d.ID]; ok {
			docs[i] = d
			continue
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func (cs *CachedStore) UpdateContent(ctx context.Context, id, content string, version int) error {
	// Ensure doc is in cache.
	if _, err := cs.Get(ctx, id); err != nil {
		return err
	}
	if err := cs.cache.UpdateContent(ctx, id, content, version); err != nil {
		return err
	}
	cs.mu.Lock()
	ds := cs.dirty[id]
	if ds == nil {
		cs.cache.mu.RLock()
		flushed := len(cs.cache.docs[id].history)
		cs.cache.mu.RUnlock()
		ds = &dirtyState{flushedOps: flushed}
		cs.dirty[id] = ds
	}
	ds.contentDirty = true
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error {
	// Ensure doc is in cache.
	if _, err := cs.Get(ctx, id); err != nil {
		return err
	}

	// Snapshot history length before append so we know how many ops were
	// already flushed if this doc was previously clean (removed from dirty map).
	cs.cache.mu.RLock()
	prevLen := len(cs.cache.docs[id].history)
	cs.cache.mu.RUnlock()

	if err := cs.cache.AppendOperation(ctx, id, op, version); err != nil {
		return err
	}
	// Mark dirty so flush loop picks up the new op.
	cs.mu.Lock()
	if cs.dirty[id] == nil {
		cs.dirty[id] = &dirtyState{flushedOps: prevLen}
	}
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error) {
	// Ensure doc is in cache.
	if _, err := cs.Get(ctx, id); err != nil {
		return nil, err
	}
	return cs.cache.GetOperations(ctx, id, fromVersion)
}

// SaveHistory stores rec in the cache; it reaches the backing store on the
// next flush.
func (cs *CachedStore) SaveHistory(ctx context.Context, rec HistoryRecord) error {
	if _, err := cs.Get(ctx, rec.DocID); err != nil {
		return err
	}
	if err := cs.cache.SaveHistory(ctx, rec); err != nil {
		return err
	}
	cs.mu.Lock()
	ds := cs.dirty[rec.DocID]
	if ds == nil {
		cs.cache.mu.RLock()
		flushed := len(cs.cache.docs[rec.DocID].history)
		cs.cache.mu.RUnlock()
		ds = &dirtyState{flushedOps: flushed}
		cs.dirty[rec.DocID] = ds
	}
	if ds.histories == nil {
		ds.histories = make(map[string]bool)
	}
	ds.histories[rec.Owner] = true
	cs.mu.Unlock()
	return nil
}

// LoadHistory serves from the cache, falling back to the backing store.
func (cs *CachedStore) LoadHistory(ctx context.Context, docID, owner string) (*HistoryRecord, error) {
	if _, err := cs.Get(ctx, docID); err != nil {
		return nil, err
	}
	rec, err := cs.cache.LoadHistory(ctx, docID, owner)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return rec, err
	}
	rec, err = cs.backing.LoadHistory(ctx, docID, owner)
	if err != nil {
		return nil, err
	}
	if err := cs.cache.SaveHistory(ctx, *rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// loadFromBacking loads a document and its operations from the backing store
// into the cache. It sets flushedOps so that already-persisted ops are not
// re-flushed.
func (cs *CachedStore) loadFromBacking(ctx context.Context, id string) error {
	info, err := cs.backing.Get(ctx, id)
	if err != nil {
		return err
	}
	ops, err := cs.backing.GetOperations(ctx, id, 0)
	if err != nil {
		return err
	}

	// Write directly into cache's internal map.
	cs.cache.mu.Lock()
	if _, exists := cs.cache.docs[id]; !exists {
		cs.cache.docs[id] = &docRecord{
			info:    *info,
			history: ops,
		}
	}
	cs.cache.mu.Unlock()

	// Set flushedOps so we don't re-flush existing ops.
	cs.mu.Lock()
	if cs.dirty[id] == nil {
		cs.dirty[id] = &dirtyState{flushedOps: len(ops)}
	}
	cs.mu.Unlock()

	return nil
}

func (cs *CachedStore) flushLoop() {
	ticker := time.NewTicker(cs.flushInterval)
	defer ticker.Stop()
	defer close(cs.done)

	for {
		select {
		case <-ticker.C:
			cs.flush()
		case <-cs.stop:
			cs.flush()
			return
		}
	}
}

// flush writes all dirty documents to the backing store.
func (cs *CachedStore) flush() {
	cs.mu.Lock()
	// Snapshot the dirty map and work on a copy.
	snapshot := make(map[string]*dirtyState, len(cs.dirty))
	for id, ds := range cs.dirty {
		cp := *ds
		cp.histories = make(map[string]bool, len(ds.histories))
		for owner := range ds.histories {
			cp.histories[owner] = true
		}
		snapshot[id] = &cp
	}
	cs.mu.Unlock()

	ctx := context.Background()

	for id, ds := range snapshot {
		// Read current state from cache.
		cs.cache.mu.RLock()
		rec, ok := cs.cache.docs[id]
		if !ok {
			cs.cache.mu.RUnlock()
			continue
		}
		info := rec.info
		totalOps := len(rec.history)
		histories := make([]HistoryRecord, 0, len(ds.histories))
		for owner := range ds.histories {
			if h, ok := rec.histories[owner]; ok {
				histories = append(histories, h)
			}
		}
		// Copy the new ops slice while holding the lock.
		var newOps []ot.Operation
		if ds.flushedOps < totalOps {
			newOps = make([]ot.Operation, totalOps-ds.flushedOps)
			copy(newOps, rec.history[ds.flushedOps:])
		}
		cs.cache.mu.RUnlock()

		// 1. Create doc in backing store if needed.
		if ds.created {
			if err := cs.backing.Create(ctx, id, ""); err != nil {
				cs.logger.Errorw("create document in backing store", "doc", id, "error", err)
				continue
			}
		}

		// 2. Flush new ops (before content, so crash-recovery can replay).
		for i, op := range newOps {
			version := ds.flushedOps + i + 1
			if err := cs.backing.AppendOperation(ctx, id, op, version); err != nil {
				cs.logger.Errorw("flush operation", "doc", id, "version", version, "error", err)
				// Stop flushing this doc; the next cycle retries.
				break
			}
			ds.flushedOps++
		}

		// 3. Flush content if dirty.
		if ds.contentDirty {
			if err := cs.backing.UpdateContent(ctx, id, info.Content, info.Version); err != nil {
				cs.logger.Errorw("flush content", "doc", id, "error", err)
			} else {
				ds.contentDirty = false
			}
		}

		// 4. Flush saved histories.
		flushedHistories := make(map[string]time.Time, len(histories))
		for _, h := range histories {
			if err := cs.backing.SaveHistory(ctx, h); err != nil {
				cs.logger.Errorw("flush history", "doc", id, "owner", h.Owner, "error", err)
				continue
			}
			flushedHistories[h.Owner] = h.UpdatedAt
		}

		ds.created = false

		// Update the authoritative dirty state.
		cs.mu.Lock()
		cur := cs.dirty[id]
		if cur != nil {
			cur.flushedOps = ds.flushedOps
			cur.created = ds.created
			// Only clear contentDirty if no new writes happened since snapshot.
			if !ds.contentDirty {
				cur.contentDirty = false
			}
			// A history saved again since the snapshot stays dirty.
			cs.cache.mu.RLock()
			for owner, at := range flushedHistories {
				if h, ok := rec.histories[owner]; ok && h.UpdatedAt.Equal(at) {
					delete(cur.histories, owner)
				}
			}
			cs.cache.mu.RUnlock()
			// Remove from dirty map if fully clean.
			if cur.clean() && cur.flushedOps >= totalOps {
				// New ops may have arrived since the snapshot.
				cs.cache.mu.RLock()
				if r, ok := cs.cache.docs[id]; ok && cur.flushedOps >= len(r.history) {
					delete(cs.dirty, id)
				}
				cs.cache.mu.RUnlock()
			}
		}
		cs.mu.Unlock()
	}
}

// Close signals the flush loop to perform a final flush and waits for it
// to complete.
func (cs *CachedStore) Close() {
	close(cs.stop)
	<-cs.done
}
