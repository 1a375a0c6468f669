package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alimasry/go-collab-history/history"
	"github.com/alimasry/go-collab-history/ot"
	"github.com/alimasry/go-collab-history/store"
)

type joinRequest struct {
	client *Client
	docID  string
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the logger for the hub and its sessions.
func WithLogger(l *zap.SugaredLogger) HubOption {
	return func(h *Hub) { h.logger = l }
}

// WithHistoryConfig sets the undo history settings of every participant.
func WithHistoryConfig(cfg history.Config) HubOption {
	return func(h *Hub) { h.history = cfg }
}

// WithMetrics makes the hub report to m.
func WithMetrics(m *Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// Hub manages document sessions and routes clients to the right session.
type Hub struct {
	store    store.DocumentStore
	engine   ot.Engine
	history  history.Config
	logger   *zap.SugaredLogger
	metrics  *Metrics
	sessions map[string]*Session
	mu       sync.RWMutex

	joinDoc chan joinRequest
}

func NewHub(st store.DocumentStore, engine ot.Engine, opts ...HubOption) *Hub {
	h := &Hub{
		store:    st,
		engine:   engine,
		history:  history.DefaultConfig(),
		logger:   zap.NewNop().Sugar(),
		sessions: make(map[string]*Session),
		joinDoc:  make(chan joinRequest, 64),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics()
	}
	return h
}

// Run is the hub's main loop.
func (h *Hub) Run() {
	for req := range h.joinDoc {
		h.handleJoinDoc(req)
	}
}

func (h *Hub) sessionConfig() sessionConfig {
	return sessionConfig{
		engine:  h.engine,
		store:   h.store,
		history: h.history,
		logger:  h.logger,
		metrics: h.metrics,
		now:     time.Now,
	}
}

func (h *Hub) handleJoinDoc(req joinRequest) {
	h.mu.Lock()
	s, ok := h.sessions[req.docID]
	if !ok {
		doc, err := h.loadDocument(context.Background(), req.docID)
		if err != nil {
			h.logger.Errorw("load document", "doc", req.docID, "error", err)
			h.metrics.errors.WithLabelValues("load").Inc()
			h.mu.Unlock()
			req.client.sendError("failed to load document")
			return
		}
		s = newSession(req.docID, doc, h.sessionConfig())
		h.sessions[req.docID] = s
		h.metrics.activeSessions.Inc()
		go s.Run()
	}
	h.mu.Unlock()

	s.join <- req.client
}

// loadDocument reads a document and its operation log, creating an empty
// document when none exists.
func (h *Hub) loadDocument(ctx context.Context, id string) (*ot.Document, error) {
	info, err := h.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		if err := h.store.Create(ctx, id, ""); err != nil {
			return nil, err
		}
		info, err = h.store.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	ops, err := h.store.GetOperations(ctx, id, 0)
	if err != nil {
		return nil, err
	}
	doc := ot.NewDocument(info.Content)
	doc.Version = info.Version
	doc.History = ops
	if len(ops) != info.Version {
		// The log must cover every version for incoming revisions and saved
		// histories to line up.
		h.logger.Warnw("operation log does not match document version",
			"doc", id, "version", info.Version, "ops", len(ops))
	}
	return doc, nil
}

// GetSession returns the session for a document, if active.
func (h *Hub) GetSession(docID string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[docID]
}
