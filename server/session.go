package server

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/alimasry/go-collab-history/history"
	"github.com/alimasry/go-collab-history/ot"
	"github.com/alimasry/go-collab-history/store"
)

type opMessage struct {
	client *Client
	msg    ClientMessage
}

type sessionConfig struct {
	engine  ot.Engine
	store   store.DocumentStore
	history history.Config
	logger  *zap.SugaredLogger
	metrics *Metrics
	now     func() time.Time
}

// participant is one client's view of the session: its own undo history and
// its selection, both kept in server coordinates.
type participant struct {
	client  *Client
	session *Session
	hist    *history.Engine
	sel     ot.Selection

	reportedUndo int
	reportedRedo int
}

// Session manages collaboration for a single document.
// All operations are serialized through a single goroutine.
type Session struct {
	docID   string
	doc     *ot.Document
	engine  ot.Engine
	store   store.DocumentStore
	history history.Config
	logger  *zap.SugaredLogger
	metrics *Metrics
	now     func() time.Time
	clients map[*Client]*participant

	incoming chan opMessage
	join     chan *Client
	leave    chan *Client
	stop     chan struct{}
}

func newSession(docID string, doc *ot.Document, cfg sessionConfig) *Session {
	if cfg.logger == nil {
		cfg.logger = zap.NewNop().Sugar()
	}
	if cfg.metrics == nil {
		cfg.metrics = NewMetrics()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Session{
		docID:    docID,
		doc:      doc,
		engine:   cfg.engine,
		store:    cfg.store,
		history:  cfg.history,
		logger:   cfg.logger.With("doc", docID),
		metrics:  cfg.metrics,
		now:      cfg.now,
		clients:  make(map[*Client]*participant),
		incoming: make(chan opMessage, 64),
		join:     make(chan *Client, 16),
		leave:    make(chan *Client, 16),
		stop:     make(chan struct{}),
	}
}

// Run is the session's main loop. It serializes all operations.
func (s *Session) Run() {
	for {
		select {
		case c := <-s.join:
			s.handleJoin(c)
		case c := <-s.leave:
			s.handleLeave(c)
		case om := <-s.incoming:
			s.handleMessage(om)
		case <-s.stop:
			return
		}
	}
}

func (s *Session) handleMessage(om opMessage) {
	p, ok := s.clients[om.client]
	if !ok {
		om.client.sendError("not joined to a document")
		return
	}
	switch om.msg.Type {
	case MsgOp:
		s.handleOp(p, om.msg)
	case MsgSelect:
		s.handleSelect(p, om.msg)
	case MsgUndo, MsgRedo, MsgUndoSelection, MsgRedoSelection:
		s.handleHistory(p, om.msg.Type)
	}
}

func (s *Session) handleJoin(c *Client) {
	p, err := s.newParticipant(c)
	if err != nil {
		s.logger.Errorw("create history", "client", c.ID, "error", err)
		s.metrics.errors.WithLabelValues("join").Inc()
		c.sendError("failed to join document")
		return
	}
	s.clients[c] = p
	s.metrics.activeClients.Inc()
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	// Send current document state to the joining client.
	p.reportedUndo, p.reportedRedo = p.hist.UndoDepth(), p.hist.RedoDepth()
	c.sendMsg(ServerMessage{
		Type:      MsgDoc,
		DocID:     s.docID,
		Content:   s.doc.Content,
		Revision:  s.doc.Version,
		Clients:   s.clientInfos(),
		UndoDepth: p.reportedUndo,
		RedoDepth: p.reportedRedo,
	})

	// Notify other clients about the new user.
	for other := range s.clients {
		if other != c {
			other.sendMsg(ServerMessage{
				Type:     MsgJoin,
				ClientID: c.ID,
				Name:     c.Name,
				Color:    c.Color,
			})
		}
	}
}

// newParticipant creates c's history, restoring the one its author left
// behind and mapping it over everything that happened since.
func (s *Session) newParticipant(c *Client) (*participant, error) {
	hist, err := history.NewEngine(s.history,
		history.WithLogger(s.logger.With("client", c.ID)),
		history.WithClock(s.now),
	)
	if err != nil {
		return nil, err
	}
	p := &participant{client: c, session: s, hist: hist, sel: ot.Cursor(0)}

	author := c.author()
	if author == "" {
		return p, nil
	}
	rec, err := s.store.LoadHistory(context.Background(), s.docID, author)
	if errors.Is(err, store.ErrNotFound) {
		return p, nil
	}
	if err != nil {
		s.logger.Warnw("load history", "author", author, "error", err)
		return p, nil
	}
	since, err := s.doc.Since(rec.Version)
	if err != nil {
		s.logger.Warnw("saved history does not fit the document", "author", author, "error", err)
		return p, nil
	}
	if err := hist.Restore(rec.Data); err != nil {
		s.logger.Warnw("restore history", "author", author, "error", err)
		return p, nil
	}
	for _, op := range since {
		hist.AddMapping(op)
	}
	return p, nil
}

func (s *Session) handleLeave(c *Client) {
	p, ok := s.clients[c]
	if !ok {
		return
	}
	delete(s.clients, c)
	s.metrics.activeClients.Dec()
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	close(c.send)

	s.saveHistory(p)

	// Notify others.
	for other := range s.clients {
		other.sendMsg(ServerMessage{
			Type:     MsgLeave,
			ClientID: c.ID,
		})
	}
}

func (s *Session) saveHistory(p *participant) {
	author := p.client.author()
	if author == "" {
		return
	}
	data, err := p.hist.MarshalJSON()
	if err != nil {
		s.logger.Errorw("encode history", "author", author, "error", err)
		s.metrics.errors.WithLabelValues("save_history").Inc()
		return
	}
	rec := store.HistoryRecord{
		DocID:     s.docID,
		Owner:     author,
		Data:      data,
		Version:   s.doc.Version,
		UpdatedAt: s.now(),
	}
	if err := s.store.SaveHistory(context.Background(), rec); err != nil {
		s.logger.Errorw("save history", "author", author, "error", err)
		s.metrics.errors.WithLabelValues("save_history").Inc()
	}
}

func (s *Session) handleOp(p *participant, msg ClientMessage) {
	isolate, err := history.ParseIsolation(msg.Isolate)
	if err != nil {
		p.client.sendError(err.Error())
		return
	}

	// Transform the client's operation against server history.
	transformed, err := s.engine.TransformIncoming(msg.Op, msg.Revision, s.doc.History)
	if err != nil {
		s.logger.Warnw("transform failed", "client", p.client.ID, "error", err)
		s.metrics.errors.WithLabelValues("transform").Inc()
		p.client.sendError("transform error: " + err.Error())
		return
	}

	after, err := s.selectionAfter(p, msg, transformed)
	if err != nil {
		s.logger.Warnw("map selection failed", "client", p.client.ID, "error", err)
		after = p.sel.MapAssoc(transformed, 1)
	}

	// Apply to the document.
	start := p.sel
	inverse, err := s.doc.ApplyInverse(transformed)
	if err != nil {
		s.logger.Warnw("apply failed", "client", p.client.ID, "error", err)
		s.metrics.errors.WithLabelValues("apply").Inc()
		p.client.sendError("apply error: " + err.Error())
		return
	}
	p.sel = after.Clamp(len(s.doc.Content))

	userEvent := msg.UserEvent
	if userEvent == "" {
		userEvent = "input"
	}
	err = p.hist.Observe(history.Transaction{
		Changes:        transformed,
		Inverse:        inverse,
		StartSelection: start,
		Selection:      p.sel,
		Isolate:        isolate,
		UserEvent:      userEvent,
		Time:           s.now(),
	})
	if err != nil {
		s.logger.Errorw("record operation", "client", p.client.ID, "error", err)
		s.metrics.errors.WithLabelValues("history").Inc()
	}
	if !transformed.IsNoop() {
		s.commit(p, transformed, "client")
	}

	// Ack the sender.
	p.client.sendMsg(ServerMessage{
		Type:     MsgAck,
		Revision: s.doc.Version,
	})

	// Broadcast to other clients.
	if !transformed.IsNoop() {
		for c := range s.clients {
			if c != p.client {
				c.sendMsg(ServerMessage{
					Type:     MsgOp,
					DocID:    s.docID,
					Revision: s.doc.Version,
					Op:       transformed,
					ClientID: p.client.ID,
				})
			}
		}
	}
	p.reportHistory(false, nil)
}

// selectionAfter returns the sender's selection after op in server
// coordinates. A reported selection is relative to the client's document,
// which has op applied on top of revision; it is mapped through the
// concurrent operations as rebased over op.
func (s *Session) selectionAfter(p *participant, msg ClientMessage, transformed ot.Operation) (ot.Selection, error) {
	if msg.Selection == nil {
		return p.sel.MapAssoc(transformed, 1), nil
	}
	sel := *msg.Selection
	op := msg.Op
	for _, concurrent := range s.doc.History[msg.Revision:] {
		opPrime, concurrentPrime, err := ot.Transform(op, concurrent)
		if err != nil {
			return ot.Selection{}, err
		}
		sel = sel.Map(concurrentPrime)
		op = opPrime
	}
	return sel, nil
}

// commit persists op and maps every other participant over it.
func (s *Session) commit(from *participant, op ot.Operation, origin string) {
	ctx := context.Background()
	if err := s.store.UpdateContent(ctx, s.docID, s.doc.Content, s.doc.Version); err != nil {
		s.logger.Errorw("persist content", "version", s.doc.Version, "error", err)
		s.metrics.errors.WithLabelValues("persist").Inc()
	}
	if err := s.store.AppendOperation(ctx, s.docID, op, s.doc.Version); err != nil {
		s.logger.Errorw("persist operation", "version", s.doc.Version, "error", err)
		s.metrics.errors.WithLabelValues("persist").Inc()
	}
	for _, other := range s.clients {
		if other == from {
			continue
		}
		other.hist.AddMapping(op)
		other.sel = other.sel.Map(op)
	}
	s.metrics.operations.WithLabelValues(origin).Inc()
}

func (s *Session) handleSelect(p *participant, msg ClientMessage) {
	if msg.Selection == nil {
		p.client.sendError("select without selection")
		return
	}
	sel, err := s.engine.MapSelection(*msg.Selection, msg.Revision, s.doc.History)
	if err != nil {
		p.client.sendError("select error: " + err.Error())
		return
	}
	sel = sel.Clamp(len(s.doc.Content))

	userEvent := msg.UserEvent
	if userEvent == "" {
		userEvent = "select"
	}
	id := ot.Identity(len(s.doc.Content))
	err = p.hist.Observe(history.Transaction{
		Changes:        id,
		Inverse:        id,
		StartSelection: p.sel,
		Selection:      sel,
		UserEvent:      userEvent,
		Time:           s.now(),
	})
	if err != nil {
		s.logger.Errorw("record selection", "client", p.client.ID, "error", err)
	}
	p.sel = sel

	for c := range s.clients {
		if c != p.client {
			c.sendMsg(ServerMessage{
				Type:      MsgSelect,
				Revision:  s.doc.Version,
				Selection: &sel,
				ClientID:  p.client.ID,
			})
		}
	}
	p.reportHistory(false, nil)
}

func (s *Session) handleHistory(p *participant, request string) {
	var run func(history.Target) (bool, error)
	switch request {
	case MsgUndo:
		run = p.hist.Undo
	case MsgRedo:
		run = p.hist.Redo
	case MsgUndoSelection:
		run = p.hist.UndoSelection
	case MsgRedoSelection:
		run = p.hist.RedoSelection
	}
	s.replayHistory(p, request, run)
}

// replayHistory runs one history step for p. Whatever reached the document
// is broadcast, even when the step reports an error afterwards.
func (s *Session) replayHistory(p *participant, request string, run func(history.Target) (bool, error)) {
	version := s.doc.Version
	applied, err := run(p)
	outcome := "empty"
	switch {
	case err != nil:
		outcome = "error"
		s.logger.Errorw("history step failed", "client", p.client.ID, "request", request, "error", err)
	case applied:
		outcome = "applied"
	}
	s.metrics.historySteps.WithLabelValues(request, outcome).Inc()

	if s.doc.Version != version {
		op := s.doc.History[len(s.doc.History)-1]
		for c := range s.clients {
			c.sendMsg(ServerMessage{
				Type:     MsgOp,
				DocID:    s.docID,
				Revision: s.doc.Version,
				Op:       op,
				ClientID: p.client.ID,
			})
		}
	}
	if err != nil {
		p.client.sendError(request + " failed")
	}
	sel := p.sel
	p.reportHistory(true, &sel)
}

// ApplyPop replays a pop of the participant's history on the shared
// document.
func (p *participant) ApplyPop(pop *history.Pop) error {
	s := p.session
	start := p.sel
	inverse, err := s.doc.ApplyInverse(pop.Changes)
	if err != nil {
		return err
	}
	p.sel = pop.Selection.Clamp(len(s.doc.Content))
	err = p.hist.Observe(history.Transaction{
		Changes:        pop.Changes,
		Inverse:        inverse,
		StartSelection: start,
		Selection:      p.sel,
		Effects:        pop.Effects,
		UserEvent:      pop.UserEvent(),
		Time:           s.now(),
		FromHistory:    pop,
	})
	if !pop.Changes.IsNoop() {
		s.commit(p, pop.Changes, "history")
	}
	return err
}

// reportHistory tells the client its undo and redo depths, unless they are
// unchanged and nothing forces the message.
func (p *participant) reportHistory(force bool, sel *ot.Selection) {
	undo, redo := p.hist.UndoDepth(), p.hist.RedoDepth()
	if !force && undo == p.reportedUndo && redo == p.reportedRedo {
		return
	}
	p.reportedUndo, p.reportedRedo = undo, redo
	p.client.sendMsg(ServerMessage{
		Type:      MsgHistory,
		DocID:     p.session.docID,
		Revision:  p.session.doc.Version,
		Selection: sel,
		UndoDepth: undo,
		RedoDepth: redo,
	})
}

func (s *Session) clientInfos() []ClientInfo {
	infos := make([]ClientInfo, 0, len(s.clients))
	for c := range s.clients {
		infos = append(infos, c.Info())
	}
	return infos
}
