// Package editor is a single-user document host for the history engine: it
// owns the text, the selection and a set of named range labels, turns every
// edit into a history.Transaction and replays undo and redo pops.
package editor

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alimasry/go-collab-history/history"
	"github.com/alimasry/go-collab-history/ot"
)

// Spec describes a transaction to dispatch.
type Spec struct {
	// Changes spans the whole current document. The zero value means no edit.
	Changes ot.Operation
	// Selection replaces the selection after Changes; nil maps the current one.
	Selection *ot.Selection
	// Effects apply after Changes, in post-change positions.
	Effects     []history.Effect
	UserEvent   string
	Isolate     history.Isolation
	SkipHistory bool
}

// Option configures an Editor.
type Option func(*Editor)

// WithLogger sets the logger used by the editor and its history.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Editor) { e.logger = l }
}

// WithClock sets the clock transactions are stamped with.
func WithClock(now func() time.Time) Option {
	return func(e *Editor) { e.now = now }
}

// Editor is not safe for concurrent use.
type Editor struct {
	text    string
	version int
	sel     ot.Selection
	labels  []Label
	hist    *history.Engine
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// New returns an editor holding content with a cursor at its start.
func New(content string, cfg history.Config, opts ...Option) (*Editor, error) {
	e := &Editor{
		text:   content,
		sel:    ot.Cursor(0),
		logger: zap.NewNop().Sugar(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	reg := history.NewRegistry()
	RegisterLabels(reg, func() []Label { return e.labels })
	hist, err := history.NewEngine(cfg,
		history.WithRegistry(reg),
		history.WithLogger(e.logger),
		history.WithClock(e.now),
	)
	if err != nil {
		return nil, fmt.Errorf("create history: %w", err)
	}
	e.hist = hist
	return e, nil
}

func (e *Editor) Text() string             { return e.text }
func (e *Editor) Version() int             { return e.version }
func (e *Editor) Selection() ot.Selection  { return e.sel }
func (e *Editor) History() *history.Engine { return e.hist }

// Labels returns a copy of the current labels in the order they were added.
func (e *Editor) Labels() []Label { return append([]Label(nil), e.labels...) }

// Dispatch applies s and records it.
func (e *Editor) Dispatch(s Spec) error {
	return e.dispatch(s, nil)
}

func (e *Editor) dispatch(s Spec, from *history.Pop) error {
	changes := s.Changes
	if changes.Ops == nil {
		changes = ot.Identity(len(e.text))
	}
	inverse, err := changes.Invert(e.text)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	text, err := ot.Apply(e.text, changes)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	sel := e.sel.Map(changes)
	if s.Selection != nil {
		sel = *s.Selection
	}
	sel = sel.Clamp(len(text))
	labels := applyLabelEffects(mapLabels(e.labels, changes), s.Effects, len(text))

	// Observe runs before the new state is committed so inverters see the
	// labels as they were.
	tr := history.Transaction{
		Changes:        changes,
		Inverse:        inverse,
		StartSelection: e.sel,
		Selection:      sel,
		Effects:        s.Effects,
		SkipHistory:    s.SkipHistory,
		Isolate:        s.Isolate,
		UserEvent:      s.UserEvent,
		Time:           e.now(),
		FromHistory:    from,
	}
	if err := e.hist.Observe(tr); err != nil {
		return err
	}

	if !changes.IsNoop() {
		e.version++
	}
	e.text, e.sel, e.labels = text, sel, labels
	return nil
}

// Insert inserts text at pos and leaves the cursor after it.
func (e *Editor) Insert(pos int, text, event string) error {
	sel := ot.Cursor(pos + len(text))
	return e.Dispatch(Spec{
		Changes:   ot.NewInsert(pos, text, len(e.text)),
		Selection: &sel,
		UserEvent: event,
	})
}

// Delete removes n bytes at pos.
func (e *Editor) Delete(pos, n int, event string) error {
	sel := ot.Cursor(pos)
	return e.Dispatch(Spec{
		Changes:   ot.NewDelete(pos, n, len(e.text)),
		Selection: &sel,
		UserEvent: event,
	})
}

// Replace replaces n bytes at pos with text.
func (e *Editor) Replace(pos, n int, text, event string) error {
	sel := ot.Cursor(pos + len(text))
	return e.Dispatch(Spec{
		Changes:   ot.NewReplace(pos, n, text, len(e.text)),
		Selection: &sel,
		UserEvent: event,
	})
}

// Select moves the selection without editing.
func (e *Editor) Select(sel ot.Selection, event string) error {
	return e.Dispatch(Spec{Selection: &sel, UserEvent: event})
}

// ApplyPop replays a history pop. It implements history.Target.
func (e *Editor) ApplyPop(p *history.Pop) error {
	sel := p.Selection
	return e.dispatch(Spec{
		Changes:   p.Changes,
		Selection: &sel,
		Effects:   p.Effects,
		UserEvent: p.UserEvent(),
	}, p)
}

func (e *Editor) Undo() (bool, error)          { return e.hist.Undo(e) }
func (e *Editor) Redo() (bool, error)          { return e.hist.Redo(e) }
func (e *Editor) UndoSelection() (bool, error) { return e.hist.UndoSelection(e) }
func (e *Editor) RedoSelection() (bool, error) { return e.hist.RedoSelection(e) }
func (e *Editor) UndoDepth() int               { return e.hist.UndoDepth() }
func (e *Editor) RedoDepth() int               { return e.hist.RedoDepth() }
