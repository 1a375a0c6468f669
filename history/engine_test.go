package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimasry/go-collab-history/ot"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// textHost is the smallest Target: a string and a selection.
type textHost struct {
	t   *testing.T
	eng *Engine
	doc string
	sel ot.Selection
	now time.Time
}

func newTextHost(t *testing.T, cfg Config, opts ...Option) *textHost {
	t.Helper()
	eng, err := NewEngine(cfg, opts...)
	require.NoError(t, err)
	return &textHost{t: t, eng: eng, sel: ot.Cursor(0), now: epoch}
}

func (h *textHost) apply(op ot.Operation) ot.Operation {
	h.t.Helper()
	inv, err := op.Invert(h.doc)
	require.NoError(h.t, err)
	h.doc, err = ot.Apply(h.doc, op)
	require.NoError(h.t, err)
	return inv
}

func (h *textHost) dispatch(tr Transaction) {
	h.t.Helper()
	tr.StartSelection = h.sel
	if tr.Selection.IsZero() {
		tr.Selection = h.sel.Map(tr.Changes)
	}
	if tr.Changes.Ops == nil {
		tr.Changes = ot.Identity(len(h.doc))
	}
	tr.Inverse = h.apply(tr.Changes)
	tr.Time = h.now
	h.sel = tr.Selection
	require.NoError(h.t, h.eng.Observe(tr))
}

func (h *textHost) insert(pos int, text, event string) {
	h.t.Helper()
	h.dispatch(Transaction{
		Changes:   ot.NewInsert(pos, text, len(h.doc)),
		Selection: ot.Cursor(pos + len(text)),
		UserEvent: event,
	})
}

func (h *textHost) untracked(op ot.Operation) {
	h.t.Helper()
	h.dispatch(Transaction{Changes: op, SkipHistory: true})
}

func (h *textHost) selectRange(anchor, head int, event string) {
	h.t.Helper()
	h.dispatch(Transaction{Selection: ot.Span(anchor, head), UserEvent: event})
}

func (h *textHost) wait(d time.Duration) { h.now = h.now.Add(d) }

func (h *textHost) ApplyPop(p *Pop) error {
	inv, err := p.Changes.Invert(h.doc)
	if err != nil {
		return err
	}
	doc, err := ot.Apply(h.doc, p.Changes)
	if err != nil {
		return err
	}
	start := h.sel
	h.doc, h.sel = doc, p.Selection
	return h.eng.Observe(Transaction{
		Changes:        p.Changes,
		Inverse:        inv,
		StartSelection: start,
		Selection:      p.Selection,
		Effects:        p.Effects,
		UserEvent:      p.UserEvent(),
		Time:           h.now,
		FromHistory:    p,
	})
}

func (h *textHost) undo() bool {
	h.t.Helper()
	ok, err := h.eng.Undo(h)
	require.NoError(h.t, err)
	return ok
}

func (h *textHost) redo() bool {
	h.t.Helper()
	ok, err := h.eng.Redo(h)
	require.NoError(h.t, err)
	return ok
}

func TestEngine_GroupsWithinDelay(t *testing.T) {
	h := newTextHost(t, DefaultConfig())
	h.insert(0, "a", "input.type")
	h.wait(100 * time.Millisecond)
	h.insert(1, "b", "input.type")
	assert.Equal(t, 1, h.eng.UndoDepth())

	h.wait(time.Second)
	h.insert(2, "c", "input.type")
	assert.Equal(t, 2, h.eng.UndoDepth())

	require.True(t, h.undo())
	assert.Equal(t, "ab", h.doc)
	require.True(t, h.undo())
	assert.Equal(t, "", h.doc)
	assert.False(t, h.undo())
}

func TestEngine_UserEventBreaksGroup(t *testing.T) {
	h := newTextHost(t, DefaultConfig())
	h.insert(0, "a", "input.type")
	h.insert(1, "b", "input.paste")
	h.insert(2, "c", "paste")
	assert.Equal(t, 2, h.eng.UndoDepth(), "only events under join prefixes merge")
}

func TestEngine_IsolateAfter(t *testing.T) {
	h := newTextHost(t, DefaultConfig())
	h.dispatch(Transaction{
		Changes:   ot.NewInsert(0, "a", 0),
		UserEvent: "input",
		Isolate:   IsolateAfter,
	})
	h.insert(1, "b", "input")
	assert.Equal(t, 2, h.eng.UndoDepth())
}

func TestEngine_IsolateBefore(t *testing.T) {
	h := newTextHost(t, DefaultConfig())
	h.insert(0, "a", "input")
	h.wait(100 * time.Millisecond)
	h.dispatch(Transaction{
		Changes:   ot.NewInsert(1, "b", 1),
		Selection: ot.Cursor(2),
		UserEvent: "input",
		Isolate:   IsolateBefore,
	})
	assert.Equal(t, 2, h.eng.UndoDepth())

	// The boundary is only before "b"; the next edit joins it.
	h.wait(100 * time.Millisecond)
	h.insert(2, "c", "input")
	assert.Equal(t, 2, h.eng.UndoDepth())

	require.True(t, h.undo())
	assert.Equal(t, "a", h.doc)
	require.True(t, h.undo())
	assert.Equal(t, "", h.doc)
}

func TestEngine_UndoRedoRoundTrip(t *testing.T) {
	h := newTextHost(t, DefaultConfig())
	for i, word := range []string{"one ", "two ", "three"} {
		h.wait(time.Second)
		h.insert(len(h.doc), word, "input")
		require.Equal(t, i+1, h.eng.UndoDepth())
	}
	final := h.doc

	for h.undo() {
	}
	assert.Equal(t, "", h.doc)
	assert.Equal(t, 3, h.eng.RedoDepth())
	assert.True(t, h.sel.Eq(ot.Cursor(0)))

	for h.redo() {
	}
	assert.Equal(t, final, h.doc)
	assert.Equal(t, 3, h.eng.UndoDepth())
	assert.Equal(t, 0, h.eng.RedoDepth())
}

func TestEngine_NewEditClearsRedo(t *testing.T) {
	h := newTextHost(t, DefaultConfig())
	h.insert(0, "a", "input")
	require.True(t, h.undo())
	require.True(t, h.eng.CanRedo(OnlyChanges))

	h.insert(0, "b", "input")
	assert.False(t, h.eng.CanRedo(OnlyChanges))
}

func TestEngine_UntrackedEdit(t *testing.T) {
	h := newTextHost(t, DefaultConfig())
	h.insert(0, "hello", "input")
	h.wait(time.Second)
	h.insert(5, "!", "input")
	h.untracked(ot.NewInsert(0, "oops", 6))

	require.True(t, h.undo())
	assert.Equal(t, "oopshello", h.doc)
	require.True(t, h.undo())
	assert.Equal(t, "oops", h.doc)

	require.True(t, h.redo())
	assert.Equal(t, "oopshello", h.doc)
	require.True(t, h.redo())
	assert.Equal(t, "oopshello!", h.doc)
}

func TestEngine_UndoSelectionStopsAtUntracked(t *testing.T) {
	h := newTextHost(t, DefaultConfig())
	h.insert(0, "a", "input")
	h.untracked(ot.NewInsert(1, "b", 1))

	assert.False(t, h.eng.CanUndo(Any))
	ok, err := h.eng.UndoSelection(h)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "ab", h.doc)
}

func TestEngine_SelectionSteps(t *testing.T) {
	t.Run("distinct causes", func(t *testing.T) {
		h := newTextHost(t, DefaultConfig())
		h.insert(0, "hello world", "input")
		h.wait(time.Second)
		h.selectRange(1, 1, "select.a")
		h.selectRange(2, 2, "select.b")
		h.selectRange(3, 3, "select.c")
		assert.Equal(t, 4, h.eng.UndoDepth())
	})
	t.Run("same cause collapses", func(t *testing.T) {
		h := newTextHost(t, DefaultConfig())
		h.insert(0, "hello world", "input")
		h.wait(time.Second)
		h.selectRange(1, 1, "select")
		h.selectRange(2, 2, "select")
		h.selectRange(3, 3, "select")
		assert.Equal(t, 2, h.eng.UndoDepth())

		require.True(t, h.undo())
		assert.Equal(t, "hello world", h.doc)
		assert.True(t, h.sel.Eq(ot.Cursor(11)), "selection %+v", h.sel)
	})
	t.Run("shape change starts a step", func(t *testing.T) {
		h := newTextHost(t, DefaultConfig())
		h.insert(0, "hello world", "input")
		h.wait(time.Second)
		h.selectRange(1, 1, "select")
		h.selectRange(1, 4, "select")
		assert.Equal(t, 3, h.eng.UndoDepth())
	})
	t.Run("keeps redo", func(t *testing.T) {
		h := newTextHost(t, DefaultConfig())
		h.insert(0, "hello", "input")
		h.wait(time.Second)
		h.insert(5, " world", "input")
		require.True(t, h.undo())
		h.selectRange(1, 1, "select")
		assert.Equal(t, 2, h.eng.UndoDepth())
		assert.Equal(t, 1, h.eng.RedoDepth())
	})
}

func TestEngine_DepthCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinDepth = 10
	h := newTextHost(t, cfg)
	for i := 0; i < 40; i++ {
		h.dispatch(Transaction{
			Changes:   ot.NewInsert(len(h.doc), "x", len(h.doc)),
			UserEvent: "input",
			Isolate:   IsolateFull,
		})
	}
	depth := h.eng.UndoDepth()
	assert.GreaterOrEqual(t, depth, cfg.MinDepth)
	assert.Less(t, depth, 40)
}

func TestEngine_Config(t *testing.T) {
	_, err := NewEngine(Config{MinDepth: 1, MergePolicy: "nope"})
	assert.ErrorIs(t, err, ErrUnknownPolicy)

	_, err = NewEngine(Config{MinDepth: 0})
	assert.Error(t, err)

	reg := NewRegistry()
	require.NoError(t, reg.RegisterPolicy("paragraphs", MergeFunc(func(_, next ot.Operation) bool {
		return next.InsertedText() != "\n"
	})))
	assert.Error(t, reg.RegisterPolicy("paragraphs", Always{}))

	cfg := DefaultConfig()
	cfg.MergePolicy = "paragraphs"
	h := newTextHost(t, cfg, WithRegistry(reg))
	h.insert(0, "a", "input")
	h.insert(1, "b", "input")
	h.insert(2, "\n", "input")
	assert.Equal(t, 2, h.eng.UndoDepth())
}

func TestEngine_WordsPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MergePolicy = PolicyWords
	h := newTextHost(t, cfg)
	for _, c := range []string{"h", "i", " ", "y", "o"} {
		h.insert(len(h.doc), c, "input")
	}
	assert.Equal(t, 2, h.eng.UndoDepth())
	require.True(t, h.undo())
	assert.Equal(t, "hi", h.doc)
}

func TestEngine_RejectsMismatchedInverse(t *testing.T) {
	eng, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	err = eng.Observe(Transaction{
		Changes: ot.NewInsert(0, "a", 0),
		Inverse: ot.Identity(3),
	})
	assert.Error(t, err)
	assert.Equal(t, 0, eng.UndoDepth())
}

func TestParseIsolation(t *testing.T) {
	for in, want := range map[string]Isolation{
		"": IsolateNone, "before": IsolateBefore, "after": IsolateAfter, "full": IsolateFull,
	} {
		got, err := ParseIsolation(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseIsolation("sideways")
	assert.Error(t, err)
}
