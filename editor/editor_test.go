package editor

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimasry/go-collab-history/history"
	"github.com/alimasry/go-collab-history/ot"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newEditor(t *testing.T, content string, cfg history.Config) (*Editor, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	ed, err := New(content, cfg, WithClock(clk.now))
	require.NoError(t, err)
	return ed, clk
}

func mustUndo(t *testing.T, ed *Editor) {
	t.Helper()
	ok, err := ed.Undo()
	require.NoError(t, err)
	require.True(t, ok, "nothing to undo")
}

func mustRedo(t *testing.T, ed *Editor) {
	t.Helper()
	ok, err := ed.Redo()
	require.NoError(t, err)
	require.True(t, ok, "nothing to redo")
}

type snapshot struct {
	text string
	sel  ot.Selection
}

func TestEditor_RoundTrip(t *testing.T) {
	never := history.DefaultConfig()
	never.MergePolicy = history.PolicyNever
	configs := map[string]history.Config{
		"default": history.DefaultConfig(),
		"never":   never,
	}
	for name, cfg := range configs {
		for seed := int64(1); seed <= 5; seed++ {
			t.Run(name, func(t *testing.T) {
				ed, _ := newEditor(t, "", cfg)
				rng := rand.New(rand.NewSource(seed))
				for i := 0; i < 30; i++ {
					n := len(ed.Text())
					if n > 0 && rng.Intn(3) == 0 {
						pos := rng.Intn(n)
						require.NoError(t, ed.Delete(pos, min(1+rng.Intn(3), n-pos), "delete"))
						continue
					}
					require.NoError(t, ed.Insert(rng.Intn(n+1), string(rune('a'+rng.Intn(26))), "input"))
				}

				seen := []snapshot{{ed.Text(), ed.Selection()}}
				depth := ed.UndoDepth()
				for i := 0; i < depth; i++ {
					mustUndo(t, ed)
					seen = append(seen, snapshot{ed.Text(), ed.Selection()})
				}
				assert.Equal(t, "", ed.Text())
				assert.Equal(t, 0, ed.UndoDepth())
				assert.Equal(t, depth, ed.RedoDepth())

				for i := len(seen) - 2; i >= 0; i-- {
					mustRedo(t, ed)
					assert.Equal(t, seen[i].text, ed.Text())
					assert.True(t, seen[i].sel.Eq(ed.Selection()), "selection %+v, want %+v", ed.Selection(), seen[i].sel)
				}
				assert.Equal(t, depth, ed.UndoDepth())
			})
		}
	}
}

func TestEditor_MergeGrouping(t *testing.T) {
	ed, clk := newEditor(t, "", history.DefaultConfig())
	require.NoError(t, ed.Insert(0, "o", "input.type"))
	require.NoError(t, ed.Insert(1, "n", "input.type"))
	require.NoError(t, ed.Insert(2, "e", "input.type"))
	assert.Equal(t, 1, ed.UndoDepth())

	ed, clk = newEditor(t, "", history.DefaultConfig())
	require.NoError(t, ed.Insert(0, "a", "input.type"))
	clk.advance(history.DefaultConfig().NewGroupDelay + time.Millisecond)
	require.NoError(t, ed.Insert(1, "b", "input.type"))
	assert.Equal(t, 2, ed.UndoDepth())
}

func TestEditor_UntrackedEdit(t *testing.T) {
	ed, _ := newEditor(t, "hello", history.DefaultConfig())
	require.NoError(t, ed.Select(ot.Cursor(5), "select"))
	require.NoError(t, ed.Insert(5, "!", "input"))
	require.NoError(t, ed.Dispatch(Spec{
		Changes:     ot.NewInsert(0, "oops", len(ed.Text())),
		SkipHistory: true,
	}))
	require.Equal(t, "oopshello!", ed.Text())

	mustUndo(t, ed)
	assert.Equal(t, "oopshello", ed.Text())
	assert.True(t, ed.Selection().Eq(ot.Cursor(9)), "cursor follows the shift")
	assert.Equal(t, 1, ed.UndoDepth(), "only the selection step is left")

	mustRedo(t, ed)
	assert.Equal(t, "oopshello!", ed.Text())
}

func TestEditor_DepthCap(t *testing.T) {
	cfg := history.DefaultConfig()
	cfg.MinDepth = 10
	ed, _ := newEditor(t, "", cfg)
	for i := 0; i < 40; i++ {
		require.NoError(t, ed.Dispatch(Spec{
			Changes:   ot.NewInsert(len(ed.Text()), "x", len(ed.Text())),
			UserEvent: "input",
			Isolate:   history.IsolateFull,
		}))
	}
	assert.Less(t, ed.UndoDepth(), 40)
	assert.GreaterOrEqual(t, ed.UndoDepth(), cfg.MinDepth)
}

func TestEditor_SelectionSteps(t *testing.T) {
	t.Run("distinct causes", func(t *testing.T) {
		ed, _ := newEditor(t, "hello world", history.DefaultConfig())
		require.NoError(t, ed.Select(ot.Cursor(1), "select.pointer"))
		require.NoError(t, ed.Select(ot.Cursor(2), "select.keyboard"))
		require.NoError(t, ed.Select(ot.Cursor(3), "select.search"))
		assert.Equal(t, 3, ed.UndoDepth())
	})
	t.Run("same keyboard cause", func(t *testing.T) {
		ed, _ := newEditor(t, "hello world", history.DefaultConfig())
		require.NoError(t, ed.Select(ot.Cursor(1), "select"))
		require.NoError(t, ed.Select(ot.Cursor(2), "select"))
		require.NoError(t, ed.Select(ot.Cursor(3), "select"))
		assert.Equal(t, 1, ed.UndoDepth())

		ok, err := ed.UndoSelection()
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, ed.Selection().Eq(ot.Cursor(0)))

		ok, err = ed.RedoSelection()
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, ed.Selection().Eq(ot.Cursor(3)))
	})
}

func TestEditor_Serialization(t *testing.T) {
	ed, clk := newEditor(t, "", history.DefaultConfig())
	require.NoError(t, ed.Insert(0, "hello", "input"))
	clk.advance(time.Second)
	require.NoError(t, ed.Insert(5, " world", "input"))
	clk.advance(time.Second)
	require.NoError(t, ed.AddLabel("greet", 0, 5))
	mustUndo(t, ed)
	require.Equal(t, 2, ed.UndoDepth())
	require.Equal(t, 1, ed.RedoDepth())

	data, err := ed.History().MarshalJSON()
	require.NoError(t, err)

	restored, _ := newEditor(t, ed.Text(), history.DefaultConfig())
	require.NoError(t, restored.History().Restore(data))
	assert.Equal(t, ed.UndoDepth(), restored.UndoDepth())
	assert.Equal(t, ed.RedoDepth(), restored.RedoDepth())

	mustRedo(t, ed)
	mustRedo(t, restored)
	assert.Equal(t, ed.Labels(), restored.Labels())

	mustUndo(t, ed)
	mustUndo(t, restored)
	mustUndo(t, ed)
	mustUndo(t, restored)
	assert.Equal(t, "hello", ed.Text())
	assert.Equal(t, ed.Text(), restored.Text())
}
