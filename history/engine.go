package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alimasry/go-collab-history/ot"
)

// Config controls grouping and depth.
type Config struct {
	// MinDepth is the number of steps always kept on each branch.
	MinDepth int `mapstructure:"min_depth" validate:"min=1"`
	// NewGroupDelay is the longest gap between two events that may still
	// share a step.
	NewGroupDelay time.Duration `mapstructure:"new_group_delay" validate:"min=0"`
	// MergePolicy names the registered policy deciding whether adjacent
	// edits share a step.
	MergePolicy string `mapstructure:"merge_policy" validate:"required"`
	// JoinEvents are the user event prefixes whose edits may merge. Edits
	// without a user event may always merge.
	JoinEvents []string `mapstructure:"join_events"`
	// SelectEvents are the user event prefixes whose selection changes may
	// merge with the previous selection step.
	SelectEvents []string `mapstructure:"select_events"`
}

// DefaultConfig returns the settings editors commonly use.
func DefaultConfig() Config {
	return Config{
		MinDepth:      100,
		NewGroupDelay: 500 * time.Millisecond,
		MergePolicy:   PolicyAdjacent,
		JoinEvents:    []string{"input", "delete"},
		SelectEvents:  []string{"select"},
	}
}

// Isolation forces a transaction into its own step.
type Isolation int

const (
	IsolateNone Isolation = iota
	// IsolateBefore keeps the transaction from merging with earlier events.
	IsolateBefore
	// IsolateAfter keeps later events from merging with the transaction.
	IsolateAfter
	// IsolateFull applies both.
	IsolateFull
)

// ParseIsolation maps "", "before", "after" and "full" to an Isolation.
func ParseIsolation(s string) (Isolation, error) {
	switch s {
	case "", "none":
		return IsolateNone, nil
	case "before":
		return IsolateBefore, nil
	case "after":
		return IsolateAfter, nil
	case "full":
		return IsolateFull, nil
	}
	return IsolateNone, fmt.Errorf("unknown isolation %q", s)
}

func (i Isolation) before() bool { return i == IsolateBefore || i == IsolateFull }
func (i Isolation) after() bool  { return i == IsolateAfter || i == IsolateFull }

// Transaction describes one applied edit as the history sees it. Changes
// always spans the whole starting document; a transaction without edits
// carries ot.Identity of the document length.
type Transaction struct {
	Changes ot.Operation
	// Inverse undoes Changes. The host computes it from the text it owns.
	Inverse        ot.Operation
	StartSelection ot.Selection
	Selection      ot.Selection
	// Effects are the extension effects the transaction carried.
	Effects []Effect
	// SkipHistory marks an edit the history must not record, such as a
	// remote collaborator's change.
	SkipHistory bool
	Isolate     Isolation
	// UserEvent names the cause of the transaction, e.g. "input.type" or
	// "select.pointer".
	UserEvent string
	// Time is when the transaction happened; zero means now.
	Time time.Time
	// FromHistory is set on the transaction that replays a Pop.
	FromHistory *Pop
}

// Pop is a record taken off one branch, ready for the host to apply.
type Pop struct {
	Side   Side
	Filter PopFilter
	Popped
}

// UserEvent names the transaction that replays p.
func (p *Pop) UserEvent() string {
	ev := "undo"
	if p.Side == Undone {
		ev = "redo"
	}
	if p.Filter == Any {
		ev += ".selection"
	}
	return ev
}

// Target applies pops. ApplyPop must apply p to the document and then pass
// the resulting transaction, with FromHistory set to p, to Engine.Observe.
type Target interface {
	ApplyPop(p *Pop) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRegistry sets the registry policies, inverters and effect decoders are
// looked up in.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithClock sets the clock used for transactions without a Time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine records the transactions of one editor and answers undo and redo.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	policy   MergePolicy
	state    State
	registry *Registry
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewEngine returns an engine with empty history.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.MinDepth < 1 {
		return nil, fmt.Errorf("min depth must be positive, got %d", cfg.MinDepth)
	}
	if cfg.MergePolicy == "" {
		cfg.MergePolicy = PolicyAdjacent
	}
	e := &Engine{
		cfg:    cfg,
		logger: zap.NewNop().Sugar(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	p, err := e.registry.Policy(cfg.MergePolicy)
	if err != nil {
		return nil, err
	}
	e.policy = p
	return e, nil
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Observe records tr.
func (e *Engine) Observe(tr Transaction) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !tr.Changes.IsNoop() && tr.Changes.TargetLen() != tr.Inverse.BaseLen() && !tr.SkipHistory {
		return fmt.Errorf("inverse expects length %d, changes produce %d",
			tr.Inverse.BaseLen(), tr.Changes.TargetLen())
	}
	if tr.FromHistory != nil {
		return e.observePop(tr)
	}

	state := e.state
	if tr.Isolate.before() {
		state = state.Isolate()
	}
	if tr.SkipHistory {
		e.state = state.AddMapping(tr.Changes, e.cfg.MinDepth)
		return nil
	}

	at := tr.Time
	if at.IsZero() {
		at = e.now()
	}
	effects := e.registry.invertEffects(tr)
	before := state.done.EventCount()

	switch {
	case !tr.Changes.IsNoop() || len(effects) > 0:
		inverse := tr.Inverse
		if tr.Changes.IsNoop() {
			inverse = tr.Changes
		}
		rec := ChangeRecord{
			Changes:   tr.Changes,
			Inverse:   inverse,
			Selection: tr.StartSelection,
			Effects:   effects,
		}
		next, err := state.AddChanges(rec, at, tr.UserEvent, e.cfg.MinDepth, e.mergePolicy(state, at, tr.UserEvent))
		if err != nil {
			return fmt.Errorf("record transaction: %w", err)
		}
		state = next
	case !tr.StartSelection.Eq(tr.Selection):
		rec := ChangeRecord{
			Changes:   tr.Changes,
			Inverse:   tr.Changes,
			Selection: tr.StartSelection,
		}
		state = state.AddSelection(rec, at, tr.UserEvent, e.mergeSelection(state, at, tr), e.cfg.MinDepth)
	default:
		return nil
	}

	if after := state.done.EventCount(); after < before {
		e.logger.Debugw("history trimmed", "from", before, "to", after)
	}
	if tr.Isolate.after() {
		state = state.Isolate()
	}
	e.state = state
	return nil
}

// mergePolicy returns the policy for an edit at time at, or nil when the
// edit must start a new step.
func (e *Engine) mergePolicy(s State, at time.Time, userEvent string) MergePolicy {
	if s.lastEditTime.IsZero() || at.Sub(s.lastEditTime) >= e.cfg.NewGroupDelay {
		return nil
	}
	if userEvent != "" && !matchesEvent(userEvent, e.cfg.JoinEvents) {
		return nil
	}
	return e.policy
}

// mergeSelection reports whether a selection change extends the selection
// step on top of the done branch.
func (e *Engine) mergeSelection(s State, at time.Time, tr Transaction) bool {
	if s.lastEditTime.IsZero() || at.Sub(s.lastEditTime) >= e.cfg.NewGroupDelay {
		return false
	}
	if tr.UserEvent == "" || tr.UserEvent != s.lastUserEvent || !matchesEvent(tr.UserEvent, e.cfg.SelectEvents) {
		return false
	}
	if !tr.StartSelection.SameShape(tr.Selection) {
		return false
	}
	top, ok := s.done.Top()
	if !ok {
		return false
	}
	rec, ok := top.(ChangeRecord)
	return ok && rec.SelectionOnly()
}

func (e *Engine) observePop(tr Transaction) error {
	p := tr.FromHistory
	inverse := tr.Inverse
	if tr.Changes.IsNoop() {
		inverse = tr.Changes
	}
	rec := ChangeRecord{
		Changes:   tr.Changes,
		Inverse:   inverse,
		Selection: tr.StartSelection,
		Effects:   e.registry.invertEffects(tr),
	}
	other, err := e.state.Branch(p.Side.Opposite()).AddChanges(rec, e.cfg.MinDepth, nil)
	if err != nil {
		return fmt.Errorf("record %s: %w", p.UserEvent(), err)
	}
	e.state = e.state.withPopped(p.Side, p.Rest, other)
	return nil
}

// Pop takes the newest record allowed by filter off side. The history is not
// changed until the transaction replaying the pop is observed.
func (e *Engine) Pop(side Side, filter PopFilter) (*Pop, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	popped, err := e.state.Branch(side).Pop(filter)
	if err != nil {
		return nil, err
	}
	if popped.Absorbed {
		e.logger.Debugw("undo step absorbed by untracked edits", "side", side)
	}
	return &Pop{Side: side, Filter: filter, Popped: popped}, nil
}

func (e *Engine) run(t Target, side Side, filter PopFilter) (bool, error) {
	p, err := e.Pop(side, filter)
	if errors.Is(err, ErrEmptyBranch) || errors.Is(err, ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := t.ApplyPop(p); err != nil {
		return false, fmt.Errorf("apply %s: %w", p.UserEvent(), err)
	}
	return true, nil
}

// Undo reverts the newest step. It reports false when there is nothing to
// undo.
func (e *Engine) Undo(t Target) (bool, error) { return e.run(t, Done, OnlyChanges) }

// Redo reapplies the newest undone step.
func (e *Engine) Redo(t Target) (bool, error) { return e.run(t, Undone, OnlyChanges) }

// UndoSelection reverts the newest step only when no untracked edit came
// after it.
func (e *Engine) UndoSelection(t Target) (bool, error) { return e.run(t, Done, Any) }

// RedoSelection is UndoSelection for the undone branch.
func (e *Engine) RedoSelection(t Target) (bool, error) { return e.run(t, Undone, Any) }

// CanUndo reports whether Undo (OnlyChanges) or UndoSelection (Any) would do
// anything.
func (e *Engine) CanUndo(filter PopFilter) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.done.CanPop(filter)
}

// CanRedo is CanUndo for the undone branch.
func (e *Engine) CanRedo(filter PopFilter) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.undone.CanPop(filter)
}

// UndoDepth returns the number of steps on the done branch.
func (e *Engine) UndoDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.done.EventCount()
}

// RedoDepth returns the number of steps on the undone branch.
func (e *Engine) RedoDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.undone.EventCount()
}

// AddMapping records an edit the history does not own.
func (e *Engine) AddMapping(op ot.Operation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = e.state.AddMapping(op, e.cfg.MinDepth)
}

// Isolate forces the next event into a new step.
func (e *Engine) Isolate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = e.state.Isolate()
}

// State returns the current snapshot.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetState replaces the history.
func (e *Engine) SetState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

// MarshalJSON encodes both branches. Grouping time is not kept.
func (e *Engine) MarshalJSON() ([]byte, error) {
	return EncodeState(e.State())
}

// Restore replaces the history with one produced by MarshalJSON. Effects are
// decoded with the engine's registry.
func (e *Engine) Restore(data []byte) error {
	s, err := DecodeState(data, e.registry)
	if err != nil {
		return err
	}
	e.SetState(s)
	e.logger.Debugw("history restored", "undo", s.done.EventCount(), "redo", s.undone.EventCount())
	return nil
}

var _ json.Marshaler = (*Engine)(nil)
