package history

import (
	"fmt"

	"github.com/alimasry/go-collab-history/ot"
)

// Grace is how far a branch may grow past its depth limit before it is
// trimmed, so that trimming does not run on every push.
const Grace = 20

// PopFilter selects which item a pop may stop at.
type PopFilter int

const (
	// OnlyChanges skips pass-through items, rebasing the change record
	// beneath them.
	OnlyChanges PopFilter = iota
	// Any only pops the top item, and only when it is a change record.
	Any
)

func (f PopFilter) String() string {
	if f == Any {
		return "any"
	}
	return "only-changes"
}

// Branch is an immutable list of items, oldest first.
type Branch struct {
	items []Item
}

// NewBranch returns a branch holding a copy of items.
func NewBranch(items ...Item) Branch {
	return Branch{items: append([]Item(nil), items...)}
}

// Len returns the number of items, pass-throughs included.
func (b Branch) Len() int { return len(b.items) }

// Items returns a copy of the branch's items.
func (b Branch) Items() []Item { return append([]Item(nil), b.items...) }

// EventCount returns the number of change records.
func (b Branch) EventCount() int {
	n := 0
	for _, it := range b.items {
		if _, ok := it.(ChangeRecord); ok {
			n++
		}
	}
	return n
}

// Top returns the newest item.
func (b Branch) Top() (Item, bool) {
	if len(b.items) == 0 {
		return nil, false
	}
	return b.items[len(b.items)-1], true
}

// CanPop reports whether Pop with filter would succeed.
func (b Branch) CanPop(filter PopFilter) bool {
	if filter == Any {
		top, ok := b.Top()
		if !ok {
			return false
		}
		_, isChange := top.(ChangeRecord)
		return isChange
	}
	return b.EventCount() > 0
}

// AddChanges records rec. When the top item is a change record that policy
// allows rec to merge with, rec is folded into it; otherwise rec is appended.
// A nil policy never merges.
func (b Branch) AddChanges(rec ChangeRecord, maxDepth int, policy MergePolicy) (Branch, error) {
	n := len(b.items)
	if n > 0 && policy != nil {
		if last, ok := b.items[n-1].(ChangeRecord); ok &&
			!last.SelectionOnly() && !rec.SelectionOnly() &&
			policy.MayMerge(last.Inverse, rec.Changes) {
			merged, err := fold(last, rec)
			if err != nil {
				return Branch{}, err
			}
			items := make([]Item, n)
			copy(items, b.items)
			items[n-1] = merged
			return Branch{items: trim(items, maxDepth)}, nil
		}
	}
	items := make([]Item, n, n+1)
	copy(items, b.items)
	items = append(items, rec)
	return Branch{items: trim(items, maxDepth)}, nil
}

// fold combines last and the record that directly follows it into one step.
func fold(last, next ChangeRecord) (ChangeRecord, error) {
	changes, err := ot.Compose(last.Changes, next.Changes)
	if err != nil {
		return ChangeRecord{}, fmt.Errorf("fold forward changes: %w", err)
	}
	inverse, err := ot.Compose(next.Inverse, last.Inverse)
	if err != nil {
		return ChangeRecord{}, fmt.Errorf("fold inverse changes: %w", err)
	}
	effects := append(mapEffects(next.Effects, last.Inverse), last.Effects...)
	return ChangeRecord{
		Changes:   changes,
		Inverse:   inverse,
		Selection: last.Selection,
		Effects:   effects,
	}, nil
}

// AddMapping records an edit the history does not own. It is a no-op on an
// empty branch. Consecutive untracked edits share one pass-through.
func (b Branch) AddMapping(op ot.Operation, maxDepth int) Branch {
	n := len(b.items)
	if n == 0 || op.IsNoop() {
		return b
	}
	if last, ok := b.items[n-1].(PassThrough); ok {
		if composed, err := ot.Compose(last.Changes, op); err == nil {
			items := make([]Item, n)
			copy(items, b.items)
			items[n-1] = PassThrough{Changes: composed}
			return Branch{items: items}
		}
	}
	items := make([]Item, n, n+1)
	copy(items, b.items)
	items = append(items, PassThrough{Changes: op})
	return Branch{items: trim(items, maxDepth)}
}

// Popped is the outcome of popping a change record off a branch.
type Popped struct {
	// Changes reverses the popped record against the current document.
	Changes ot.Operation
	// Selection is the selection to restore.
	Selection ot.Selection
	// Effects restore extension state after Changes is applied.
	Effects []Effect
	// Rest is the branch without the popped record.
	Rest Branch
	// Absorbed is set when untracked edits consumed everything the record
	// would have undone.
	Absorbed bool
}

// Pop removes the newest change record allowed by filter. Pass-through items
// above it are folded into a single residual pass-through on Rest, and the
// record's inverse, selection and effects are rebased over them.
func (b Branch) Pop(filter PopFilter) (Popped, error) {
	if len(b.items) == 0 {
		return Popped{}, ErrEmptyBranch
	}

	var (
		mapped    ot.Operation
		haveMap   bool
		target    ChangeRecord
		targetIdx = -1
	)
	for i := len(b.items) - 1; i >= 0; i-- {
		if rec, ok := b.items[i].(ChangeRecord); ok {
			target, targetIdx = rec, i
			break
		}
		if filter == Any {
			return Popped{}, ErrNoChange
		}
		fwd := b.items[i].ForwardMap()
		if !haveMap {
			mapped, haveMap = fwd, true
			continue
		}
		composed, err := ot.Compose(fwd, mapped)
		if err != nil {
			return Popped{}, fmt.Errorf("compose pass-through %d: %w", i, err)
		}
		mapped = composed
	}
	if targetIdx < 0 {
		return Popped{}, ErrNoChange
	}

	rest := append([]Item(nil), b.items[:targetIdx]...)
	if !haveMap {
		return Popped{
			Changes:   target.Inverse,
			Selection: target.Selection,
			Effects:   target.Effects,
			Rest:      Branch{items: rest},
		}, nil
	}

	// The inverse and the untracked edits both start from the document as it
	// was right after the record. Rebasing the inverse over them yields the
	// edit to replay now; rebasing them over the inverse yields what remains
	// of them relative to the state the rest of the branch expects.
	changes, residual, err := ot.TransformAfter(target.Inverse, mapped)
	if err != nil {
		return Popped{}, fmt.Errorf("rebase popped record: %w", err)
	}
	if len(rest) > 0 && !residual.IsNoop() {
		rest = append(rest, PassThrough{Changes: residual})
	}
	return Popped{
		Changes:   changes,
		Selection: target.Selection.Map(residual),
		Effects:   mapEffects(target.Effects, residual),
		Rest:      Branch{items: rest},
		Absorbed:  changes.IsNoop() && !target.Inverse.IsNoop(),
	}, nil
}

// trim drops the oldest items once the branch holds more than maxDepth+Grace
// change records, keeping exactly maxDepth. Pass-throughs left at the bottom
// have nothing beneath them to rebase and go too.
func trim(items []Item, maxDepth int) []Item {
	if maxDepth <= 0 {
		return items
	}
	count := 0
	for _, it := range items {
		if _, ok := it.(ChangeRecord); ok {
			count++
		}
	}
	if count <= maxDepth+Grace {
		return items
	}
	drop := count - maxDepth
	start := 0
	for ; start < len(items) && drop > 0; start++ {
		if _, ok := items[start].(ChangeRecord); ok {
			drop--
		}
	}
	for start < len(items) {
		if _, ok := items[start].(PassThrough); !ok {
			break
		}
		start++
	}
	return items[start:]
}
