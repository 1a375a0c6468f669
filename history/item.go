package history

import "github.com/alimasry/go-collab-history/ot"

// Item is one entry of a Branch: a ChangeRecord or a PassThrough.
type Item interface {
	// ForwardMap is the edit this item stands for, in the order it happened.
	ForwardMap() ot.Operation
	isItem()
}

// ChangeRecord is an undoable step.
type ChangeRecord struct {
	// Changes is the forward edit, possibly several folded together.
	Changes ot.Operation
	// Inverse reverses Changes.
	Inverse ot.Operation
	// Selection is the selection immediately before Changes.
	Selection ot.Selection
	// Effects restore extension state; their positions refer to the document
	// after Inverse is applied.
	Effects []Effect
}

// PassThrough stands for an edit the history does not own.
type PassThrough struct {
	Changes ot.Operation
}

func (r ChangeRecord) ForwardMap() ot.Operation { return r.Changes }
func (p PassThrough) ForwardMap() ot.Operation  { return p.Changes }

func (ChangeRecord) isItem() {}
func (PassThrough) isItem()  {}

// SelectionOnly reports whether the record restores only a selection.
func (r ChangeRecord) SelectionOnly() bool {
	return r.Changes.IsNoop() && r.Inverse.IsNoop() && len(r.Effects) == 0
}

// mapEffects maps every effect through op, dropping the ones that collapse.
func mapEffects(effects []Effect, op ot.Operation) []Effect {
	if len(effects) == 0 {
		return nil
	}
	out := make([]Effect, 0, len(effects))
	for _, e := range effects {
		if mapped, ok := e.Map(op); ok {
			out = append(out, mapped)
		}
	}
	return out
}
