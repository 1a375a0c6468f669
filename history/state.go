package history

import (
	"time"

	"github.com/alimasry/go-collab-history/ot"
)

// Side names one of the two branches of a State.
type Side int

const (
	// Done holds the records undo pops.
	Done Side = iota
	// Undone holds the records redo pops.
	Undone
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Done {
		return Undone
	}
	return Done
}

func (s Side) String() string {
	if s == Undone {
		return "undone"
	}
	return "done"
}

// State is an immutable snapshot of the history. Every method returns a new
// State and leaves the receiver untouched.
type State struct {
	done          Branch
	undone        Branch
	lastEditTime  time.Time
	lastUserEvent string
}

// NewState returns a state with the given branches and no grouping history.
func NewState(done, undone Branch) State {
	return State{done: done, undone: undone}
}

func (s State) Done() Branch   { return s.done }
func (s State) Undone() Branch { return s.undone }

// Branch returns the branch on side.
func (s State) Branch(side Side) Branch {
	if side == Undone {
		return s.undone
	}
	return s.done
}

// LastEditTime returns the time of the last recorded event; the zero time
// means the next event starts a new group.
func (s State) LastEditTime() time.Time { return s.lastEditTime }

// Isolate forces the next event into a new record.
func (s State) Isolate() State {
	s.lastEditTime = time.Time{}
	s.lastUserEvent = ""
	return s
}

// AddChanges records rec on the done branch, merging per policy, and clears
// the undone branch.
func (s State) AddChanges(rec ChangeRecord, at time.Time, userEvent string, maxDepth int, policy MergePolicy) (State, error) {
	done, err := s.done.AddChanges(rec, maxDepth, policy)
	if err != nil {
		return s, err
	}
	return State{done: done, lastEditTime: at, lastUserEvent: userEvent}, nil
}

// AddSelection records a selection-only event. When merge is set the
// previous selection record already covers it and only the grouping time
// moves on. The undone branch is kept.
func (s State) AddSelection(rec ChangeRecord, at time.Time, userEvent string, merge bool, maxDepth int) State {
	if !merge {
		// Selection records never fold into edits, so AddChanges cannot fail.
		s.done, _ = s.done.AddChanges(rec, maxDepth, nil)
	}
	s.lastEditTime = at
	s.lastUserEvent = userEvent
	return s
}

// AddMapping records an edit the history does not own on both branches.
func (s State) AddMapping(op ot.Operation, maxDepth int) State {
	s.done = s.done.AddMapping(op, maxDepth)
	s.undone = s.undone.AddMapping(op, maxDepth)
	return s
}

// withPopped returns the state after a record popped from side was replayed:
// side becomes rest and other replaces the opposite branch.
func (s State) withPopped(side Side, rest, other Branch) State {
	if side == Done {
		return State{done: rest, undone: other}
	}
	return State{done: other, undone: rest}
}
