package history

import (
	"strings"
	"unicode"

	"github.com/alimasry/go-collab-history/ot"
)

// MergePolicy decides whether an edit may be folded into the record before
// it. lastInverse is the inverse of that record and next the new forward
// edit; both start from the current document.
type MergePolicy interface {
	MayMerge(lastInverse, next ot.Operation) bool
}

// MergeFunc adapts a plain function to MergePolicy.
type MergeFunc func(lastInverse, next ot.Operation) bool

func (f MergeFunc) MayMerge(lastInverse, next ot.Operation) bool { return f(lastInverse, next) }

// Adjacent merges edits that touch the span the previous record changed.
type Adjacent struct{}

func (Adjacent) MayMerge(lastInverse, next ot.Operation) bool {
	return ot.Touches(lastInverse, next)
}

// Always merges every structurally compatible edit.
type Always struct{}

func (Always) MayMerge(ot.Operation, ot.Operation) bool { return true }

// Never keeps every edit in its own record.
type Never struct{}

func (Never) MayMerge(ot.Operation, ot.Operation) bool { return false }

// Words merges like Inner but starts a new record when the edit types
// whitespace, so typing undoes a word at a time.
type Words struct {
	Inner MergePolicy
}

func (w Words) MayMerge(lastInverse, next ot.Operation) bool {
	if strings.IndexFunc(next.InsertedText(), unicode.IsSpace) >= 0 {
		return false
	}
	inner := w.Inner
	if inner == nil {
		inner = Adjacent{}
	}
	return inner.MayMerge(lastInverse, next)
}

// Built-in policy names.
const (
	PolicyAdjacent = "adjacent"
	PolicyAlways   = "always"
	PolicyNever    = "never"
	PolicyWords    = "words"
)

// matchesEvent reports whether event equals one of prefixes or is nested
// under one, as "input.type" is under "input".
func matchesEvent(event string, prefixes []string) bool {
	for _, p := range prefixes {
		if event == p || strings.HasPrefix(event, p+".") {
			return true
		}
	}
	return false
}
