package ot

import (
	"fmt"
	"strings"
)

// Compose merges two consecutive operations into one. For every document s
// that a applies to:
//
//	Apply(Apply(s, a), b) == Apply(s, Compose(a, b))
func Compose(a, b Operation) (Operation, error) {
	if a.TargetLen() != b.BaseLen() {
		return Operation{}, fmt.Errorf(
			"compose: target length %d != base length %d", a.TargetLen(), b.BaseLen())
	}

	var out []Component
	ia := newIter(a.Ops)
	ib := newIter(b.Ops)

	for ia.hasNext() || ib.hasNext() {
		// Deletes from a never reach b.
		if ia.peekType() == compDelete {
			out = append(out, ia.take(ia.peekLen()))
			continue
		}
		// Inserts from b consume nothing from a.
		if ib.peekType() == compInsert {
			out = append(out, ib.take(0))
			continue
		}

		if !ia.hasNext() || !ib.hasNext() {
			return Operation{}, fmt.Errorf("compose ran out of operations")
		}

		n := min(ia.peekLen(), ib.peekLen())
		ca := ia.take(n)
		cb := ib.take(n)

		switch {
		case ca.IsRetain() && cb.IsRetain():
			out = append(out, Component{Retain: n})
		case ca.IsRetain() && cb.IsDelete():
			out = append(out, Component{Delete: n})
		case ca.IsInsert() && cb.IsRetain():
			out = append(out, Component{Insert: ca.Insert})
		case ca.IsInsert() && cb.IsDelete():
			// Text inserted by a and removed by b never existed.
		}
	}
	return Operation{Ops: compact(out)}, nil
}

// Invert returns the operation that reverses op. doc is the document op
// applies to; it supplies the text that op deletes.
func (op Operation) Invert(doc string) (Operation, error) {
	if len(doc) != op.BaseLen() {
		return Operation{}, fmt.Errorf("invert: document length %d != operation base length %d", len(doc), op.BaseLen())
	}
	var out []Component
	pos := 0
	for _, c := range op.Ops {
		switch {
		case c.IsRetain():
			out = append(out, Component{Retain: c.Retain})
			pos += c.Retain
		case c.IsInsert():
			out = append(out, Component{Delete: len(c.Insert)})
		case c.IsDelete():
			out = append(out, Component{Insert: doc[pos : pos+c.Delete]})
			pos += c.Delete
		}
	}
	return Operation{Ops: compact(out)}, nil
}

// MapPos maps a position in the document op applies to onto the document it
// produces. When text is inserted exactly at pos, assoc < 0 keeps the
// position before the insertion and assoc >= 0 moves it after. Positions
// inside a deleted span collapse to the deletion point.
func (op Operation) MapPos(pos, assoc int) int {
	oldPos, newPos := 0, 0
	for _, c := range op.Ops {
		switch {
		case c.IsRetain():
			if pos < oldPos+c.Retain {
				return newPos + pos - oldPos
			}
			oldPos += c.Retain
			newPos += c.Retain
		case c.IsInsert():
			if pos == oldPos && assoc < 0 {
				return newPos
			}
			newPos += len(c.Insert)
		case c.IsDelete():
			if pos < oldPos+c.Delete {
				pos = oldPos + c.Delete
			}
			oldPos += c.Delete
		}
	}
	return newPos + pos - oldPos
}

// ChangedSpan is a half-open range of document positions.
type ChangedSpan struct {
	From int
	To   int
}

// ChangedRanges returns the spans of the base document that op touches.
// Insertions appear as empty spans. Touching spans are merged.
func (op Operation) ChangedRanges() []ChangedSpan {
	var spans []ChangedSpan
	add := func(from, to int) {
		if n := len(spans); n > 0 && spans[n-1].To >= from {
			if to > spans[n-1].To {
				spans[n-1].To = to
			}
			return
		}
		spans = append(spans, ChangedSpan{From: from, To: to})
	}
	pos := 0
	for _, c := range op.Ops {
		switch {
		case c.IsRetain():
			pos += c.Retain
		case c.IsInsert():
			add(pos, pos)
		case c.IsDelete():
			add(pos, pos+c.Delete)
			pos += c.Delete
		}
	}
	return spans
}

// Touches reports whether a and b, both based on the same document, change
// overlapping or adjacent spans.
func Touches(a, b Operation) bool {
	ra := a.ChangedRanges()
	for _, sb := range b.ChangedRanges() {
		for _, sa := range ra {
			if sb.To >= sa.From && sb.From <= sa.To {
				return true
			}
		}
	}
	return false
}

// InsertedText returns the concatenation of all text op inserts.
func (op Operation) InsertedText() string {
	var b strings.Builder
	for _, c := range op.Ops {
		if c.IsInsert() {
			b.WriteString(c.Insert)
		}
	}
	return b.String()
}
