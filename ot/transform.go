package ot

import "fmt"

// Transform takes two concurrent operations a and b (both applied to the same
// document state) and returns aPrime and bPrime such that:
//
//	Apply(Apply(doc, a), bPrime) == Apply(Apply(doc, b), aPrime)
//
// When both insert at the same position, a's text ends up first.
func Transform(a, b Operation) (aPrime, bPrime Operation, err error) {
	return transform(a, b, true)
}

// TransformAfter is Transform with the opposite tie-break: when both insert
// at the same position, b's text ends up first.
func TransformAfter(a, b Operation) (aPrime, bPrime Operation, err error) {
	return transform(a, b, false)
}

func transform(a, b Operation, aFirst bool) (Operation, Operation, error) {
	if a.BaseLen() != b.BaseLen() {
		return Operation{}, Operation{}, fmt.Errorf(
			"base lengths differ: a=%d, b=%d", a.BaseLen(), b.BaseLen())
	}

	var ap, bp []Component
	ia := newIter(a.Ops)
	ib := newIter(b.Ops)

	for ia.hasNext() || ib.hasNext() {
		aIns := ia.peekType() == compInsert
		bIns := ib.peekType() == compInsert

		if aIns && (!bIns || aFirst) {
			c := ia.take(0)
			ap = append(ap, Component{Insert: c.Insert})
			bp = append(bp, Component{Retain: len(c.Insert)})
			continue
		}
		if bIns {
			c := ib.take(0)
			bp = append(bp, Component{Insert: c.Insert})
			ap = append(ap, Component{Retain: len(c.Insert)})
			continue
		}

		// Both consume input. Take the shorter chunk.
		if !ia.hasNext() || !ib.hasNext() {
			return Operation{}, Operation{}, fmt.Errorf("transform ran out of operations")
		}
		n := min(ia.peekLen(), ib.peekLen())
		ca := ia.take(n)
		cb := ib.take(n)

		switch {
		case ca.IsRetain() && cb.IsRetain():
			ap = append(ap, Component{Retain: n})
			bp = append(bp, Component{Retain: n})
		case ca.IsDelete() && cb.IsRetain():
			ap = append(ap, Component{Delete: n})
		case ca.IsRetain() && cb.IsDelete():
			bp = append(bp, Component{Delete: n})
		case ca.IsDelete() && cb.IsDelete():
			// Already gone on both sides.
		}
	}

	return Operation{Ops: compact(ap)}, Operation{Ops: compact(bp)}, nil
}

// compact merges adjacent components of the same type and drops empty ones.
func compact(ops []Component) []Component {
	var result []Component
	for _, c := range ops {
		if !c.IsRetain() && !c.IsInsert() && !c.IsDelete() {
			continue
		}
		if n := len(result); n > 0 {
			last := &result[n-1]
			switch {
			case c.IsRetain() && last.IsRetain():
				last.Retain += c.Retain
				continue
			case c.IsDelete() && last.IsDelete():
				last.Delete += c.Delete
				continue
			case c.IsInsert() && last.IsInsert():
				last.Insert += c.Insert
				continue
			}
		}
		result = append(result, c)
	}
	return result
}

// compType identifies a component kind for the iterator.
type compType int

const (
	compNone compType = iota
	compRetain
	compInsert
	compDelete
)

// iter walks through operation components, allowing partial consumption.
type iter struct {
	ops    []Component
	index  int
	offset int
}

func newIter(ops []Component) *iter {
	return &iter{ops: compact(ops)}
}

func (it *iter) hasNext() bool {
	return it.index < len(it.ops)
}

func (it *iter) peekType() compType {
	if !it.hasNext() {
		return compNone
	}
	c := it.ops[it.index]
	switch {
	case c.IsInsert():
		return compInsert
	case c.IsDelete():
		return compDelete
	default:
		return compRetain
	}
}

func (it *iter) peekLen() int {
	if !it.hasNext() {
		return 0
	}
	c := it.ops[it.index]
	switch {
	case c.IsRetain():
		return c.Retain - it.offset
	case c.IsInsert():
		return len(c.Insert) - it.offset
	case c.IsDelete():
		return c.Delete - it.offset
	}
	return 0
}

// take consumes n units from the current component. For inserts, n=0 means
// take the rest.
func (it *iter) take(n int) Component {
	c := it.ops[it.index]
	remaining := it.peekLen()
	whole := n >= remaining || (n == 0 && c.IsInsert())
	if whole {
		n = remaining
	}
	var out Component
	switch {
	case c.IsRetain():
		out = Component{Retain: n}
	case c.IsInsert():
		out = Component{Insert: c.Insert[it.offset : it.offset+n]}
	case c.IsDelete():
		out = Component{Delete: n}
	}
	if whole {
		it.index++
		it.offset = 0
	} else {
		it.offset += n
	}
	return out
}
