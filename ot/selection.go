package ot

// Range is one selected span. Anchor is the fixed end, Head the moving end;
// they are equal for a plain cursor.
type Range struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

func (r Range) From() int   { return min(r.Anchor, r.Head) }
func (r Range) To() int     { return max(r.Anchor, r.Head) }
func (r Range) Empty() bool { return r.Anchor == r.Head }

// Map maps the range through op. A cursor follows assoc when text is
// inserted exactly at it; a non-empty range does not grow to cover text
// inserted at its edges.
func (r Range) Map(op Operation, assoc int) Range {
	if r.Empty() {
		p := op.MapPos(r.Head, assoc)
		return Range{Anchor: p, Head: p}
	}
	if r.Anchor < r.Head {
		return Range{Anchor: op.MapPos(r.Anchor, 1), Head: op.MapPos(r.Head, -1)}
	}
	return Range{Anchor: op.MapPos(r.Anchor, -1), Head: op.MapPos(r.Head, 1)}
}

// Selection is a set of ranges with one designated main range.
type Selection struct {
	Ranges []Range `json:"ranges"`
	Main   int     `json:"main"`
}

// Cursor returns a selection holding a single cursor at pos.
func Cursor(pos int) Selection {
	return Selection{Ranges: []Range{{Anchor: pos, Head: pos}}}
}

// Span returns a selection holding a single range from anchor to head.
func Span(anchor, head int) Selection {
	return Selection{Ranges: []Range{{Anchor: anchor, Head: head}}}
}

// IsZero reports whether the selection holds no ranges.
func (s Selection) IsZero() bool { return len(s.Ranges) == 0 }

// MainRange returns the main range, or an empty range at 0 for a zero selection.
func (s Selection) MainRange() Range {
	if s.Main < 0 || s.Main >= len(s.Ranges) {
		return Range{}
	}
	return s.Ranges[s.Main]
}

// Map returns the selection mapped through op. Cursors stay before text
// inserted at them.
func (s Selection) Map(op Operation) Selection {
	return s.MapAssoc(op, -1)
}

// MapAssoc is Map with an explicit association for cursors; the author of
// an insertion maps its own cursors with assoc > 0 so they land after it.
func (s Selection) MapAssoc(op Operation, assoc int) Selection {
	if len(s.Ranges) == 0 {
		return s
	}
	ranges := make([]Range, len(s.Ranges))
	for i, r := range s.Ranges {
		ranges[i] = r.Map(op, assoc)
	}
	return Selection{Ranges: ranges, Main: s.Main}
}

// Eq reports whether two selections are identical.
func (s Selection) Eq(o Selection) bool {
	if s.Main != o.Main || len(s.Ranges) != len(o.Ranges) {
		return false
	}
	for i := range s.Ranges {
		if s.Ranges[i] != o.Ranges[i] {
			return false
		}
	}
	return true
}

// SameShape reports whether both selections have the same number of ranges
// and the same pattern of empty and non-empty ranges.
func (s Selection) SameShape(o Selection) bool {
	if len(s.Ranges) != len(o.Ranges) {
		return false
	}
	for i := range s.Ranges {
		if s.Ranges[i].Empty() != o.Ranges[i].Empty() {
			return false
		}
	}
	return true
}

// Clamp limits every range to a document of length n.
func (s Selection) Clamp(n int) Selection {
	if len(s.Ranges) == 0 {
		return s
	}
	clamp := func(p int) int { return max(0, min(p, n)) }
	ranges := make([]Range, len(s.Ranges))
	for i, r := range s.Ranges {
		ranges[i] = Range{Anchor: clamp(r.Anchor), Head: clamp(r.Head)}
	}
	return Selection{Ranges: ranges, Main: s.Main}
}
