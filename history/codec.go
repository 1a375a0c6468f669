package history

import (
	"encoding/json"
	"fmt"

	"github.com/alimasry/go-collab-history/ot"
)

type stateJSON struct {
	Done   []itemJSON `json:"done"`
	Undone []itemJSON `json:"undone"`
}

// itemJSON encodes both item kinds. A pass-through has neither inverse nor
// selection; a change record has both.
type itemJSON struct {
	Changes   ot.Operation  `json:"changes"`
	Inverse   *ot.Operation `json:"inverse,omitempty"`
	Selection *ot.Selection `json:"selection,omitempty"`
	Effects   []effectJSON  `json:"effects,omitempty"`
}

type effectJSON struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodeState encodes both branches of s. Grouping time is not kept, so a
// decoded state always starts a new step on the next event.
func EncodeState(s State) ([]byte, error) {
	done, err := encodeBranch(s.done)
	if err != nil {
		return nil, fmt.Errorf("encode done branch: %w", err)
	}
	undone, err := encodeBranch(s.undone)
	if err != nil {
		return nil, fmt.Errorf("encode undone branch: %w", err)
	}
	return json.Marshal(stateJSON{Done: done, Undone: undone})
}

func encodeBranch(b Branch) ([]itemJSON, error) {
	out := make([]itemJSON, 0, len(b.items))
	for _, it := range b.items {
		switch it := it.(type) {
		case PassThrough:
			out = append(out, itemJSON{Changes: it.Changes})
		case ChangeRecord:
			inv := it.Inverse
			sel := it.Selection
			item := itemJSON{Changes: it.Changes, Inverse: &inv, Selection: &sel}
			for _, e := range it.Effects {
				data, err := json.Marshal(e)
				if err != nil {
					return nil, fmt.Errorf("encode %s effect: %w", e.Kind(), err)
				}
				item.Effects = append(item.Effects, effectJSON{Kind: e.Kind(), Data: data})
			}
			out = append(out, item)
		}
	}
	return out, nil
}

// DecodeState rebuilds a state produced by EncodeState. Effects are decoded
// with the decoders registered in reg.
func DecodeState(data []byte, reg *Registry) (State, error) {
	var raw stateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}
	done, err := decodeBranch(raw.Done, reg)
	if err != nil {
		return State{}, fmt.Errorf("decode done branch: %w", err)
	}
	undone, err := decodeBranch(raw.Undone, reg)
	if err != nil {
		return State{}, fmt.Errorf("decode undone branch: %w", err)
	}
	return NewState(done, undone), nil
}

func decodeBranch(raw []itemJSON, reg *Registry) (Branch, error) {
	items := make([]Item, 0, len(raw))
	for i, r := range raw {
		if r.Inverse == nil {
			if r.Selection != nil || len(r.Effects) > 0 {
				return Branch{}, fmt.Errorf("%w: item %d: pass-through with selection or effects", ErrInvalidItem, i)
			}
			items = append(items, PassThrough{Changes: r.Changes})
			continue
		}
		if r.Selection == nil {
			return Branch{}, fmt.Errorf("%w: item %d: change record without selection", ErrInvalidItem, i)
		}
		if r.Changes.TargetLen() != r.Inverse.BaseLen() || r.Changes.BaseLen() != r.Inverse.TargetLen() {
			return Branch{}, fmt.Errorf("%w: item %d: inverse does not match changes", ErrInvalidItem, i)
		}
		rec := ChangeRecord{Changes: r.Changes, Inverse: *r.Inverse, Selection: *r.Selection}
		for _, re := range r.Effects {
			dec, ok := reg.decoder(re.Kind)
			if !ok {
				return Branch{}, fmt.Errorf("%w: item %d: unknown effect kind %q", ErrInvalidItem, i, re.Kind)
			}
			e, err := dec(re.Data)
			if err != nil {
				return Branch{}, fmt.Errorf("%w: item %d: decode %s effect: %v", ErrInvalidItem, i, re.Kind, err)
			}
			rec.Effects = append(rec.Effects, e)
		}
		items = append(items, rec)
	}
	return Branch{items: items}, nil
}
