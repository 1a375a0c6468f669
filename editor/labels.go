package editor

import (
	"encoding/json"

	"github.com/alimasry/go-collab-history/history"
	"github.com/alimasry/go-collab-history/ot"
)

// Effect kinds of the labels extension.
const (
	KindAddLabel    = "label.add"
	KindRemoveLabel = "label.remove"
)

// Label tags the range [From, To) with a name. Names are unique.
type Label struct {
	Name string `json:"name"`
	From int    `json:"from"`
	To   int    `json:"to"`
}

// Empty reports whether the label covers no text.
func (l Label) Empty() bool { return l.From >= l.To }

// Map moves the label through op. Text inserted at either edge stays outside.
func (l Label) Map(op ot.Operation) Label {
	from := op.MapPos(l.From, 1)
	to := op.MapPos(l.To, -1)
	if to < from {
		to = from
	}
	return Label{Name: l.Name, From: from, To: to}
}

// AddLabel sets a label, replacing any label with the same name.
type AddLabel struct {
	Label Label `json:"label"`
}

func (AddLabel) Kind() string { return KindAddLabel }

func (a AddLabel) Map(op ot.Operation) (history.Effect, bool) {
	m := a.Label.Map(op)
	if m.Empty() && !a.Label.Empty() {
		return nil, false
	}
	return AddLabel{Label: m}, true
}

// RemoveLabel removes the label called Name.
type RemoveLabel struct {
	Name string `json:"name"`
}

func (RemoveLabel) Kind() string { return KindRemoveLabel }

func (r RemoveLabel) Map(ot.Operation) (history.Effect, bool) { return r, true }

// mapLabels maps labels through op, dropping the ones op deletes.
func mapLabels(labels []Label, op ot.Operation) []Label {
	if op.IsNoop() {
		return labels
	}
	out := make([]Label, 0, len(labels))
	for _, l := range labels {
		m := l.Map(op)
		if m.Empty() && !l.Empty() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// applyLabelEffects returns labels with effects applied in order. Labels
// outside a document of length n are clamped.
func applyLabelEffects(labels []Label, effects []history.Effect, n int) []Label {
	if len(effects) == 0 {
		return labels
	}
	out := append([]Label(nil), labels...)
	for _, eff := range effects {
		switch eff := eff.(type) {
		case AddLabel:
			l := eff.Label
			l.From, l.To = min(max(l.From, 0), n), min(max(l.To, 0), n)
			out = setLabel(out, l)
		case RemoveLabel:
			out = removeLabel(out, eff.Name)
		}
	}
	return out
}

func setLabel(labels []Label, l Label) []Label {
	for i := range labels {
		if labels[i].Name == l.Name {
			labels[i] = l
			return labels
		}
	}
	return append(labels, l)
}

func removeLabel(labels []Label, name string) []Label {
	for i := range labels {
		if labels[i].Name == name {
			return append(labels[:i], labels[i+1:]...)
		}
	}
	return labels
}

func findLabel(labels []Label, name string) (Label, bool) {
	for _, l := range labels {
		if l.Name == name {
			return l, true
		}
	}
	return Label{}, false
}

// labelInverter restores labels on undo. current returns the labels as they
// were before the transaction being recorded.
type labelInverter struct {
	current func() []Label
}

func (inv labelInverter) InvertEffects(tr history.Transaction) []history.Effect {
	before := inv.current()
	var out []history.Effect
	for _, l := range before {
		if !l.Empty() && l.Map(tr.Changes).Empty() {
			out = append(out, AddLabel{Label: l})
		}
	}
	for _, eff := range tr.Effects {
		var name string
		switch eff := eff.(type) {
		case AddLabel:
			name = eff.Label.Name
		case RemoveLabel:
			name = eff.Name
		default:
			continue
		}
		if prev, ok := findLabel(before, name); ok {
			out = append(out, AddLabel{Label: prev})
		} else {
			out = append(out, RemoveLabel{Name: name})
		}
	}
	return out
}

// RegisterLabels installs the labels extension in reg: its inverter and the
// decoders persisted histories need.
func RegisterLabels(reg *history.Registry, current func() []Label) {
	reg.RegisterInverter("labels", labelInverter{current: current})
	reg.RegisterEffect(KindAddLabel, func(data json.RawMessage) (history.Effect, error) {
		var a AddLabel
		err := json.Unmarshal(data, &a)
		return a, err
	})
	reg.RegisterEffect(KindRemoveLabel, func(data json.RawMessage) (history.Effect, error) {
		var r RemoveLabel
		err := json.Unmarshal(data, &r)
		return r, err
	})
}

// AddLabel tags [from, to) with name as its own undoable step.
func (e *Editor) AddLabel(name string, from, to int) error {
	return e.Dispatch(Spec{
		Effects:   []history.Effect{AddLabel{Label: Label{Name: name, From: from, To: to}}},
		UserEvent: "label",
	})
}

// RemoveLabel removes the label called name as its own undoable step.
func (e *Editor) RemoveLabel(name string) error {
	return e.Dispatch(Spec{
		Effects:   []history.Effect{RemoveLabel{Name: name}},
		UserEvent: "label",
	})
}
