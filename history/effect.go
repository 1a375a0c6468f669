package history

import (
	"encoding/json"

	"github.com/alimasry/go-collab-history/ot"
)

// Effect is a change to extension state that travels with a transaction.
// Positions inside an effect refer to the document after the transaction's
// edits.
type Effect interface {
	// Kind names the effect type; decoders are registered by kind.
	Kind() string
	// Map moves the effect through op. It returns false when the effect no
	// longer applies to anything.
	Map(op ot.Operation) (Effect, bool)
}

// EffectInverter describes how to restore extension state when a
// transaction is undone.
type EffectInverter interface {
	// InvertEffects returns the effects that undo tr's changes to the
	// extension's state, positioned for the document before tr.
	InvertEffects(tr Transaction) []Effect
}

// InverterFunc adapts a plain function to EffectInverter.
type InverterFunc func(tr Transaction) []Effect

func (f InverterFunc) InvertEffects(tr Transaction) []Effect { return f(tr) }

// EffectDecoder rebuilds an effect of one kind from its JSON encoding.
type EffectDecoder func(data json.RawMessage) (Effect, error)
