// Package history records document edits and selection changes so they can
// be undone and redone, including when other edits that the history does not
// own are interleaved with them.
//
// # Branches
//
// A State holds two Branches: done (undo) and undone (redo). Each Branch is
// an immutable list of Items, oldest first. An Item is either a ChangeRecord,
// carrying the forward edit, its inverse and the selection before it, or a
// PassThrough, carrying only the forward edit of a change the history does
// not own. Pass-throughs keep older records valid: when a record is popped
// from beneath them, its inverse is rebased over them first.
//
// # Grouping
//
// Edits made within Config.NewGroupDelay of each other are folded into one
// ChangeRecord when the configured MergePolicy allows it. A Transaction can
// force a boundary before, after or around itself with an Isolation marker.
// Selection-only transactions become records with an identity edit; repeated
// ones from the same navigation event collapse into one.
//
// # Effects
//
// Extensions that keep state on top of the document register an
// EffectInverter. Whenever a change is recorded, the inverters describe the
// effects that restore extension state on undo; these travel with the record
// and are rebased exactly like its edits.
//
// # Usage
//
//	eng, _ := history.NewEngine(history.DefaultConfig())
//	eng.Observe(tr)          // for every transaction the host applies
//	eng.Undo(target)         // target applies the Pop and reports back via Observe
//	data, _ := eng.MarshalJSON()
package history
