package history

import "errors"

var (
	// ErrEmptyBranch is returned when popping a branch with no items.
	ErrEmptyBranch = errors.New("history: branch is empty")

	// ErrNoChange is returned when a pop finds no change record to undo or redo.
	ErrNoChange = errors.New("history: no change record to pop")

	// ErrInvalidItem is returned when decoding an item that breaks the
	// change-record invariant.
	ErrInvalidItem = errors.New("history: invalid item")

	// ErrUnknownPolicy is returned when a configured merge policy is not registered.
	ErrUnknownPolicy = errors.New("history: unknown merge policy")
)
