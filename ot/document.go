package ot

import "fmt"

// Document represents a collaborative document with its full operation history.
type Document struct {
	Content string
	Version int
	History []Operation
}

// NewDocument creates a new document with the given initial content.
func NewDocument(content string) *Document {
	return &Document{Content: content}
}

// Apply applies an operation to the document, appending it to history.
func (d *Document) Apply(op Operation) error {
	_, err := d.ApplyInverse(op)
	return err
}

// ApplyInverse applies op like Apply and also returns the operation that
// reverses it against the new content.
func (d *Document) ApplyInverse(op Operation) (Operation, error) {
	inverse, err := op.Invert(d.Content)
	if err != nil {
		return Operation{}, fmt.Errorf("apply to document v%d: %w", d.Version, err)
	}
	if op.IsNoop() {
		return inverse, nil
	}
	result, err := Apply(d.Content, op)
	if err != nil {
		return Operation{}, fmt.Errorf("apply to document v%d: %w", d.Version, err)
	}
	d.Content = result
	d.Version++
	d.History = append(d.History, op)
	return inverse, nil
}

// Since returns the operations applied after version.
func (d *Document) Since(version int) ([]Operation, error) {
	if version < 0 || version > len(d.History) {
		return nil, fmt.Errorf("invalid version %d (history len %d)", version, len(d.History))
	}
	return d.History[version:], nil
}
