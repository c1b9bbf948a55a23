package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// ReadJSON decodes the document at path into a zero-initialized T. A missing
// file yields the zero value, so callers get an empty document on first use.
func ReadJSON[T any](m *Manager, path string) (T, error) {
	var doc T
	data, err := m.Read(path)
	if err != nil {
		return doc, err
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("store: parse %s: %w", path, err)
	}
	return doc, nil
}

// UpdateJSON runs a typed mutation through the manager's FIFO queue. fn
// receives the decoded document (zero value for a missing file) and mutates
// it in place; the result is re-marshaled and persisted atomically.
func UpdateJSON[T any](m *Manager, ctx context.Context, path string, fn func(doc *T) error) error {
	return m.Update(ctx, path, func(data []byte) ([]byte, error) {
		var doc T
		if len(data) > 0 {
			if err := json.Unmarshal(data, &doc); err != nil {
				return nil, fmt.Errorf("store: parse %s: %w", path, err)
			}
		}
		if err := fn(&doc); err != nil {
			return nil, err
		}
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("store: marshal %s: %w", path, err)
		}
		return out, nil
	})
}
