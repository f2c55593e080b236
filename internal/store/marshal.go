package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/ndmesh/internal/canon"
)

// marshalShape converts a shape to canonical JSON TEXT for storage.
func marshalShape(shape []int) (string, error) {
	if shape == nil {
		shape = []int{}
	}
	data, err := canon.Marshal(shape)
	if err != nil {
		return "", fmt.Errorf("marshal shape: %w", err)
	}
	return string(data), nil
}

// unmarshalShape parses a shape column.
func unmarshalShape(text string) ([]int, error) {
	var shape []int
	if err := json.Unmarshal([]byte(text), &shape); err != nil {
		return nil, fmt.Errorf("unmarshal shape %q: %w", text, err)
	}
	if shape == nil {
		shape = []int{}
	}
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("unmarshal shape %q: negative dimension", text)
		}
	}
	return shape, nil
}
