package storage

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadPayload reads a JSON object file into workflow parameters.
func LoadPayload(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload file: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse payload file %s: %w", path, err)
	}
	return payload, nil
}

// SaveResponse writes a value to a local file as pretty-printed JSON.
func SaveResponse(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write response file: %w", err)
	}
	return nil
}
