package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/agency/internal/experiment"
)

// marshalSteps converts a timeline to JSON TEXT for the runs table.
// HTML escaping is disabled so stored text matches what the CLI prints.
func marshalSteps(steps []experiment.Step) (string, error) {
	if steps == nil {
		steps = []experiment.Step{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(steps); err != nil {
		return "", fmt.Errorf("marshal steps: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalSteps parses JSON TEXT back to a timeline.
func unmarshalSteps(data string) ([]experiment.Step, error) {
	if data == "" || data == "[]" {
		return []experiment.Step{}, nil
	}
	var steps []experiment.Step
	if err := json.Unmarshal([]byte(data), &steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return steps, nil
}
