package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/agency/internal/experiment"
)

// TraceSnapshot captures the trace of a scenario execution.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// lines converts a snapshot to canonical JSON lines: a header naming the
// scenario, then one line per trace event.
func (s *TraceSnapshot) lines() ([]byte, error) {
	var buf bytes.Buffer
	header, err := experiment.MarshalCanonical(map[string]any{"scenario_name": s.ScenarioName})
	if err != nil {
		return nil, err
	}
	buf.Write(header)
	buf.WriteByte('\n')

	for i, event := range s.Trace {
		m := map[string]any{
			"at_ms": event.AtMillis,
			"kind":  event.Kind,
		}
		if event.Kind == KindEvent {
			m["seq"] = event.Seq
			m["subject"] = event.Subject
			m["phase"] = string(event.Phase)
		} else {
			m["payload"] = event.Payload
		}
		line, err := experiment.MarshalCanonical(m)
		if err != nil {
			return nil, fmt.Errorf("trace[%d]: %w", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Canonical renders the result's trace as canonical JSON lines.
func Canonical(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: name, Trace: result.Trace}
	return snapshot.lines()
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := Canonical(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
