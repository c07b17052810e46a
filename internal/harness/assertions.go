package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/agency/internal/experiment"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %7dms %-5s %s\n", event.AtMillis, event.Kind, event.Label())
		}
	}
	return buf.String()
}

// lifecycle returns the "Subject Phase" labels of lifecycle entries in order.
func lifecycle(trace []TraceEvent) []string {
	var out []string
	for _, e := range trace {
		if e.Kind == KindEvent {
			out = append(out, e.Label())
		}
	}
	return out
}

// assertEventOrder checks that the listed entries appear in order. Other
// entries may be interleaved.
func assertEventOrder(trace []TraceEvent, a Assertion) error {
	labels := lifecycle(trace)
	next := 0
	for _, label := range labels {
		if next < len(a.Events) && label == a.Events[next] {
			next++
		}
	}
	if next == len(a.Events) {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventOrder,
		Expected: fmt.Sprintf("entries in order: %v", a.Events),
		Actual:   fmt.Sprintf("%q not found after %d matched entries", a.Events[next], next),
		Trace:    trace,
	}
}

func assertEventCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, label := range lifecycle(trace) {
		if label == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %q", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertFinalState(result *Result, a Assertion) error {
	if got := result.Final.State.String(); !strings.EqualFold(got, a.State) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("state %s", a.State),
			Actual:   fmt.Sprintf("state %s", got),
		}
	}
	if a.StepIndex != nil && result.Final.CurrentStepIndex != *a.StepIndex {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("step index %d", *a.StepIndex),
			Actual:   fmt.Sprintf("step index %d", result.Final.CurrentStepIndex),
		}
	}
	return nil
}

func assertValues(kind string, got, want []string) error {
	if len(got) == len(want) {
		match := true
		for i := range got {
			if got[i] != want[i] {
				match = false
				break
			}
		}
		if match {
			return nil
		}
	}
	return &AssertionError{
		Type:     kind,
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", got),
	}
}

func movieValues(movies []experiment.MovieCommand) []string {
	out := make([]string, len(movies))
	for i, m := range movies {
		out[i] = fmt.Sprintf("%s:%d", m.Event, m.Value)
	}
	return out
}

func soundValues(sounds []experiment.SoundCommand) []string {
	out := make([]string, len(sounds))
	for i, s := range sounds {
		out[i] = s.Wire()
	}
	return out
}

func assertSampleCount(result *Result, a Assertion) error {
	limb, err := experiment.ParseLimb(a.Limb)
	if err != nil {
		return err
	}
	if got := result.Samples[limb]; got != a.Count {
		return &AssertionError{
			Type:     AssertSampleCount,
			Expected: fmt.Sprintf("%d samples for %s", a.Count, limb),
			Actual:   fmt.Sprintf("%d samples", got),
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a message for each failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertEventOrder:
			err = assertEventOrder(result.Trace, a)
		case AssertEventCount:
			err = assertEventCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result, a)
		case AssertMovieValues:
			err = assertValues(AssertMovieValues, movieValues(result.Movies), a.Values)
		case AssertSoundValues:
			err = assertValues(AssertSoundValues, soundValues(result.Sounds), a.Values)
		case AssertSampleCount:
			err = assertSampleCount(result, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
