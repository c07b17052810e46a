package marker

import "github.com/roach88/agency/internal/experiment"

// Event codes. Step codes carry the step kind in the low nibble.
const (
	CodeTaskStart  byte = 0x01
	CodeTaskEnd    byte = 0x02
	CodePauseStart byte = 0x03
	CodePauseEnd   byte = 0x04

	codeStepStart byte = 0x10
	codeStepEnd   byte = 0x20
)

// CodeFor maps an event-log subject and phase to its TTL code.
func CodeFor(subject string, phase experiment.Phase) (byte, bool) {
	switch subject {
	case experiment.SubjectTask:
		if phase == experiment.PhaseStart {
			return CodeTaskStart, true
		}
		return CodeTaskEnd, true
	case experiment.SubjectPause:
		if phase == experiment.PhaseStart {
			return CodePauseStart, true
		}
		return CodePauseEnd, true
	}

	kind, err := experiment.ParseStepKind(subject)
	if err != nil {
		return 0, false
	}
	if phase == experiment.PhaseStart {
		return codeStepStart | byte(kind), true
	}
	return codeStepEnd | byte(kind), true
}
