package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/agency/internal/experiment"
)

// Validation error codes (E200-E299)
const (
	ErrYAMLSyntax      = "E201" // file is not valid YAML
	ErrSchemaViolation = "E202" // value rejected by the CUE schema
	ErrUnknownField    = "E203" // field not in the configuration format
	ErrStepIndex       = "E204" // step indices not 1-based ascending
	ErrSettings        = "E205" // coefficients rejected by the actuation engine
	ErrReadFailed      = "E206" // file could not be read
)

// ValidationError is one problem found in a configuration file.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// asConfigurationError folds validation errors into a single CONFIGURATION error.
func asConfigurationError(path string, errs []ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	wrapped := make([]error, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
		wrapped[i] = e
	}
	return &experiment.Error{
		Code:    experiment.ErrCodeConfiguration,
		Op:      "load " + path,
		Message: strings.Join(msgs, "; "),
		Err:     errors.Join(wrapped...),
	}
}

// Problems extracts the validation errors carried by an error from Load.
func Problems(err error) []ValidationError {
	var out []ValidationError
	var e *experiment.Error
	if !errors.As(err, &e) || e.Err == nil {
		return nil
	}
	if joined, ok := e.Err.(interface{ Unwrap() []error }); ok {
		for _, inner := range joined.Unwrap() {
			var ve ValidationError
			if errors.As(inner, &ve) {
				out = append(out, ve)
			}
		}
	}
	return out
}
