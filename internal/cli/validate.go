package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/agency/internal/config"
	"github.com/roach88/agency/internal/experiment"
)

// ValidationResult is the outcome of validating one configuration file.
type ValidationResult struct {
	File         string                   `json:"file"`
	Valid        bool                     `json:"valid"`
	Steps        int                      `json:"steps,omitempty"`
	TotalSeconds float64                  `json:"total_seconds,omitempty"`
	Model        string                   `json:"model,omitempty"`
	Fingerprint  string                   `json:"fingerprint,omitempty"`
	Errors       []config.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Check an experiment configuration without running it",
		Long: `Check an experiment configuration file.

Decodes the YAML, checks it against the configuration schema, and checks
the timeline (1-based ascending step indices, positive durations) and the
actuation coefficients. Every problem is reported, not just the first.

Exit codes:
  0 - Configuration is valid
  1 - Configuration has problems
  2 - File could not be read`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read configuration", err)
	}
	formatter.VerboseLog("read %d bytes from %s", len(data), path)

	result := ValidationResult{File: path}
	if problems := config.Validate(path, data); len(problems) > 0 {
		result.Errors = problems
		return outputValidationErrors(formatter, result)
	}

	exp, err := config.Parse(path, data)
	if err != nil {
		result.Errors = config.Problems(err)
		return outputValidationErrors(formatter, result)
	}
	settings, err := exp.ActuationSettings()
	if err != nil {
		return WrapExitError(ExitFailure, "invalid actuation settings", err)
	}
	fingerprint, err := exp.Fingerprint()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to fingerprint configuration", err)
	}

	result.Valid = true
	result.Steps = len(exp.Steps)
	result.TotalSeconds = experiment.TotalDuration(exp.Steps)
	result.Model = settings.Model.String()
	result.Fingerprint = fingerprint

	if formatter.JSON() {
		return formatter.Success(result)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "✓ %s is valid\n", path)
	fmt.Fprintf(w, "  %d steps, %.1f s total, %s model\n", result.Steps, result.TotalSeconds, result.Model)
	for _, s := range exp.Steps {
		music := ""
		if s.BackgroundMusic {
			music = " (music)"
		}
		fmt.Fprintf(w, "  %2d. %-12s %7.1f s  %s%s\n", s.Index, s.Description, s.DurationSeconds, s.AssignedLimb, music)
	}
	fmt.Fprintf(w, "  fingerprint %s\n", fingerprint)
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	msg := fmt.Sprintf("%d problem(s) in %s", len(result.Errors), result.File)

	if formatter.JSON() {
		if err := formatter.Error(CodeInvalidConfig, msg, result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✗ %s\n", msg)
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", strings.TrimSpace(e.Error()))
	}
	return NewExitError(ExitFailure, msg)
}
