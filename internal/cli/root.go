package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/agency/internal/config"
	"github.com/roach88/agency/internal/experiment"
)

// RootOptions holds global flags and the process environment shared by all
// commands.
type RootOptions struct {
	Verbose bool
	Format  string   // "json" | "text"
	EnvFile []string // .env files to load

	// Env is filled in by the root pre-run.
	Env config.Env
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the agency CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "agency",
		Short:   "Run infant limb-agency experiments",
		Long:    "Sequences timed experiment steps and maps limb motion to movie and sound stimuli.",
		Version: experiment.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			env, err := config.LoadEnv(opts.EnvFile...)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load environment", err)
			}
			opts.Env = env
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringSliceVar(&opts.EnvFile, "env-file", nil, "environment files to load (default .env)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewTailCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// pick returns flag when set, otherwise the environment value.
func pick(flag, env string) string {
	if flag != "" {
		return flag
	}
	return env
}
