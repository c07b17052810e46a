package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/agency/internal/experiment"
	"github.com/roach88/agency/internal/store"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Database string
	Latest   bool
	Progress bool
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID        string  `json:"run_id"`
	TaskID       string  `json:"task_id"`
	StartedAt    string  `json:"started_at"`
	Steps        int     `json:"steps"`
	TotalSeconds float64 `json:"total_seconds"`
}

// RunEvents is the event log of one run.
type RunEvents struct {
	Run      experiment.RunRecord       `json:"run"`
	Events   []experiment.EventLogEntry `json:"events"`
	Progress []experiment.Progress      `json:"progress,omitempty"`
	Samples  map[experiment.Limb]int    `json:"samples"`
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events [run-id]",
		Short: "Show logged runs and their lifecycle events",
		Long: `Show the event log.

Without a run id, lists every logged run. With a run id (or --latest),
prints that run's lifecycle entries in sequence order and the number of
raw samples recorded per limb.

Examples:
  agency events
  agency events --latest
  agency events 01937c1e-9c3a-7d2e-8f00-5a6b7c8d9e0f --progress --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) == 1 {
				runID = args[0]
			}
			return runEvents(opts, runID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $AGENCY_DB)")
	cmd.Flags().BoolVar(&opts.Latest, "latest", false, "show the most recent run")
	cmd.Flags().BoolVar(&opts.Progress, "progress", false, "include progress snapshots")

	return cmd
}

func runEvents(opts *EventsOptions, runID string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	path := pick(opts.Database, opts.Env.DB)
	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if runID == "" && !opts.Latest {
		return listRuns(ctx, st, formatter)
	}

	var run experiment.RunRecord
	if runID == "" {
		run, err = st.LatestRun(ctx)
	} else {
		run, err = st.ReadRun(ctx, runID)
	}
	if errors.Is(err, store.ErrRunNotFound) {
		msg := "no runs logged"
		if runID != "" {
			msg = fmt.Sprintf("run %s not found", runID)
		}
		if formatter.JSON() {
			_ = formatter.Error(CodeRunNotFound, msg, nil)
		}
		return NewExitError(ExitCommandError, msg)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	out := RunEvents{Run: run}
	if out.Events, err = st.ReadEvents(ctx, run.RunID); err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}
	if out.Samples, err = st.CountSamples(ctx, run.RunID); err != nil {
		return WrapExitError(ExitCommandError, "failed to count samples", err)
	}
	if opts.Progress {
		if out.Progress, err = st.ReadProgress(ctx, run.RunID); err != nil {
			return WrapExitError(ExitCommandError, "failed to read progress", err)
		}
	}

	if formatter.JSON() {
		return formatter.Success(out)
	}
	printRunEvents(formatter, out)
	return nil
}

func listRuns(ctx context.Context, st *store.Store, formatter *OutputFormatter) error {
	runs, err := st.ReadRuns(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read runs", err)
	}

	summaries := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		summaries = append(summaries, RunSummary{
			RunID:        r.RunID,
			TaskID:       r.TaskID,
			StartedAt:    r.StartedAt,
			Steps:        len(r.Steps),
			TotalSeconds: r.TotalDurationSeconds,
		})
	}

	if formatter.JSON() {
		return formatter.Success(summaries)
	}
	w := formatter.Writer
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No runs logged.")
		return nil
	}
	for _, s := range summaries {
		fmt.Fprintf(w, "%s  %-36s  %s  %d steps  %.1f s\n", s.StartedAt, s.RunID, s.TaskID, s.Steps, s.TotalSeconds)
	}
	return nil
}

func printRunEvents(formatter *OutputFormatter, out RunEvents) {
	w := formatter.Writer
	fmt.Fprintf(w, "Run %s (%s)\n", out.Run.RunID, out.Run.TaskID)
	fmt.Fprintf(w, "  participant %d, age %d months, trial %d, version %s\n",
		out.Run.ParticipantID, out.Run.AgeMonths, out.Run.TrialNumber, out.Run.Version)
	fmt.Fprintln(w)

	for _, e := range out.Events {
		fmt.Fprintf(w, "  %4d  %s  %-12s %s\n", e.Seq, e.Timestamp, e.Subject, e.Phase)
	}

	if len(out.Progress) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %d progress snapshots, last at %.2f s elapsed\n",
			len(out.Progress), out.Progress[len(out.Progress)-1].ElapsedSeconds)
	}

	limbs := make([]experiment.Limb, 0, len(out.Samples))
	for l := range out.Samples {
		limbs = append(limbs, l)
	}
	sort.Slice(limbs, func(i, j int) bool { return limbs[i] < limbs[j] })
	fmt.Fprintln(w)
	if len(limbs) == 0 {
		fmt.Fprintln(w, "  no samples recorded")
	}
	for _, l := range limbs {
		fmt.Fprintf(w, "  %-10s %d samples\n", l, out.Samples[l])
	}
}
