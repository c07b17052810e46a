package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/agency/internal/actuation"
	"github.com/roach88/agency/internal/config"
	"github.com/roach88/agency/internal/experiment"
	"github.com/roach88/agency/internal/marker"
	"github.com/roach88/agency/internal/sensor"
	"github.com/roach88/agency/internal/sequencer"
	"github.com/roach88/agency/internal/stimulus"
	"github.com/roach88/agency/internal/store"
	"github.com/roach88/agency/internal/timer"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database         string
	Listen           string
	TTLPort          string
	Simulate         bool
	Seed             int64
	Wait             bool
	ProgressInterval time.Duration

	// RunIDs overrides run id generation (for testing).
	RunIDs sequencer.RunIDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return NewRunCommandWithOptions(&RunOptions{RootOptions: rootOpts})
}

// NewRunCommandWithOptions creates the run command around preset options.
func NewRunCommandWithOptions(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Run an experiment",
		Long: `Run the experiment described by a configuration file.

Serves the stimulus bus (/bus/movie, /bus/sound, /bus/audio) and the sensor
bridge endpoint (/sensors) on the listen address, starts the timeline and
logs every lifecycle transition to the SQLite event log. The process exits
when the last step ends or the run is stopped.

Commands read from stdin while running:
  start | pause | resume | stop | status
  limb <none|left_hand|right_hand|left_leg|right_leg>
  model <threshold|physical>

SIGINT and SIGTERM stop the run cleanly.

Examples:
  agency run mobile.yaml
  agency run mobile.yaml --simulate --db /tmp/pilot.db
  agency run mobile.yaml --ttl-port /dev/ttyACM0 --wait`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperiment(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $AGENCY_DB)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "bus and sensor bridge address (default $AGENCY_LISTEN)")
	cmd.Flags().StringVar(&opts.TTLPort, "ttl-port", "", "serial port of the TTL marker module (default $AGENCY_TTL_PORT)")
	cmd.Flags().BoolVar(&opts.Simulate, "simulate", false, "generate synthetic limb samples instead of serving the sensor bridge")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 1, "simulator random seed")
	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "wait for a start command instead of starting immediately")
	cmd.Flags().DurationVar(&opts.ProgressInterval, "progress", time.Second, "progress snapshot interval (0 disables)")

	return cmd
}

// runParts are the components of one experiment process, kept together so
// they can be shut down in order.
type runParts struct {
	logger  *slog.Logger
	store   *store.Store
	timers  *timer.Scheduler
	hub     *stimulus.Hub
	bridge  *sensor.Bridge
	sim     *sensor.Simulator
	router  *sensor.Router
	engine  *actuation.Engine
	samples *store.SampleRecorder
	marker  *marker.Marker
	seq     *sequencer.Sequencer
	done    *runWatcher
}

func runExperiment(opts *RunOptions, path string, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose}

	exp, err := config.Load(path)
	if err != nil {
		if problems := config.Problems(err); len(problems) > 0 {
			_ = outputValidationErrors(formatter, ValidationResult{File: path, Errors: problems})
		}
		return WrapExitError(ExitFailure, "invalid configuration", err)
	}

	parts, err := assemble(opts, exp, logger)
	if err != nil {
		return err
	}
	defer parts.close()

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	listener, err := net.Listen("tcp", pick(opts.Listen, opts.Env.Listen))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	server := &http.Server{Handler: parts.mux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		_ = server.Shutdown(shutdownCtx)
	}()
	logger.Info("serving bus and sensor bridge", "addr", listener.Addr().String())

	var wg sync.WaitGroup
	seqErr := make(chan error, 1)
	background := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("component stopped", "component", name, "error", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		seqErr <- parts.seq.Run(ctx)
	}()
	background("actuation", func(ctx context.Context) error { return parts.engine.Consume(ctx, parts.router.Samples()) })
	background("samples", parts.samples.Run)
	if parts.sim != nil {
		background("simulator", parts.sim.Run)
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	lines := make(chan string)
	go readLines(ctx, cmd.InOrStdin(), lines)

	if !opts.Wait {
		if err := parts.seq.Start(ctx); err != nil {
			return WrapExitError(ExitFailure, "failed to start run", err)
		}
	} else {
		fmt.Fprintln(formatter.GetErrWriter(), "Waiting for start command...")
	}

	ctl := &controller{seq: parts.seq, actuation: parts.engine, out: formatter.GetErrWriter()}
	for {
		select {
		case runID := <-parts.done.C:
			return reportRun(ctx, formatter, parts, runID)
		case sig := <-sigChan:
			logger.Info("received signal, stopping run", "signal", sig)
			if err := parts.seq.Stop(ctx); err != nil {
				return WrapExitError(ExitFailure, "failed to stop run", err)
			}
			select {
			case runID := <-parts.done.C:
				return reportRun(ctx, formatter, parts, runID)
			default:
				return nil
			}
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := ctl.handle(ctx, line); err != nil {
				fmt.Fprintf(formatter.GetErrWriter(), "error: %v\n", err)
			}
		case err := <-seqErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return WrapExitError(ExitFailure, "sequencer stopped", err)
			}
			return nil
		}
	}
}

// assemble builds every component of a run from the configuration.
func assemble(opts *RunOptions, exp *config.Experiment, logger *slog.Logger) (*runParts, error) {
	settings, err := exp.ActuationSettings()
	if err != nil {
		return nil, WrapExitError(ExitFailure, "invalid actuation settings", err)
	}

	dbPath := pick(opts.Database, opts.Env.DB)
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	logger.Info("event log ready", "path", dbPath)

	p := &runParts{
		logger: logger,
		store:  st,
		timers: timer.New(nil),
		hub:    stimulus.NewHub(stimulus.WithHubLogger(logger)),
		done:   newRunWatcher(),
	}
	bus := stimulus.NewBus(logger, p.hub)

	p.samples = store.NewSampleRecorder(st, store.DefaultFlushInterval, logger)
	p.router = sensor.NewRouter(256, logger, p.samples)

	var streams sequencer.Streams
	if opts.Simulate {
		p.sim = sensor.NewSimulator(p.router, exp.Sensors.RateHz, opts.Seed)
		streams = p.sim
		logger.Info("sensor simulator enabled", "rate_hz", exp.Sensors.RateHz)
	} else {
		p.bridge = sensor.NewBridge(p.router, logger)
		streams = p.bridge
	}

	p.engine, err = actuation.New(bus, p.timers, settings, actuation.WithLogger(logger))
	if err != nil {
		p.close()
		return nil, WrapExitError(ExitFailure, "invalid actuation settings", err)
	}

	p.marker = marker.Open(pick(opts.TTLPort, opts.Env.TTLPort), logger)

	seqOpts := []sequencer.Option{
		sequencer.WithLogger(logger),
		sequencer.WithMarker(p.marker),
		sequencer.WithListener(p.samples),
		sequencer.WithListener(p.done),
	}
	if opts.ProgressInterval > 0 {
		seqOpts = append(seqOpts, sequencer.WithProgressInterval(opts.ProgressInterval))
	}
	if opts.RunIDs != nil {
		seqOpts = append(seqOpts, sequencer.WithRunIDGenerator(opts.RunIDs))
	}
	p.seq = sequencer.New(
		sequencer.Config{
			Participant:   exp.Task,
			Steps:         exp.Steps,
			Limbs:         exp.Sensors.Limbs,
			FixationSpeed: exp.FixationSpeed(sequencer.DefaultFixationSpeed),
		},
		sequencer.Deps{
			Timers:   p.timers,
			Actuator: p.engine,
			Movie:    bus,
			Sound:    stimulus.NewAudio(bus),
			Streams:  streams,
			Log:      st,
		},
		seqOpts...,
	)
	return p, nil
}

// mux serves the bus, the sensor bridge and a status endpoint.
func (p *runParts) mux() *http.ServeMux {
	mux := http.NewServeMux()
	p.hub.Register(mux)
	if p.bridge != nil {
		p.bridge.Register(mux)
	}
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"run":       p.seq.Snapshot(),
			"actuation": p.engine.State(),
			"limb":      p.engine.ActiveLimb(),
			"model":     p.engine.Model(),
			"bus":       p.hub.Stats(),
			"samples":   p.router.Routed(),
			"dropped":   p.router.Dropped(),
			"recorded":  p.samples.Written(),
			"lost":      p.samples.Lost(),
		})
	})
	return mux
}

func (p *runParts) close() {
	if p.bridge != nil {
		p.bridge.Close()
	}
	p.hub.Close()
	if p.marker != nil {
		if err := p.marker.Close(); err != nil {
			p.logger.Warn("ttl marker close failed", "error", err)
		}
	}
	p.timers.Close()
	if err := p.store.Close(); err != nil {
		p.logger.Error("error closing database", "error", err)
	}
}

// RunReport summarises a finished run.
type RunReport struct {
	RunID   string                  `json:"run_id"`
	TaskID  string                  `json:"task_id"`
	Events  int                     `json:"events"`
	Samples map[experiment.Limb]int `json:"samples"`
}

func reportRun(ctx context.Context, formatter *OutputFormatter, p *runParts, runID string) error {
	if err := p.samples.Flush(ctx); err != nil {
		p.logger.Warn("sample flush failed", "error", err)
	}
	run, err := p.store.ReadRun(ctx, runID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read run", err)
	}
	events, err := p.store.ReadEvents(ctx, runID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read events", err)
	}
	counts, err := p.store.CountSamples(ctx, runID)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to count samples", err)
	}

	report := RunReport{RunID: run.RunID, TaskID: run.TaskID, Events: len(events), Samples: counts}
	if formatter.JSON() {
		return formatter.Success(report)
	}
	fmt.Fprintf(formatter.Writer, "Run %s (%s) finished: %d events logged\n", report.RunID, report.TaskID, report.Events)
	return nil
}

// runWatcher reports run ends to the command loop.
type runWatcher struct {
	C chan string
}

func newRunWatcher() *runWatcher {
	return &runWatcher{C: make(chan string, 1)}
}

func (w *runWatcher) RunStarted(experiment.RunRecord) {}

func (w *runWatcher) RunStopped(runID string) {
	select {
	case w.C <- runID:
	default:
	}
}

func readLines(ctx context.Context, r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case out <- line:
		case <-ctx.Done():
			return
		}
	}
}

// runControl is the part of the sequencer the operator drives.
type runControl interface {
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	Snapshot() experiment.TaskRun
}

// actuationControl is the part of the actuation engine the operator drives.
type actuationControl interface {
	SetActiveLimb(limb experiment.Limb) error
	SelectModel(kind experiment.ModelKind) error
}

// controller interprets operator commands.
type controller struct {
	seq       runControl
	actuation actuationControl
	out       io.Writer
}

func (c *controller) handle(ctx context.Context, line string) error {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return nil
	}
	arg := func() (string, error) {
		if len(fields) != 2 {
			return "", fmt.Errorf("%s takes one argument", fields[0])
		}
		return fields[1], nil
	}

	switch fields[0] {
	case "start":
		return c.seq.Start(ctx)
	case "pause":
		return c.seq.Pause(ctx)
	case "resume":
		return c.seq.Resume(ctx)
	case "stop":
		return c.seq.Stop(ctx)
	case "status":
		run := c.seq.Snapshot()
		fmt.Fprintf(c.out, "%s step %d/%d elapsed %.2f s remaining %.2f s\n",
			run.State, run.CurrentStepIndex, len(run.Steps), run.ElapsedSeconds, run.RemainingSeconds)
		return nil
	case "limb":
		name, err := arg()
		if err != nil {
			return err
		}
		limb, err := experiment.ParseLimb(name)
		if err != nil {
			return err
		}
		return c.actuation.SetActiveLimb(limb)
	case "model":
		name, err := arg()
		if err != nil {
			return err
		}
		kind, err := experiment.ParseModelKind(name)
		if err != nil {
			return err
		}
		return c.actuation.SelectModel(kind)
	}
	return fmt.Errorf("unknown command %q", fields[0])
}
