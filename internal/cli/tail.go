package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/agency/internal/stimulus"
)

// TailOptions holds flags for the tail command.
type TailOptions struct {
	*RootOptions
	Channels []string
	Count    int
	Retry    time.Duration
}

// TailFrame is one received bus frame.
type TailFrame struct {
	At      string `json:"at"`
	Channel string `json:"channel"`
	Payload string `json:"payload"`
}

// NewTailCommand creates the tail command.
func NewTailCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TailOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tail [bus-url]",
		Short: "Print frames published on the stimulus bus",
		Long: `Subscribe to stimulus bus channels the way a renderer does and print
every frame received.

The bus URL defaults to http://$AGENCY_LISTEN.

Examples:
  agency tail
  agency tail ws://lab-pc:8765 --channel movie --channel sound
  agency tail --count 10 --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			base := "http://" + opts.Env.Listen
			if len(args) == 1 {
				base = args[0]
			}
			return runTail(opts, base, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Channels, "channel", []string{"movie", "sound", "audio"}, "channels to subscribe to")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many frames (0 means never)")
	cmd.Flags().DurationVar(&opts.Retry, "retry", 2*time.Second, "redial interval after a lost connection (0 disables)")

	return cmd
}

func runTail(opts *TailOptions, base string, cmd *cobra.Command) error {
	channels := make([]stimulus.Channel, 0, len(opts.Channels))
	for _, name := range opts.Channels {
		ch, err := stimulus.ParseChannel(name)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid channel", err)
		}
		channels = append(channels, ch)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	var (
		mu   sync.Mutex
		seen int
	)
	show := func(m stimulus.Message) {
		mu.Lock()
		defer mu.Unlock()
		if opts.Count > 0 && seen >= opts.Count {
			return
		}
		seen++
		frame := TailFrame{
			At:      m.At.Format("15:04:05.000"),
			Channel: string(m.Channel),
			Payload: string(m.Payload),
		}
		if formatter.JSON() {
			_ = formatter.encode(CLIResponse{Status: "ok", Data: frame})
		} else {
			fmt.Fprintf(formatter.Writer, "%s %-5s %s\n", frame.At, frame.Channel, frame.Payload)
		}
		if opts.Count > 0 && seen >= opts.Count {
			cancel()
		}
	}

	errs := make(chan error, len(channels))
	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch stimulus.Channel) {
			defer wg.Done()
			err := stimulus.Subscribe(ctx, base, ch, opts.Retry, show)
			if err != nil && !errors.Is(err, context.Canceled) {
				errs <- fmt.Errorf("%s: %w", ch, err)
				cancel()
			}
		}(ch)
	}
	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		return WrapExitError(ExitFailure, "bus subscription failed", err)
	}
	return nil
}
