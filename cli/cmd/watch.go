package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/labelsense/scanstream/adapter"
	"github.com/labelsense/scanstream/cli/config"
	"github.com/labelsense/scanstream/cli/render"
	"github.com/labelsense/scanstream/cli/tui"
	"github.com/labelsense/scanstream/client"
	"github.com/labelsense/scanstream/iox"
	"github.com/labelsense/scanstream/log"
	"github.com/labelsense/scanstream/metrics"
	"github.com/labelsense/scanstream/poll"
	"github.com/labelsense/scanstream/replay"
	"github.com/labelsense/scanstream/stream"
	"github.com/labelsense/scanstream/types"
)

// WatchCommand returns the watch command. It follows a scan to its
// terminal state over the push stream, or the polling fallback with
// --poll, and renders the final snapshot.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Follow a scan's progress to its terminal state",
		ArgsUsage: "<scan-id>",
		Flags: append(append(ServerFlags(), ReadOnlyFlags()...),
			&cli.BoolFlag{
				Name:  "poll",
				Usage: "Use the polling fallback instead of the push stream",
			},
			&cli.StringFlag{
				Name:  "tape",
				Usage: "Record resolved stream events to a tape file",
			},
			&cli.StringFlag{
				Name:  "activity-id",
				Usage: "Client activity ID attached to the completion notification",
			},
		),
		Action: watchAction,
	}
}

func watchAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("scan-id required", 1)
	}
	scanID := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := log.New()
	api, err := buildClient(c, cfg, logger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("tui") && c.String("tape") != "" {
		return cli.Exit("--tape cannot be combined with --tui", 1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	var watchErr error
	if c.Bool("tui") {
		watchErr = watchTUI(ctx, api, cfg, scanID, c.Bool("poll"))
	} else {
		watchErr = watchPlain(ctx, c, api, cfg, scanID)
	}
	if watchErr != nil {
		return cli.Exit(fmt.Sprintf("watch failed: %v", watchErr), 1)
	}

	final, ok := api.Store().Get(scanID)
	if !ok {
		return cli.Exit("no snapshot received", 1)
	}

	if err := publishCompletion(ctx, c, cfg, final); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: completion notification failed: %v\n", err)
	}

	if !c.Bool("tui") {
		if err := r.Render(final); err != nil {
			return err
		}
	}
	if final.State == types.StateError {
		return cli.Exit("", 1)
	}
	return nil
}

// watchPlain follows the scan without a TUI, printing state transitions
// to stderr when it is a terminal.
func watchPlain(ctx context.Context, c *cli.Context, api *client.Client, cfg *config.Config, scanID string) error {
	progress := func(scan types.Scan) {
		if isStderrTTY() {
			fmt.Fprintf(os.Stderr, "scan %s: %s\n", scan.ID, scan.State)
		}
	}

	if c.Bool("poll") {
		return watchPoll(ctx, api, cfg, scanID, progress)
	}

	var tape stream.TapeWriter
	if path := c.String("tape"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create tape: %w", err)
		}
		defer iox.DiscardClose(f)
		tape = replay.NewWriter(f)
	}

	return api.WatchScanRecorded(ctx, scanID, stream.BarcodeHandlers{OnSnapshot: progress}, tape)
}

// watchPoll drives the polling fallback until the scan is terminal.
func watchPoll(ctx context.Context, api *client.Client, cfg *config.Config, scanID string, onUpdate func(types.Scan)) error {
	warmup, interval := pollDurations(cfg)
	collector := metrics.NewCollector(string(types.ProtocolBarcodeScan), "poll", scanID)
	controller := poll.NewController(api.Store(), api.FetchScan, warmup, interval, log.New(), collector)
	return controller.Run(ctx, scanID, onUpdate)
}

// watchTUI runs the Bubble Tea watch view, feeding it snapshots from
// the stream or poll producer.
func watchTUI(ctx context.Context, api *client.Client, cfg *config.Config, scanID string, usePoll bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tui.NewWatchProgram(scanID)

	errCh := make(chan error, 1)
	go func() {
		onUpdate := func(scan types.Scan) {
			p.Send(tui.ScanMsg(scan))
		}
		var err error
		if usePoll {
			err = watchPoll(ctx, api, cfg, scanID, onUpdate)
		} else {
			err = api.WatchScan(ctx, scanID, stream.BarcodeHandlers{OnSnapshot: onUpdate})
		}
		if err != nil {
			p.Send(tui.StreamErrMsg{Err: err})
		}
		errCh <- err
	}()

	if _, err := p.Run(); err != nil {
		return err
	}

	// Quitting the view abandons the producer; a cancellation error from
	// that is not a failure.
	cancel()
	err := <-errCh
	if errors.Is(err, context.Canceled) || stream.IsCanceledError(err) {
		return nil
	}
	return err
}

// publishCompletion sends a terminal-scan notification through the
// configured adapter, if any. Non-terminal snapshots are not published.
func publishCompletion(ctx context.Context, c *cli.Context, cfg *config.Config, scan types.Scan) error {
	if !scan.State.IsTerminal() {
		return nil
	}
	a, err := buildAdapter(cfg)
	if err != nil || a == nil {
		return err
	}
	defer iox.DiscardClose(a)
	return a.Publish(ctx, adapter.FromScan(scan, c.String("activity-id")))
}
