package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/labelsense/scanstream/cache"
	"github.com/labelsense/scanstream/cli/render"
	"github.com/labelsense/scanstream/iox"
	"github.com/labelsense/scanstream/log"
	"github.com/labelsense/scanstream/metrics"
	"github.com/labelsense/scanstream/replay"
	"github.com/labelsense/scanstream/stream"
	"github.com/labelsense/scanstream/types"
)

// ReplayResponse is the rendered result of a tape replay.
type ReplayResponse struct {
	Events int         `json:"events"`
	Final  *types.Scan `json:"final,omitempty"`
}

// ReplayCommand returns the replay command. It drives a recorded event
// tape through the dispatcher offline and renders the reconciled scan.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Replay a recorded event tape offline",
		ArgsUsage: "<tape-file>",
		Flags:     ReadOnlyFlags(),
		Action:    replayAction,
	}
}

func replayAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("tape file required", 1)
	}
	path := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for replay", 1)
	}

	f, err := os.Open(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot open tape: %v", err), 1)
	}
	defer iox.DiscardClose(f)

	store := cache.NewStore()
	var lastID string
	handlers := stream.BarcodeHandlers{
		OnSnapshot: func(scan types.Scan) {
			lastID = scan.ID
			store.Merge(scan.ID, scan)
		},
	}

	collector := metrics.NewCollector(string(types.ProtocolBarcodeScan), "replay", path)
	dispatcher := stream.NewBarcodeDispatcher(handlers, log.New(), collector)

	n, err := replay.Replay(f, dispatcher)
	if err != nil {
		return cli.Exit(fmt.Sprintf("replay failed after %d events: %v", n, err), 1)
	}

	resp := ReplayResponse{Events: n}
	if scan, ok := store.Get(lastID); ok {
		resp.Final = &scan
	}
	return r.Render(resp)
}
