package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/labelsense/scanstream/cli/render"
	"github.com/labelsense/scanstream/log"
	"github.com/labelsense/scanstream/stream"
	"github.com/labelsense/scanstream/types"
)

// CheckResponse is the rendered result of a barcode check.
type CheckResponse struct {
	Barcode         string                           `json:"barcode"`
	Match           string                           `json:"match,omitempty"`
	NotFound        bool                             `json:"not_found,omitempty"`
	Error           string                           `json:"error,omitempty"`
	Product         *types.Product                   `json:"product,omitempty"`
	Recommendations []types.IngredientRecommendation `json:"recommendations,omitempty"`
}

// CheckCommand returns the check command. It analyzes one barcode over
// the unified analysis stream and renders the verdict.
func CheckCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "Analyze a barcode against the household profile",
		ArgsUsage: "<barcode>",
		Flags: append(append(ServerFlags(), ReadOnlyFlags()...),
			&cli.StringFlag{
				Name:  "activity-id",
				Usage: "Client activity ID correlating this action (generated if omitted)",
			},
			&cli.BoolFlag{
				Name:  "progress",
				Usage: "Print stream progress to stderr",
			},
		),
		Action: checkAction,
	}
}

func checkAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("barcode required", 1)
	}
	barcode := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for check (use watch)", 1)
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

	ctx, cancel := signalContext()
	defer cancel()

	handlers := stream.UnifiedHandlers{}
	if c.Bool("progress") {
		handlers.OnSnapshot = func(scan types.Scan) {
			fmt.Fprintf(os.Stderr, "scan %s: %s\n", scan.ID, scan.State)
		}
		handlers.OnProduct = func(p *types.Product) {
			fmt.Fprintf(os.Stderr, "product: %s\n", p.Name)
		}
	}

	entry, err := api.AnalyzeBarcode(ctx, barcode, c.String("activity-id"), handlers)
	if err != nil && entry.ErrorMessage == "" {
		return cli.Exit(fmt.Sprintf("analysis failed: %v", err), 1)
	}

	resp := CheckResponse{
		Barcode:         entry.Barcode,
		Match:           string(entry.MatchStatus),
		NotFound:        entry.NotFound,
		Error:           entry.ErrorMessage,
		Product:         entry.Product,
		Recommendations: entry.Recommendations,
	}
	if renderErr := r.Render(resp); renderErr != nil {
		return renderErr
	}

	if entry.ErrorMessage != "" || entry.NotFound {
		return cli.Exit("", 1)
	}
	return nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
