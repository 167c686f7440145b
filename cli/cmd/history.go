package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/labelsense/scanstream/cli/render"
	"github.com/labelsense/scanstream/log"
	"github.com/labelsense/scanstream/types"
)

// historyWarningThreshold is the page size above which we suggest --limit.
const historyWarningThreshold = 100

// HistoryCommand returns the history command. It lists past scans,
// newest first.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List past scans",
		Flags: append(append(ServerFlags(), ReadOnlyFlags()...),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of scans to return (0 = server default)",
				Value: 0,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of scans to skip",
				Value: 0,
			},
		),
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for history", 1)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	api, err := buildClient(c, cfg, log.New())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	page, err := api.GetScanHistory(ctx, c.Int("limit"), c.Int("offset"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("history fetch failed: %v", err), 1)
	}

	// Warn if output is large and --limit was not specified (TTY only to avoid noise in pipelines)
	if len(page.Scans) > historyWarningThreshold && c.Int("limit") == 0 && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", len(page.Scans))
	}

	return r.Render(page.Scans)
}

// FavoriteCommand returns the favorite command. It marks or unmarks a
// past scan as a favorite.
func FavoriteCommand() *cli.Command {
	return &cli.Command{
		Name:      "favorite",
		Usage:     "Mark a scan as a favorite",
		ArgsUsage: "<scan-id>",
		Flags: append(ServerFlags(),
			&cli.BoolFlag{
				Name:  "remove",
				Usage: "Remove the favorite mark instead",
			},
		),
		Action: favoriteAction,
	}
}

func favoriteAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("scan-id required", 1)
	}
	scanID := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	api, err := buildClient(c, cfg, log.New())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	favorited := !c.Bool("remove")
	if err := api.SetFavorite(ctx, scanID, favorited); err != nil {
		return cli.Exit(fmt.Sprintf("favorite update failed: %v", err), 1)
	}
	return nil
}

// FeedbackCommand returns the feedback command. It submits a rating and
// note for a completed analysis.
func FeedbackCommand() *cli.Command {
	return &cli.Command{
		Name:      "feedback",
		Usage:     "Submit feedback on an analysis",
		ArgsUsage: "<activity-id>",
		Flags: append(ServerFlags(),
			&cli.IntFlag{
				Name:  "rating",
				Usage: "Rating: -1 (thumbs down) or 1 (thumbs up)",
			},
			&cli.StringSliceFlag{
				Name:  "reason",
				Usage: "Reason tag (repeatable)",
			},
			&cli.StringFlag{
				Name:  "note",
				Usage: "Free-form note",
			},
		),
		Action: feedbackAction,
	}
}

func feedbackAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("activity-id required", 1)
	}
	activityID := c.Args().First()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	api, err := buildClient(c, cfg, log.New())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	fb := types.Feedback{
		Reasons: c.StringSlice("reason"),
		Note:    c.String("note"),
	}
	if c.IsSet("rating") {
		rating := c.Int("rating")
		fb.Rating = &rating
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := api.SubmitFeedback(ctx, activityID, fb); err != nil {
		return cli.Exit(fmt.Sprintf("feedback submit failed: %v", err), 1)
	}
	return nil
}
