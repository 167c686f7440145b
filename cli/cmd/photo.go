package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/labelsense/scanstream/cli/config"
	"github.com/labelsense/scanstream/cli/render"
	"github.com/labelsense/scanstream/client"
	"github.com/labelsense/scanstream/log"
	"github.com/labelsense/scanstream/types"
)

// PhotoCommand returns the photo command. It submits one captured
// product photo for a scan, then follows the scan via the polling
// fallback until it reaches a terminal state. Without a scan-id a new
// scan is created first.
func PhotoCommand() *cli.Command {
	return &cli.Command{
		Name:      "photo",
		Usage:     "Submit a product photo for a scan and wait for analysis",
		ArgsUsage: "[scan-id]",
		Flags: append(append(ServerFlags(), ReadOnlyFlags()...),
			&cli.StringFlag{
				Name:     "image",
				Usage:    "Path to the JPEG image file",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "ocr-text",
				Usage: "Client-side OCR text extracted from the image",
			},
			&cli.StringFlag{
				Name:  "barcode",
				Usage: "Barcode detected in the image, if any",
			},
			&cli.BoolFlag{
				Name:  "no-wait",
				Usage: "Submit without waiting for the analysis to finish",
			},
		),
		Action: photoAction,
	}
}

func photoAction(c *cli.Context) error {
	scanID := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for photo (use watch)", 1)
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

	image, err := os.ReadFile(c.String("image"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot read image: %v", err), 1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if scanID == "" {
		scan, err := api.CreateScan(ctx, "")
		if err != nil {
			return cli.Exit(fmt.Sprintf("scan create failed: %v", err), 1)
		}
		scanID = scan.ID
		if isStderrTTY() {
			fmt.Fprintf(os.Stderr, "created scan %s\n", scanID)
		}
	}

	hash, err := storeImage(ctx, cfg, image)
	if err != nil {
		return cli.Exit(fmt.Sprintf("image store upload failed: %v", err), 1)
	}

	info := types.ImageInfo{
		ImageFileHash: hash,
		ImageOCRText:  c.String("ocr-text"),
		Barcode:       c.String("barcode"),
	}
	resp, err := api.SubmitImage(ctx, scanID, image, info)
	if err != nil {
		return cli.Exit(fmt.Sprintf("submit failed: %v", err), 1)
	}

	if c.Bool("no-wait") {
		return r.Render(resp)
	}

	if isStderrTTY() {
		fmt.Fprintf(os.Stderr, "photo queued (position %d), polling scan %s\n", resp.QueuePosition, scanID)
	}

	if err := watchPoll(ctx, api, cfg, scanID, nil); err != nil {
		return cli.Exit(fmt.Sprintf("poll failed: %v", err), 1)
	}

	final, ok := api.Store().Get(scanID)
	if !ok {
		return cli.Exit("no snapshot received", 1)
	}
	if err := r.Render(final); err != nil {
		return err
	}
	if final.State == types.StateError {
		return cli.Exit("", 1)
	}
	return nil
}

// storeImage uploads the image to the configured S3 image store and
// returns its content hash. Without a configured store only the hash is
// computed; the backend receives the bytes through SubmitImage either way.
func storeImage(ctx context.Context, cfg *config.Config, image []byte) (string, error) {
	if cfg.ImageStore.Bucket == "" {
		return client.HashImage(image), nil
	}

	store, err := client.NewImageStore(ctx, client.ImageStoreConfig{
		Bucket:       cfg.ImageStore.Bucket,
		Prefix:       cfg.ImageStore.Prefix,
		Region:       cfg.ImageStore.Region,
		Endpoint:     cfg.ImageStore.Endpoint,
		UsePathStyle: cfg.ImageStore.S3PathStyle,
	})
	if err != nil {
		return "", err
	}
	return store.Upload(ctx, image)
}
