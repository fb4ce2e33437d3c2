package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/modelpull/modelpull/pkg/events"
	"github.com/modelpull/modelpull/pkg/model"
	"github.com/modelpull/modelpull/pkg/progress"
)

// NewFetchCmd creates the fetch command.
func NewFetchCmd() *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "fetch MODEL...",
		Short: "Download models from the catalog",
		Long: `Download one or more models listed in the catalog.

Archives are unpacked into the model directory; single files are stored
as-is. Without --version the newest catalog entry wins.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd.Context(), args, version)
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Exact model version (single model only)")

	return cmd
}

func runFetch(ctx context.Context, ids []string, version string) error {
	if version != "" && len(ids) > 1 {
		return fmt.Errorf("--version applies to a single model, got %d", len(ids))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := loadPipeline(cfg, events.LogSink{})
	if err != nil {
		return err
	}
	defer p.Close()

	for _, id := range ids {
		var desc *model.Descriptor
		if version != "" {
			desc, err = p.catalog.FindVersion(id, version)
		} else {
			desc, err = p.catalog.Find(id)
		}
		if err != nil {
			return err
		}

		if err := fetchOne(ctx, p, desc); err != nil {
			return err
		}
	}
	return nil
}

func fetchOne(ctx context.Context, p *pipeline, desc *model.Descriptor) error {
	fmt.Printf("Fetching %s from %s\n", desc.ID, desc.SourceURL)

	task, err := p.coord.Acquire(ctx, desc)
	if err != nil {
		return err
	}

	for snap := range task.Progress() {
		printProgress(desc.ID, snap)
	}
	fmt.Println()

	path, err := task.Wait(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Fetched %s -> %s\n", desc.ID, path)
	return nil
}

func printProgress(id string, snap progress.Progress) {
	if snap.Stage.Terminal() {
		return
	}
	line := fmt.Sprintf("%s: %s %s", id, snap.Stage, units.BytesSize(float64(snap.BytesTransferred)))
	if f, ok := snap.Fraction(); ok {
		line = fmt.Sprintf("%s / %s (%.0f%%)", line, units.BytesSize(float64(snap.TotalBytes)), f*100)
	}
	// Overwrite the previous line in place.
	fmt.Printf("\r%s", line+strings.Repeat(" ", 10))
}
