package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	pkgerrors "github.com/modelpull/modelpull/pkg/errors"
	"github.com/modelpull/modelpull/pkg/metadata"
)

// NewRemoveCmd creates the remove command.
func NewRemoveCmd() *cobra.Command {
	var keepFiles bool

	cmd := &cobra.Command{
		Use:   "remove MODEL...",
		Short: "Remove acquired models",
		Long: `Remove models from disk and from the metadata store.

With --keep-files only the metadata entry is dropped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd.Context(), args, keepFiles)
		},
	}

	cmd.Flags().BoolVar(&keepFiles, "keep-files", false, "Drop the metadata entry but keep the files")

	return cmd
}

func runRemove(ctx context.Context, ids []string, keepFiles bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := metadata.NewSQLiteStore(cfg.Models.MetadataDB)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer store.Close()

	for _, id := range ids {
		entry, err := store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, pkgerrors.ErrModelNotFound) {
				fmt.Printf("Model %s is not recorded, skipping\n", id)
				continue
			}
			return err
		}

		if !keepFiles {
			// Only delete inside the configured model root, no matter what
			// the store says.
			modelDir := filepath.Join(cfg.Models.RootDir, id)
			rel, relErr := filepath.Rel(cfg.Models.RootDir, entry.LocalPath)
			if relErr != nil || strings.HasPrefix(rel, "..") {
				return pkgerrors.Wrapf(pkgerrors.ErrInvalidPath, "%s is outside the model root", entry.LocalPath)
			}
			if err := os.RemoveAll(modelDir); err != nil {
				return fmt.Errorf("failed to remove %s: %w", modelDir, err)
			}
		}

		if err := store.Delete(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", id)
	}

	return nil
}
