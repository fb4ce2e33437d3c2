package cli

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/modelpull/modelpull/pkg/metadata"
)

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	var nameFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List acquired models",
		Long: `List the models recorded in the local metadata store.

Use --name to filter models by id.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, nameFilter)
		},
	}

	cmd.Flags().StringVar(&nameFilter, "name", "", "Filter models by id (partial match)")

	return cmd
}

func runList(cmd *cobra.Command, nameFilter string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := metadata.NewSQLiteStore(cfg.Models.MetadataDB)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer store.Close()

	entries, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	var rows []metadata.Entry
	for _, e := range entries {
		if nameFilter != "" && !strings.Contains(e.ModelID, nameFilter) {
			continue
		}
		rows = append(rows, e)
	}

	if len(rows) == 0 {
		fmt.Println("No models acquired")
		return nil
	}

	fmt.Printf("%-30s %-10s %-20s %s\n", "MODEL", "SIZE", "ACQUIRED", "PATH")
	fmt.Println(strings.Repeat("-", 90))
	for _, e := range rows {
		fmt.Printf("%-30s %-10s %-20s %s\n",
			e.ModelID,
			units.BytesSize(float64(e.SizeBytes)),
			e.AcquiredAt.Local().Format("2006-01-02 15:04:05"),
			e.LocalPath,
		)
	}

	return nil
}
