package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modelpull/modelpull/internal/api"
	"github.com/modelpull/modelpull/pkg/events"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the acquisition HTTP API",
		Long: `Run the HTTP API daemon.

Pulls started over the API keep running until they finish or are cancelled;
failed downloads are resumed on the next pull of the same model.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (defaults to config)")

	return cmd
}

func runServe(ctx context.Context, listen string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listen == "" {
		listen = cfg.API.Listen
	}

	p, err := loadPipeline(cfg, events.LogSink{})
	if err != nil {
		return err
	}
	defer p.Close()

	fmt.Printf("Listening on %s\n", listen)
	srv := api.NewServer(listen, p.coord, p.catalog, p.store)
	return srv.Run(ctx)
}
