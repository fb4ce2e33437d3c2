// Package cli implements the modelpull commands.
package cli

import (
	"fmt"

	"github.com/modelpull/modelpull/internal/logger"
	"github.com/modelpull/modelpull/pkg/archive"
	"github.com/modelpull/modelpull/pkg/auth"
	"github.com/modelpull/modelpull/pkg/config"
	"github.com/modelpull/modelpull/pkg/coordinator"
	"github.com/modelpull/modelpull/pkg/download"
	"github.com/modelpull/modelpull/pkg/events"
	"github.com/modelpull/modelpull/pkg/fsutil"
	"github.com/modelpull/modelpull/pkg/metadata"
	"github.com/modelpull/modelpull/pkg/model"
	"github.com/modelpull/modelpull/pkg/strategy"
)

// These variables are set by the main package.
var (
	ConfigPath *string
	Verbose    *bool
)

// loadConfig loads the configuration honoring the global flags.
func loadConfig() (*config.Config, error) {
	path := ""
	if ConfigPath != nil {
		path = *ConfigPath
	}
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if Verbose != nil && *Verbose {
		cfg.Log.Level = "debug"
	}
	logger.InitLogger(cfg.Log.Level)

	return cfg, nil
}

// pipeline holds the wired acquisition stack of one command invocation.
type pipeline struct {
	coord   *coordinator.Coordinator
	catalog *model.Catalog
	store   *metadata.SQLiteStore
}

// loadPipeline wires the coordinator and its collaborators from the config.
func loadPipeline(cfg *config.Config, sink events.Sink) (*pipeline, error) {
	catalog, err := model.LoadCatalog(cfg.Models.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	store, err := metadata.NewSQLiteStore(cfg.Models.MetadataDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	if err := fsutil.EnsureDir(cfg.Models.ScratchDir); err != nil {
		store.Close()
		return nil, err
	}

	var authenticator auth.Authenticator
	if cfg.Transfer.AuthToken != "" {
		authenticator = auth.BearerAuth{Token: cfg.Transfer.AuthToken}
	}
	engine := download.NewEngine(download.Config{
		Timeout:      cfg.Transfer.AttemptTimeout,
		UserAgent:    cfg.Transfer.UserAgent,
		RetryLimit:   cfg.Transfer.RetryLimit,
		BackoffScale: cfg.Transfer.BackoffScale,
		Auth:         authenticator,
	})

	registry := strategy.NewRegistry()
	registry.Register(strategy.NewFileStrategy())

	coord := coordinator.New(engine, archive.NewExtractor(), store, coordinator.Options{
		RootDir:    cfg.Models.RootDir,
		ScratchDir: cfg.Models.ScratchDir,
		Registry:   registry,
		Events:     sink,
	})

	return &pipeline{coord: coord, catalog: catalog, store: store}, nil
}

func (p *pipeline) Close() error {
	return p.store.Close()
}
