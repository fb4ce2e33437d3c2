//go:generate mockgen -destination=./mocks/coordinator.go . Transferer,Extractor,MetadataStore

// Package coordinator orchestrates model acquisitions: strategy resolution,
// transfer, extraction, metadata persistence and lifecycle events.
package coordinator

import (
	"context"

	"github.com/modelpull/modelpull/pkg/archive"
	"github.com/modelpull/modelpull/pkg/download"
	"github.com/modelpull/modelpull/pkg/events"
	"github.com/modelpull/modelpull/pkg/model"
	"github.com/modelpull/modelpull/pkg/progress"
	"github.com/modelpull/modelpull/pkg/strategy"
)

// Transferer is the subset of the transfer engine used by the coordinator.
type Transferer interface {
	Transfer(ctx context.Context, url, destPath string, token download.ResumeToken, taps download.Taps) (*download.Result, error)
}

// Extractor is the subset of the archive extractor used by the coordinator.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string, kind model.ArchiveKind, onProgress progress.Func) (*archive.Result, error)
}

// MetadataStore persists the resolved path and size of acquired models.
// Persistence failures are best-effort: they are logged, never fatal.
type MetadataStore interface {
	Upsert(ctx context.Context, modelID, localPath string, sizeBytes int64) error
}

// Options configure a Coordinator.
type Options struct {
	// RootDir holds one directory per model id.
	RootDir string
	// ScratchDir holds in-flight archives before extraction.
	ScratchDir string
	// Registry supplies custom download strategies; nil means default path
	// only.
	Registry *strategy.Registry
	// Events receives lifecycle notifications; nil means none.
	Events events.Sink
}
