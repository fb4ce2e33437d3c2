// Package metadata persists the resolved local path and size of acquired
// models.
package metadata

import (
	"context"
	"time"
)

// Entry is one persisted model record.
type Entry struct {
	ModelID    string
	LocalPath  string
	SizeBytes  int64
	AcquiredAt time.Time
}

// Store is the persistence contract consumed by the coordinator. A failed
// upsert never fails an acquisition; callers log and move on.
type Store interface {
	// Upsert records (or replaces) the resolved local path and size for a model.
	Upsert(ctx context.Context, modelID, localPath string, sizeBytes int64) error

	// Get returns the entry for a model id.
	Get(ctx context.Context, modelID string) (*Entry, error)

	// List returns all entries ordered by model id.
	List(ctx context.Context) ([]Entry, error)

	// Delete removes the entry for a model id. Deleting an absent id is not
	// an error.
	Delete(ctx context.Context, modelID string) error
}
