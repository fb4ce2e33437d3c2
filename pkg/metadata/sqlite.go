package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	pkgerrors "github.com/modelpull/modelpull/pkg/errors"
	"github.com/modelpull/modelpull/pkg/fsutil"
)

const schema = `
CREATE TABLE IF NOT EXISTS models (
	model_id    TEXT PRIMARY KEY,
	local_path  TEXT NOT NULL,
	size_bytes  INTEGER NOT NULL,
	acquired_at TIMESTAMP NOT NULL
);`

// SQLiteStore is a Store backed by a local sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the metadata database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := fsutil.EnsureFileDir(dbPath); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Ping makes sure the file is actually accessible and the DSN is valid
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Upsert implements Store.
func (s *SQLiteStore) Upsert(ctx context.Context, modelID, localPath string, sizeBytes int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO models (model_id, local_path, size_bytes, acquired_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(model_id) DO UPDATE SET
			local_path = excluded.local_path,
			size_bytes = excluded.size_bytes,
			acquired_at = excluded.acquired_at`,
		modelID, localPath, sizeBytes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert model %s: %w", modelID, err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, modelID string) (*Entry, error) {
	var e Entry
	err := s.db.QueryRowContext(ctx, `
		SELECT model_id, local_path, size_bytes, acquired_at
		FROM models WHERE model_id = ?`, modelID).
		Scan(&e.ModelID, &e.LocalPath, &e.SizeBytes, &e.AcquiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrModelNotFound, "model %s", modelID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query model %s: %w", modelID, err)
	}
	return &e, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model_id, local_path, size_bytes, acquired_at
		FROM models ORDER BY model_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ModelID, &e.LocalPath, &e.SizeBytes, &e.AcquiredAt); err != nil {
			return nil, fmt.Errorf("failed to scan model row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, modelID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE model_id = ?`, modelID); err != nil {
		return fmt.Errorf("failed to delete model %s: %w", modelID, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
