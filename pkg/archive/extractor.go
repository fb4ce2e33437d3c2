// Package archive implements model-archive extraction and primary-file
// resolution.
package archive

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"

	"github.com/modelpull/modelpull/pkg/errors"
	"github.com/modelpull/modelpull/pkg/fsutil"
	"github.com/modelpull/modelpull/pkg/model"
	"github.com/modelpull/modelpull/pkg/progress"
)

// nestedRootDepth bounds how deep the primary-file search descends through
// single-directory wrappers.
const nestedRootDepth = 2

// Result describes a completed extraction.
type Result struct {
	// ResolvedPath points at the primary usable artifact: the single model
	// file when the archive holds exactly one, else the effective root
	// directory after unwrapping single-directory nesting.
	ResolvedPath string
	// ExtractedSize is the total bytes written to disk.
	ExtractedSize int64
	// FileCount is the number of regular files extracted.
	FileCount int
	// DirCount is the number of directories created.
	DirCount int
	// Skipped counts entries dropped for safety (resource forks, traversal
	// attempts, unsafe symlinks).
	Skipped int
}

// Extractor unpacks downloaded model archives. It is stateless and safe for
// concurrent use. The extractor never deletes its input archive; disposal is
// the caller's responsibility.
type Extractor struct{}

// NewExtractor creates an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract decompresses archivePath into destDir (created if absent) and
// resolves the primary artifact. Progress is best-effort fractional: 0.0 at
// start, coarse per-entry snapshots while running, 1.0 on completion.
// onProgress may be nil.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string, kind model.ArchiveKind, onProgress progress.Func) (*Result, error) {
	switch kind {
	case model.ArchiveZip, model.ArchiveTarGz, model.ArchiveTarBz2, model.ArchiveTarXz:
	default:
		return nil, errors.Wrapf(errors.ErrUnsupportedArchive, "archive kind %q", kind)
	}

	if ctx.Err() != nil {
		return nil, errors.Wrap(errors.ErrCancelled, "extraction cancelled")
	}

	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrExtractionFailed, err.Error())
	}
	if closer, ok := fsys.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	if err := fsutil.EnsureDir(destDir); err != nil {
		return nil, errors.Wrap(errors.ErrExtractionFailed, err.Error())
	}

	emit(onProgress, progress.Progress{Stage: progress.StageExtracting})

	res := &Result{}
	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return e.extractEntry(fsys, path, destDir, d, res, onProgress)
	}
	if err := fs.WalkDir(fsys, ".", walkFn); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.ErrCancelled, "extraction cancelled")
		}
		return nil, errors.Wrap(errors.ErrExtractionFailed, err.Error())
	}

	resolved, err := resolvePrimary(destDir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrExtractionFailed, err.Error())
	}
	res.ResolvedPath = resolved

	emit(onProgress, progress.Progress{
		Stage:            progress.StageExtracting,
		BytesTransferred: res.ExtractedSize,
		TotalBytes:       res.ExtractedSize,
	})
	return res, nil
}

func emit(fn progress.Func, p progress.Progress) {
	if fn != nil {
		fn(p)
	}
}

// extractEntry writes one archive entry beneath destDir, enforcing the skip
// and containment rules.
func (e *Extractor) extractEntry(fsys fs.FS, path, destDir string, d fs.DirEntry, res *Result, onProgress progress.Func) error {
	if path == "." {
		return nil
	}
	if shouldSkip(path) {
		res.Skipped++
		return nil
	}

	targetPath, ok := containedPath(destDir, path)
	if !ok {
		res.Skipped++
		return nil
	}

	if d.IsDir() {
		if err := os.MkdirAll(targetPath, fsutil.DirModeDefault); err != nil {
			return err
		}
		res.DirCount++
		return nil
	}

	info, err := d.Info()
	if err != nil {
		return err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		return e.writeSymlink(fsys, path, targetPath, destDir, res)
	}

	written, err := e.writeRegularFile(fsys, path, targetPath, info)
	if err != nil {
		return err
	}
	res.FileCount++
	res.ExtractedSize += written

	emit(onProgress, progress.Progress{
		Stage:            progress.StageExtracting,
		BytesTransferred: res.ExtractedSize,
	})
	return nil
}

// shouldSkip filters macOS resource forks out of the extraction.
func shouldSkip(path string) bool {
	for _, part := range strings.Split(path, "/") {
		if part == "__MACOSX" || strings.HasPrefix(part, "._") {
			return true
		}
	}
	return false
}

// containedPath joins an archive entry path onto destDir and rejects entries
// that would escape it (zip-slip).
func containedPath(destDir, entry string) (string, bool) {
	target := filepath.Join(destDir, filepath.FromSlash(entry))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

// writeSymlink recreates a symlink entry, skipping links whose target would
// resolve outside the destination.
func (e *Extractor) writeSymlink(fsys fs.FS, path, targetPath, destDir string, res *Result) error {
	src, err := fsys.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	linkTarget, err := io.ReadAll(src)
	if err != nil {
		return err
	}

	dest := string(linkTarget)
	if filepath.IsAbs(dest) {
		res.Skipped++
		return nil
	}
	if _, ok := containedPath(destDir, filepath.ToSlash(filepath.Join(filepath.Dir(path), dest))); !ok {
		res.Skipped++
		return nil
	}

	if err := fsutil.EnsureFileDir(targetPath); err != nil {
		return err
	}
	_ = os.Remove(targetPath)
	if err := os.Symlink(dest, targetPath); err != nil {
		return err
	}
	res.FileCount++
	return nil
}

func (e *Extractor) writeRegularFile(fsys fs.FS, path, targetPath string, info fs.FileInfo) (int64, error) {
	src, err := fsys.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = src.Close() }()

	if err := fsutil.EnsureFileDir(targetPath); err != nil {
		return 0, err
	}

	dst, err := os.OpenFile(targetPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm()|0o200)
	if err != nil {
		return 0, err
	}
	defer func() { _ = dst.Close() }()

	written, err := io.Copy(dst, src)
	if err != nil {
		return written, err
	}
	return written, nil
}

// resolvePrimary locates the primary artifact beneath destDir: descend
// through single-directory wrappers (a common archive packaging convention,
// bounded depth), then resolve to the lone regular file when the effective
// root holds exactly one.
func resolvePrimary(destDir string) (string, error) {
	root := destDir
	for depth := 0; depth < nestedRootDepth; depth++ {
		entries, err := os.ReadDir(root)
		if err != nil {
			return "", err
		}
		if len(entries) != 1 || !entries[0].IsDir() {
			break
		}
		root = filepath.Join(root, entries[0].Name())
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].Type().IsRegular() {
		return filepath.Join(root, entries[0].Name()), nil
	}
	return root, nil
}
