package strategy

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	pkgerrors "github.com/modelpull/modelpull/pkg/errors"
	"github.com/modelpull/modelpull/pkg/fsutil"
	"github.com/modelpull/modelpull/pkg/model"
	"github.com/modelpull/modelpull/pkg/progress"
)

// FileStrategy acquires models from file:// URLs by copying the local file
// into the destination directory. It is registered by the CLI and serves as
// the reference implementation of the Strategy contract.
type FileStrategy struct{}

// NewFileStrategy creates the local-file acquisition strategy.
func NewFileStrategy() *FileStrategy {
	return &FileStrategy{}
}

func (s *FileStrategy) ID() string { return "file" }

func (s *FileStrategy) CanHandle(desc *model.Descriptor) bool {
	return strings.HasPrefix(desc.SourceURL, "file://")
}

func (s *FileStrategy) Fetch(ctx context.Context, desc *model.Descriptor, destDir string, onProgress progress.Func) (string, error) {
	u, err := url.Parse(desc.SourceURL)
	if err != nil {
		return "", pkgerrors.Wrapf(pkgerrors.ErrInvalidPath, "parse %s", desc.SourceURL)
	}
	srcPath := u.Path
	if srcPath == "" {
		return "", pkgerrors.Wrapf(pkgerrors.ErrInvalidPath, "empty path in %s", desc.SourceURL)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "open source %s", srcPath)
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return "", pkgerrors.Wrapf(err, "stat source %s", srcPath)
	}

	if err := fsutil.EnsureDir(destDir); err != nil {
		return "", err
	}
	destPath := filepath.Join(destDir, filepath.Base(srcPath))

	dst, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fsutil.FileModeDefault)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "create %s", destPath)
	}
	defer dst.Close()

	report := func(p progress.Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}
	report(progress.Progress{Stage: progress.StageTransferring, TotalBytes: fi.Size()})

	if err := copyChunked(ctx, dst, src, fi.Size(), report); err != nil {
		os.Remove(destPath)
		if ctx.Err() != nil {
			return "", pkgerrors.Wrap(pkgerrors.ErrCancelled, desc.ID)
		}
		return "", pkgerrors.Wrapf(err, "copy %s", srcPath)
	}

	report(progress.Progress{Stage: progress.StageTransferring, BytesTransferred: fi.Size(), TotalBytes: fi.Size()})
	return destPath, nil
}

// copyChunked copies in fixed chunks so cancellation and progress get a
// chance between reads.
func copyChunked(ctx context.Context, dst io.Writer, src io.Reader, total int64, report progress.Func) error {
	buf := make([]byte, 256*1024)
	var copied int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			copied += int64(n)
			report(progress.Progress{
				Stage:            progress.StageTransferring,
				BytesTransferred: copied,
				TotalBytes:       total,
			})
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
