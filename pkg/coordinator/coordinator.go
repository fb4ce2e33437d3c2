package coordinator

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/modelpull/modelpull/internal/logger"
	"github.com/modelpull/modelpull/pkg/download"
	pkgerrors "github.com/modelpull/modelpull/pkg/errors"
	"github.com/modelpull/modelpull/pkg/events"
	"github.com/modelpull/modelpull/pkg/fsutil"
	"github.com/modelpull/modelpull/pkg/model"
	"github.com/modelpull/modelpull/pkg/progress"
	"github.com/modelpull/modelpull/pkg/strategy"
)

// Coordinator drives model acquisitions. Each Acquire call runs as an
// independent goroutine; acquisitions of different models share nothing but
// the strategy registry and the metadata store. Acquisitions of the same
// model id are not deduplicated here.
type Coordinator struct {
	transfer Transferer
	extract  Extractor
	store    MetadataStore

	registry   *strategy.Registry
	sink       events.Sink
	rootDir    string
	scratchDir string

	mu    sync.Mutex
	tasks map[string]*Task
}

// New creates a Coordinator from its collaborators.
func New(transfer Transferer, extract Extractor, store MetadataStore, opts Options) *Coordinator {
	sink := opts.Events
	if sink == nil {
		sink = events.NopSink{}
	}
	registry := opts.Registry
	if registry == nil {
		registry = strategy.NewRegistry()
	}
	return &Coordinator{
		transfer:   transfer,
		extract:    extract,
		store:      store,
		registry:   registry,
		sink:       sink,
		rootDir:    opts.RootDir,
		scratchDir: opts.ScratchDir,
		tasks:      make(map[string]*Task),
	}
}

// Acquire starts acquiring the described model and returns the task handle.
// The descriptor is validated synchronously; everything else happens in the
// task's goroutine. Cancelling ctx cancels the acquisition.
func (c *Coordinator) Acquire(ctx context.Context, desc *model.Descriptor) (*Task, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	task := newTask(ksuid.New().String(), desc.ID, cancel)

	c.mu.Lock()
	c.tasks[task.id] = task
	c.mu.Unlock()

	go c.run(taskCtx, desc, task)
	return task, nil
}

// Cancel requests cancellation of an in-flight task. Cancelling a finished
// task is a no-op.
func (c *Coordinator) Cancel(taskID string) error {
	c.mu.Lock()
	task, ok := c.tasks[taskID]
	c.mu.Unlock()
	if !ok {
		return pkgerrors.Wrapf(pkgerrors.ErrTaskNotFound, "task %s", taskID)
	}
	task.cancel()
	return nil
}

// Task returns the handle for a task id.
func (c *Coordinator) Task(taskID string) (*Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[taskID]
	if !ok {
		return nil, pkgerrors.Wrapf(pkgerrors.ErrTaskNotFound, "task %s", taskID)
	}
	return task, nil
}

// Tasks returns all known task handles, including finished ones.
func (c *Coordinator) Tasks() []*Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t)
	}
	return out
}

// ModelDir returns the destination directory for a model id.
func (c *Coordinator) ModelDir(modelID string) string {
	return filepath.Join(c.rootDir, modelID)
}

// run executes the acquisition state machine to a terminal stage.
func (c *Coordinator) run(ctx context.Context, desc *model.Descriptor, task *Task) {
	defer task.cancel()

	c.sink.OnStarted(desc.ID)
	task.publish(progress.Progress{Stage: progress.StagePending, TotalBytes: desc.ExpectedSize})

	finalPath, size, err := c.acquire(ctx, desc, task)
	if err != nil {
		c.finishErr(ctx, desc, task, err)
		return
	}

	task.setStage(progress.StageFinalizing)
	task.publish(progress.Progress{Stage: progress.StageFinalizing, BytesTransferred: size, TotalBytes: size})

	// Metadata persistence is best-effort: the acquired model on disk is the
	// source of truth and the in-memory result still reaches the caller.
	if err := c.store.Upsert(ctx, desc.ID, finalPath, size); err != nil {
		logger.Warn("metadata persist failed", logger.Fields{"model": desc.ID, "error": err.Error()})
	}

	c.sink.OnCompleted(desc.ID, time.Since(task.started), size)
	task.finish(progress.StageCompleted, finalPath, nil, nil)
}

// acquire runs strategy dispatch or the default transfer/extract path and
// returns the final resolved path and size.
func (c *Coordinator) acquire(ctx context.Context, desc *model.Descriptor, task *Task) (string, int64, error) {
	modelDir := c.ModelDir(desc.ID)

	if s := c.registry.Resolve(desc); s != nil {
		// A custom strategy owns the entire acquisition, including any
		// extraction it needs.
		task.setStage(progress.StageTransferring)
		finalPath, err := s.Fetch(ctx, desc, modelDir, func(p progress.Progress) {
			task.publish(p)
			if f, ok := p.Fraction(); ok {
				c.sink.OnProgress(desc.ID, f, p.BytesTransferred, p.TotalBytes)
			}
		})
		if err != nil {
			return "", 0, err
		}
		size, err := sizeOf(finalPath)
		if err != nil {
			return "", 0, err
		}
		return finalPath, size, nil
	}

	destPath := c.transferDest(desc, task.id, modelDir)
	task.setStage(progress.StageTransferring)

	// A previous failed acquisition of the same model may have left a
	// resumable partial behind; continue from it instead of starting over.
	token := c.lastResumeToken(desc.ID)

	res, err := c.transfer.Transfer(ctx, desc.SourceURL, destPath, token, download.Taps{
		Coarse: func(p progress.Progress) {
			if f, ok := p.Fraction(); ok {
				c.sink.OnProgress(desc.ID, f, p.BytesTransferred, p.TotalBytes)
			}
		},
		Fine: task.publish,
	})
	if err != nil {
		return "", 0, err
	}

	if !desc.IsArchive() {
		return res.Path, res.Size, nil
	}

	task.setStage(progress.StageExtracting)
	c.sink.OnExtractionStarted(desc.ID)

	xres, err := c.extract.Extract(ctx, res.Path, modelDir, desc.ArchiveKind, func(p progress.Progress) {
		task.publish(p)
		if f, ok := p.Fraction(); ok {
			c.sink.OnExtractionProgress(desc.ID, f)
		}
	})
	if err != nil {
		// Partially written destination contents are useless; drop them
		// along with the scratch archive.
		_ = os.RemoveAll(modelDir)
		_ = os.Remove(res.Path)
		if !errors.Is(err, pkgerrors.ErrCancelled) {
			c.sink.OnExtractionFailed(desc.ID, err)
		}
		return "", 0, err
	}

	// The extractor never deletes its input; the coordinator does.
	_ = os.Remove(res.Path)

	c.sink.OnExtractionCompleted(desc.ID, xres.FileCount)
	return xres.ResolvedPath, xres.ExtractedSize, nil
}

// transferDest picks where the transfer lands: archives go to a scratch path
// first, single files straight into the model directory.
func (c *Coordinator) transferDest(desc *model.Descriptor, taskID, modelDir string) string {
	if desc.IsArchive() {
		return filepath.Join(c.scratchDir, taskID+"-"+remoteFilename(desc))
	}
	return filepath.Join(modelDir, remoteFilename(desc))
}

// lastResumeToken consumes the resume token of the most recently started
// failed acquisition of the model, if any.
func (c *Coordinator) lastResumeToken(modelID string) download.ResumeToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	var best *Task
	for _, t := range c.tasks {
		if t.modelID != modelID || t.ResumeToken() == nil {
			continue
		}
		if best == nil || t.started.After(best.started) {
			best = t
		}
	}
	if best == nil {
		return nil
	}
	return best.takeResume()
}

// finishErr maps a pipeline error to its terminal stage and event.
func (c *Coordinator) finishErr(ctx context.Context, desc *model.Descriptor, task *Task, err error) {
	if errors.Is(err, pkgerrors.ErrCancelled) || ctx.Err() != nil {
		c.sink.OnCancelled(desc.ID)
		task.finish(progress.StageCancelled, "", pkgerrors.Wrap(pkgerrors.ErrCancelled, desc.ID), nil)
		return
	}

	var exhausted *download.ExhaustedError
	var resume download.ResumeToken
	if errors.As(err, &exhausted) {
		resume = exhausted.Token
	}
	c.sink.OnFailed(desc.ID, err)
	task.finish(progress.StageFailed, "", err, resume)
}

// remoteFilename derives the destination filename from the source URL.
func remoteFilename(desc *model.Descriptor) string {
	u, err := url.Parse(desc.SourceURL)
	if err != nil || path.Base(u.Path) == "." || path.Base(u.Path) == "/" {
		return desc.ID
	}
	return path.Base(u.Path)
}

func sizeOf(p string) (int64, error) {
	fi, err := os.Stat(p)
	if err != nil {
		return 0, err
	}
	if fi.IsDir() {
		return fsutil.DirSize(p)
	}
	return fi.Size(), nil
}
