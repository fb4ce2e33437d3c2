package coordinator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/modelpull/modelpull/pkg/archive"
	mocks "github.com/modelpull/modelpull/pkg/coordinator/mocks"
	"github.com/modelpull/modelpull/pkg/download"
	pkgerrors "github.com/modelpull/modelpull/pkg/errors"
	"github.com/modelpull/modelpull/pkg/model"
	"github.com/modelpull/modelpull/pkg/progress"
	"github.com/modelpull/modelpull/pkg/strategy"
)

// sinkCounts tallies lifecycle notifications.
type sinkCounts struct {
	started             int
	progress            int
	completed           int
	failed              int
	extractionStarted   int
	extractionProgress  int
	extractionCompleted int
	extractionFailed    int
	cancelled           int
	lastFailure         error
	lastCompletedSize   int64
	lastExtractionCount int
}

// recordingSink counts lifecycle notifications for assertions.
type recordingSink struct {
	mu sync.Mutex
	sinkCounts
}

func (s *recordingSink) OnStarted(string) { s.mu.Lock(); s.started++; s.mu.Unlock() }
func (s *recordingSink) OnProgress(string, float64, int64, int64) {
	s.mu.Lock()
	s.progress++
	s.mu.Unlock()
}
func (s *recordingSink) OnCompleted(_ string, _ time.Duration, size int64) {
	s.mu.Lock()
	s.completed++
	s.lastCompletedSize = size
	s.mu.Unlock()
}
func (s *recordingSink) OnFailed(_ string, reason error) {
	s.mu.Lock()
	s.failed++
	s.lastFailure = reason
	s.mu.Unlock()
}
func (s *recordingSink) OnExtractionStarted(string) {
	s.mu.Lock()
	s.extractionStarted++
	s.mu.Unlock()
}
func (s *recordingSink) OnExtractionProgress(string, float64) {
	s.mu.Lock()
	s.extractionProgress++
	s.mu.Unlock()
}
func (s *recordingSink) OnExtractionCompleted(_ string, fileCount int) {
	s.mu.Lock()
	s.extractionCompleted++
	s.lastExtractionCount = fileCount
	s.mu.Unlock()
}
func (s *recordingSink) OnExtractionFailed(string, error) {
	s.mu.Lock()
	s.extractionFailed++
	s.mu.Unlock()
}
func (s *recordingSink) OnCancelled(string) { s.mu.Lock(); s.cancelled++; s.mu.Unlock() }

func (s *recordingSink) snapshot() sinkCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinkCounts
}

type fixture struct {
	coord    *Coordinator
	transfer *mocks.MockTransferer
	extract  *mocks.MockExtractor
	store    *mocks.MockMetadataStore
	sink     *recordingSink
	rootDir  string
	scratch  string
}

func newFixture(t *testing.T, registry *strategy.Registry) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	f := &fixture{
		transfer: mocks.NewMockTransferer(ctrl),
		extract:  mocks.NewMockExtractor(ctrl),
		store:    mocks.NewMockMetadataStore(ctrl),
		sink:     &recordingSink{},
		rootDir:  t.TempDir(),
		scratch:  t.TempDir(),
	}
	f.coord = New(f.transfer, f.extract, f.store, Options{
		RootDir:    f.rootDir,
		ScratchDir: f.scratch,
		Registry:   registry,
		Events:     f.sink,
	})
	return f
}

func waitDone(t *testing.T, task *Task) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return task.Wait(ctx)
}

func TestAcquire_SingleFile(t *testing.T) {
	f := newFixture(t, nil)

	desc := &model.Descriptor{
		ID:        "m1",
		SourceURL: "https://example.com/models/m1.bin",
		Format:    model.FormatSingleFile,
	}
	wantDest := filepath.Join(f.rootDir, "m1", "m1.bin")

	f.transfer.EXPECT().
		Transfer(gomock.Any(), desc.SourceURL, wantDest, nil, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, destPath string, _ download.ResumeToken, taps download.Taps) (*download.Result, error) {
			taps.Coarse(progress.Progress{Stage: progress.StageTransferring, BytesTransferred: 7, TotalBytes: 7})
			require.NoError(t, os.MkdirAll(filepath.Dir(destPath), 0o755))
			require.NoError(t, os.WriteFile(destPath, []byte("weights"), 0o644))
			return &download.Result{Path: destPath, Size: 7}, nil
		})
	f.store.EXPECT().Upsert(gomock.Any(), "m1", wantDest, int64(7)).Return(nil)

	task, err := f.coord.Acquire(context.Background(), desc)
	require.NoError(t, err)
	require.NotEmpty(t, task.ID())
	assert.Equal(t, "m1", task.ModelID())

	got, err := waitDone(t, task)
	require.NoError(t, err)
	assert.Equal(t, wantDest, got)
	assert.Equal(t, progress.StageCompleted, task.Stage())

	s := f.sink.snapshot()
	assert.Equal(t, 1, s.started)
	assert.Equal(t, 1, s.completed)
	assert.Equal(t, int64(7), s.lastCompletedSize)
	assert.Zero(t, s.failed)
	assert.Zero(t, s.cancelled)
	assert.Zero(t, s.extractionStarted)
	assert.GreaterOrEqual(t, s.progress, 1)
}

func TestAcquire_ArchiveFlow(t *testing.T) {
	f := newFixture(t, nil)

	desc := &model.Descriptor{
		ID:          "m1",
		SourceURL:   "https://example.com/models/m1.tar.bz2",
		Format:      model.FormatArchive,
		ArchiveKind: model.ArchiveTarBz2,
	}
	modelDir := filepath.Join(f.rootDir, "m1")
	resolved := filepath.Join(modelDir, "model.bin")

	var archivePath string
	f.transfer.EXPECT().
		Transfer(gomock.Any(), desc.SourceURL, gomock.Any(), nil, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, destPath string, _ download.ResumeToken, _ download.Taps) (*download.Result, error) {
			// Archives land in scratch, never in the model tree.
			require.Equal(t, f.scratch, filepath.Dir(destPath))
			require.NoError(t, os.WriteFile(destPath, []byte("compressed"), 0o644))
			archivePath = destPath
			return &download.Result{Path: destPath, Size: 10}, nil
		})
	f.extract.EXPECT().
		Extract(gomock.Any(), gomock.Any(), modelDir, model.ArchiveTarBz2, gomock.Any()).
		DoAndReturn(func(_ context.Context, src, destDir string, _ model.ArchiveKind, onProgress progress.Func) (*archive.Result, error) {
			require.Equal(t, archivePath, src)
			require.NoError(t, os.MkdirAll(destDir, 0o755))
			require.NoError(t, os.WriteFile(resolved, []byte("uncompressed"), 0o644))
			onProgress(progress.Progress{Stage: progress.StageExtracting, BytesTransferred: 12, TotalBytes: 12})
			return &archive.Result{ResolvedPath: resolved, ExtractedSize: 12, FileCount: 1}, nil
		})
	f.store.EXPECT().Upsert(gomock.Any(), "m1", resolved, int64(12)).Return(nil)

	task, err := f.coord.Acquire(context.Background(), desc)
	require.NoError(t, err)

	got, err := waitDone(t, task)
	require.NoError(t, err)
	assert.Equal(t, resolved, got)

	// The scratch archive is deleted once its contents are in place.
	_, statErr := os.Stat(archivePath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))

	s := f.sink.snapshot()
	assert.Equal(t, 1, s.extractionStarted)
	assert.Equal(t, 1, s.extractionCompleted)
	assert.Equal(t, 1, s.lastExtractionCount)
	assert.Equal(t, 1, s.completed)
	assert.Equal(t, int64(12), s.lastCompletedSize)
	assert.Zero(t, s.extractionFailed)
}

func TestAcquire_ExtractionFailureCleansDestination(t *testing.T) {
	f := newFixture(t, nil)

	desc := &model.Descriptor{
		ID:          "m1",
		SourceURL:   "https://example.com/m1.zip",
		Format:      model.FormatArchive,
		ArchiveKind: model.ArchiveZip,
	}
	modelDir := filepath.Join(f.rootDir, "m1")

	f.transfer.EXPECT().
		Transfer(gomock.Any(), desc.SourceURL, gomock.Any(), nil, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, destPath string, _ download.ResumeToken, _ download.Taps) (*download.Result, error) {
			require.NoError(t, os.WriteFile(destPath, []byte("corrupt"), 0o644))
			return &download.Result{Path: destPath, Size: 7}, nil
		})
	f.extract.EXPECT().
		Extract(gomock.Any(), gomock.Any(), modelDir, model.ArchiveZip, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, destDir string, _ model.ArchiveKind, _ progress.Func) (*archive.Result, error) {
			// Leave a half-written file behind; the coordinator must sweep it.
			require.NoError(t, os.MkdirAll(destDir, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(destDir, "partial"), []byte("x"), 0o644))
			return nil, pkgerrors.Wrap(pkgerrors.ErrExtractionFailed, "truncated entry")
		})

	task, err := f.coord.Acquire(context.Background(), desc)
	require.NoError(t, err)

	_, err = waitDone(t, task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pkgerrors.ErrExtractionFailed))
	assert.Equal(t, progress.StageFailed, task.Stage())

	_, statErr := os.Stat(modelDir)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))

	s := f.sink.snapshot()
	assert.Equal(t, 1, s.extractionFailed)
	assert.Equal(t, 1, s.failed)
	assert.Zero(t, s.completed)
}

type stubStrategy struct {
	id      string
	handles bool
	payload []byte
}

func (s *stubStrategy) ID() string                       { return s.id }
func (s *stubStrategy) CanHandle(*model.Descriptor) bool { return s.handles }
func (s *stubStrategy) Fetch(_ context.Context, desc *model.Descriptor, destDir string, onProgress progress.Func) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(destDir, desc.ID+".bin")
	if err := os.WriteFile(p, s.payload, 0o644); err != nil {
		return "", err
	}
	if onProgress != nil {
		total := int64(len(s.payload))
		onProgress(progress.Progress{Stage: progress.StageTransferring, BytesTransferred: total, TotalBytes: total})
	}
	return p, nil
}

func TestAcquire_StrategyOwnsAcquisition(t *testing.T) {
	registry := strategy.NewRegistry()
	registry.Register(&stubStrategy{id: "custom", handles: true, payload: []byte("via strategy")})
	f := newFixture(t, registry)

	// Even an archive descriptor bypasses transfer and extraction entirely
	// when a strategy claims it.
	desc := &model.Descriptor{
		ID:          "m1",
		SourceURL:   "custom://models/m1",
		Format:      model.FormatArchive,
		ArchiveKind: model.ArchiveZip,
	}
	wantPath := filepath.Join(f.rootDir, "m1", "m1.bin")
	f.store.EXPECT().Upsert(gomock.Any(), "m1", wantPath, int64(len("via strategy"))).Return(nil)

	task, err := f.coord.Acquire(context.Background(), desc)
	require.NoError(t, err)

	got, err := waitDone(t, task)
	require.NoError(t, err)
	assert.Equal(t, wantPath, got)

	s := f.sink.snapshot()
	assert.Equal(t, 1, s.completed)
	assert.Zero(t, s.extractionStarted)
	assert.GreaterOrEqual(t, s.progress, 1)
}

func TestAcquire_MetadataFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, nil)

	desc := &model.Descriptor{
		ID:        "m1",
		SourceURL: "https://example.com/m1.bin",
		Format:    model.FormatSingleFile,
	}
	f.transfer.EXPECT().
		Transfer(gomock.Any(), desc.SourceURL, gomock.Any(), nil, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, destPath string, _ download.ResumeToken, _ download.Taps) (*download.Result, error) {
			require.NoError(t, os.MkdirAll(filepath.Dir(destPath), 0o755))
			require.NoError(t, os.WriteFile(destPath, []byte("weights"), 0o644))
			return &download.Result{Path: destPath, Size: 7}, nil
		})
	f.store.EXPECT().Upsert(gomock.Any(), "m1", gomock.Any(), int64(7)).Return(errors.New("disk full"))

	task, err := f.coord.Acquire(context.Background(), desc)
	require.NoError(t, err)

	got, err := waitDone(t, task)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	assert.Equal(t, progress.StageCompleted, task.Stage())
	assert.Equal(t, 1, f.sink.snapshot().completed)
}

func TestAcquire_ExhaustedTransferExposesResumeToken(t *testing.T) {
	f := newFixture(t, nil)

	desc := &model.Descriptor{
		ID:        "m1",
		SourceURL: "https://example.com/m1.bin",
		Format:    model.FormatSingleFile,
	}
	token := download.ResumeToken(`{"offset":42}`)
	f.transfer.EXPECT().
		Transfer(gomock.Any(), desc.SourceURL, gomock.Any(), nil, gomock.Any()).
		Return(nil, download.NewExhaustedError(token, errors.New("connection reset")))

	task, err := f.coord.Acquire(context.Background(), desc)
	require.NoError(t, err)

	_, err = waitDone(t, task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pkgerrors.ErrTransferExhausted))
	assert.Equal(t, progress.StageFailed, task.Stage())
	assert.Equal(t, token, task.ResumeToken())

	s := f.sink.snapshot()
	assert.Equal(t, 1, s.failed)
	assert.Zero(t, s.cancelled)
}

func TestAcquire_ReusesResumeTokenOnRetry(t *testing.T) {
	f := newFixture(t, nil)

	desc := &model.Descriptor{
		ID:        "m1",
		SourceURL: "https://example.com/m1.bin",
		Format:    model.FormatSingleFile,
	}
	token := download.ResumeToken(`{"offset":1024}`)

	first := f.transfer.EXPECT().
		Transfer(gomock.Any(), desc.SourceURL, gomock.Any(), nil, gomock.Any()).
		Return(nil, download.NewExhaustedError(token, errors.New("connection reset")))
	f.transfer.EXPECT().
		Transfer(gomock.Any(), desc.SourceURL, gomock.Any(), token, gomock.Any()).
		After(first).
		DoAndReturn(func(_ context.Context, _, destPath string, _ download.ResumeToken, _ download.Taps) (*download.Result, error) {
			require.NoError(t, os.MkdirAll(filepath.Dir(destPath), 0o755))
			require.NoError(t, os.WriteFile(destPath, []byte("weights"), 0o644))
			return &download.Result{Path: destPath, Size: 7}, nil
		})
	f.store.EXPECT().Upsert(gomock.Any(), "m1", gomock.Any(), int64(7)).Return(nil)

	task, err := f.coord.Acquire(context.Background(), desc)
	require.NoError(t, err)
	_, err = waitDone(t, task)
	require.Error(t, err)

	retry, err := f.coord.Acquire(context.Background(), desc)
	require.NoError(t, err)
	_, err = waitDone(t, retry)
	require.NoError(t, err)

	// The token is consumed: a later acquisition starts fresh, and the failed
	// task no longer advertises it.
	assert.Nil(t, task.ResumeToken())
}

func TestCancel_InFlightTask(t *testing.T) {
	f := newFixture(t, nil)

	desc := &model.Descriptor{
		ID:        "m1",
		SourceURL: "https://example.com/m1.bin",
		Format:    model.FormatSingleFile,
	}
	transferRunning := make(chan struct{})
	f.transfer.EXPECT().
		Transfer(gomock.Any(), desc.SourceURL, gomock.Any(), nil, gomock.Any()).
		DoAndReturn(func(ctx context.Context, _, _ string, _ download.ResumeToken, _ download.Taps) (*download.Result, error) {
			close(transferRunning)
			<-ctx.Done()
			return nil, pkgerrors.Wrap(pkgerrors.ErrCancelled, "m1")
		})

	task, err := f.coord.Acquire(context.Background(), desc)
	require.NoError(t, err)

	<-transferRunning
	require.NoError(t, f.coord.Cancel(task.ID()))

	_, err = waitDone(t, task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pkgerrors.ErrCancelled))
	assert.Equal(t, progress.StageCancelled, task.Stage())

	// Cancellation is terminal on its own: never doubled with a failure.
	s := f.sink.snapshot()
	assert.Equal(t, 1, s.cancelled)
	assert.Zero(t, s.failed)
	assert.Zero(t, s.completed)

	// Cancelling a finished task stays a harmless no-op.
	require.NoError(t, f.coord.Cancel(task.ID()))
}

func TestCancel_UnknownTask(t *testing.T) {
	f := newFixture(t, nil)
	err := f.coord.Cancel("no-such-task")
	require.Error(t, err)
	assert.True(t, errors.Is(err, pkgerrors.ErrTaskNotFound))
}

func TestAcquire_InvalidDescriptor(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.coord.Acquire(context.Background(), &model.Descriptor{ID: "m1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pkgerrors.ErrInvalidDescriptor))
	assert.Empty(t, f.coord.Tasks())
}

func TestTaskLookup(t *testing.T) {
	f := newFixture(t, nil)

	desc := &model.Descriptor{
		ID:        "m1",
		SourceURL: "https://example.com/m1.bin",
		Format:    model.FormatSingleFile,
	}
	f.transfer.EXPECT().
		Transfer(gomock.Any(), desc.SourceURL, gomock.Any(), nil, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, destPath string, _ download.ResumeToken, _ download.Taps) (*download.Result, error) {
			require.NoError(t, os.MkdirAll(filepath.Dir(destPath), 0o755))
			require.NoError(t, os.WriteFile(destPath, []byte("w"), 0o644))
			return &download.Result{Path: destPath, Size: 1}, nil
		})
	f.store.EXPECT().Upsert(gomock.Any(), "m1", gomock.Any(), int64(1)).Return(nil)

	task, err := f.coord.Acquire(context.Background(), desc)
	require.NoError(t, err)

	found, err := f.coord.Task(task.ID())
	require.NoError(t, err)
	assert.Same(t, task, found)

	_, err = f.coord.Task("missing")
	assert.True(t, errors.Is(err, pkgerrors.ErrTaskNotFound))

	require.Len(t, f.coord.Tasks(), 1)

	_, err = waitDone(t, task)
	require.NoError(t, err)
}

func TestTask_ProgressStreamClosesOnFinish(t *testing.T) {
	f := newFixture(t, nil)

	desc := &model.Descriptor{
		ID:        "m1",
		SourceURL: "https://example.com/m1.bin",
		Format:    model.FormatSingleFile,
	}
	f.transfer.EXPECT().
		Transfer(gomock.Any(), desc.SourceURL, gomock.Any(), nil, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, destPath string, _ download.ResumeToken, taps download.Taps) (*download.Result, error) {
			taps.Fine(progress.Progress{Stage: progress.StageTransferring, BytesTransferred: 1, TotalBytes: 2})
			taps.Fine(progress.Progress{Stage: progress.StageTransferring, BytesTransferred: 2, TotalBytes: 2})
			require.NoError(t, os.MkdirAll(filepath.Dir(destPath), 0o755))
			require.NoError(t, os.WriteFile(destPath, []byte("ww"), 0o644))
			return &download.Result{Path: destPath, Size: 2}, nil
		})
	f.store.EXPECT().Upsert(gomock.Any(), "m1", gomock.Any(), int64(2)).Return(nil)

	task, err := f.coord.Acquire(context.Background(), desc)
	require.NoError(t, err)

	// Draining until the channel closes proves the stream never wedges a
	// slow consumer: intermediate values may be dropped, the close must not.
	var last progress.Progress
	for p := range task.Progress() {
		last = p
	}
	assert.True(t, last.Stage.Terminal())

	_, err = waitDone(t, task)
	require.NoError(t, err)
}
