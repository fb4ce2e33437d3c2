package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/modelpull/modelpull/pkg/download"
	"github.com/modelpull/modelpull/pkg/progress"
)

// Task is the handle for one in-flight (or finished) acquisition. It resolves
// asynchronously to a final path or error; progress snapshots arrive on a
// bounded, latest-value-wins stream.
type Task struct {
	id      string
	modelID string
	started time.Time

	stream *progress.Stream
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	stage     progress.Stage
	finalPath string
	err       error
	resume    download.ResumeToken
}

func newTask(id, modelID string, cancel context.CancelFunc) *Task {
	return &Task{
		id:      id,
		modelID: modelID,
		started: time.Now(),
		stream:  progress.NewStream(),
		cancel:  cancel,
		done:    make(chan struct{}),
		stage:   progress.StagePending,
	}
}

// ID returns the unique task id.
func (t *Task) ID() string { return t.id }

// ModelID returns the id of the model being acquired.
func (t *Task) ModelID() string { return t.modelID }

// Progress returns the live progress stream. The channel closes when the
// task reaches a terminal stage.
func (t *Task) Progress() <-chan progress.Progress { return t.stream.Updates() }

// Stage returns the task's current lifecycle stage.
func (t *Task) Stage() progress.Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

// Wait blocks until the task finishes or ctx is cancelled, returning the
// final resolved path. Waiting does not cancel the task.
func (t *Task) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.done:
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalPath, t.err
}

// Err returns the terminal error, or nil while the task is still running.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// ResumeToken returns the opaque resumption token captured on an
// exhausted-retry failure, or nil. Valid only after the task finished.
func (t *Task) ResumeToken() download.ResumeToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resume
}

// takeResume consumes the resume token so only one retry continues from it.
func (t *Task) takeResume() download.ResumeToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	token := t.resume
	t.resume = nil
	return token
}

// setStage advances the lifecycle stage of a running task. Terminal stages
// are set through finish only.
func (t *Task) setStage(s progress.Stage) {
	t.mu.Lock()
	t.stage = s
	t.mu.Unlock()
}

// publish forwards a snapshot to the task's progress stream.
func (t *Task) publish(p progress.Progress) {
	t.stream.Publish(p)
}

// finish records the terminal outcome exactly once and closes the stream.
func (t *Task) finish(stage progress.Stage, finalPath string, err error, resume download.ResumeToken) {
	t.mu.Lock()
	t.stage = stage
	t.finalPath = finalPath
	t.err = err
	t.resume = resume
	t.mu.Unlock()

	t.stream.Publish(progress.Progress{Stage: stage})
	t.stream.Close()
	close(t.done)
}
