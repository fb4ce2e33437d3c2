// Package progress defines the progress snapshots emitted by the acquisition
// pipeline and the throttling primitives that bound their cadence.
package progress

import "time"

// Stage identifies where in its lifecycle an acquisition currently is.
type Stage string

const (
	// StagePending means the task has been accepted but no bytes have moved.
	StagePending Stage = "pending"
	// StageTransferring means the network transfer is running.
	StageTransferring Stage = "downloading"
	// StageExtracting means the downloaded archive is being unpacked.
	StageExtracting Stage = "extracting"
	// StageFinalizing means transfer/extraction finished and metadata is being recorded.
	StageFinalizing Stage = "finalizing"
	// StageCompleted is the successful terminal stage.
	StageCompleted Stage = "completed"
	// StageFailed is the unsuccessful terminal stage.
	StageFailed Stage = "failed"
	// StageCancelled is the terminal stage of an externally cancelled task.
	StageCancelled Stage = "cancelled"
)

// Terminal reports whether the stage ends the task lifecycle.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// Progress is an immutable point-in-time snapshot of an acquisition.
type Progress struct {
	Stage            Stage
	BytesTransferred int64
	TotalBytes       int64
}

// Fraction returns completion in [0,1] and whether it is determinate.
// A zero or unknown total makes the fraction indeterminate.
func (p Progress) Fraction() (float64, bool) {
	if p.TotalBytes <= 0 {
		return 0, false
	}
	f := float64(p.BytesTransferred) / float64(p.TotalBytes)
	if f > 1 {
		f = 1
	}
	return f, true
}

// Func receives progress snapshots. Implementations must not block.
type Func func(Progress)

// BoundaryTap invokes its callback when completion crosses fixed percentage
// boundaries (every stepPercent). This is the coarse, analytics-facing cadence:
// a 10% step yields at most ten callbacks per transfer. Indeterminate snapshots
// are dropped. Not safe for concurrent use; each producer owns its own tap.
type BoundaryTap struct {
	step     int
	lastStep int
	fn       Func
}

// NewBoundaryTap creates a tap firing on every stepPercent boundary. Steps
// outside (0,100] fall back to 10.
func NewBoundaryTap(stepPercent int, fn Func) *BoundaryTap {
	if stepPercent <= 0 || stepPercent > 100 {
		stepPercent = 10
	}
	return &BoundaryTap{step: stepPercent, lastStep: -1, fn: fn}
}

// Offer considers a snapshot and fires the callback if it crosses a boundary.
func (t *BoundaryTap) Offer(p Progress) {
	if t.fn == nil {
		return
	}
	f, ok := p.Fraction()
	if !ok {
		return
	}
	bucket := int(f*100) / t.step
	if bucket > t.lastStep {
		t.lastStep = bucket
		t.fn(p)
	}
}

// Reset clears boundary history, e.g. when a transfer restarts from scratch.
func (t *BoundaryTap) Reset() {
	t.lastStep = -1
}

// TimeTap invokes its callback at most once per interval. This is the fine,
// UI-facing cadence. Terminal snapshots and snapshots that complete the byte
// count always fire. Not safe for concurrent use.
type TimeTap struct {
	interval time.Duration
	last     time.Time
	now      func() time.Time
	fn       Func
}

// NewTimeTap creates a tap emitting at most once per interval.
func NewTimeTap(interval time.Duration, fn Func) *TimeTap {
	return &TimeTap{interval: interval, now: time.Now, fn: fn}
}

// Offer considers a snapshot and fires the callback if enough time has passed
// since the previous emission, or the snapshot is terminal.
func (t *TimeTap) Offer(p Progress) {
	if t.fn == nil {
		return
	}
	final := p.Stage.Terminal() || (p.TotalBytes > 0 && p.BytesTransferred >= p.TotalBytes)
	now := t.now()
	if !final && now.Sub(t.last) < t.interval {
		return
	}
	t.last = now
	t.fn(p)
}
