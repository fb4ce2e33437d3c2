// Package events defines the fire-and-forget lifecycle notifications emitted
// by the acquisition pipeline for telemetry-style consumers.
package events

import (
	"time"

	"github.com/modelpull/modelpull/internal/logger"
)

// Sink receives lifecycle notifications for model acquisitions. Implementations
// must be non-blocking and must tolerate calls from multiple goroutines; the
// pipeline never waits on a sink and ignores anything it might fail to do.
type Sink interface {
	OnStarted(modelID string)
	OnProgress(modelID string, fraction float64, bytesDownloaded, totalBytes int64)
	OnCompleted(modelID string, duration time.Duration, sizeBytes int64)
	OnFailed(modelID string, reason error)
	OnExtractionStarted(modelID string)
	OnExtractionProgress(modelID string, fraction float64)
	OnExtractionCompleted(modelID string, fileCount int)
	OnExtractionFailed(modelID string, reason error)
	OnCancelled(modelID string)
}

// NopSink discards all notifications.
type NopSink struct{}

func (NopSink) OnStarted(string)                            {}
func (NopSink) OnProgress(string, float64, int64, int64)    {}
func (NopSink) OnCompleted(string, time.Duration, int64)    {}
func (NopSink) OnFailed(string, error)                      {}
func (NopSink) OnExtractionStarted(string)                  {}
func (NopSink) OnExtractionProgress(string, float64)        {}
func (NopSink) OnExtractionCompleted(string, int)           {}
func (NopSink) OnExtractionFailed(string, error)            {}
func (NopSink) OnCancelled(string)                          {}

// LogSink writes lifecycle events to the application logger.
type LogSink struct{}

func (LogSink) OnStarted(modelID string) {
	logger.Info("download started", logger.Fields{"model": modelID})
}

func (LogSink) OnProgress(modelID string, fraction float64, bytesDownloaded, totalBytes int64) {
	logger.Debug("download progress", logger.Fields{
		"model":    modelID,
		"fraction": fraction,
		"bytes":    bytesDownloaded,
		"total":    totalBytes,
	})
}

func (LogSink) OnCompleted(modelID string, duration time.Duration, sizeBytes int64) {
	logger.Info("download completed", logger.Fields{
		"model":    modelID,
		"duration": duration.String(),
		"bytes":    sizeBytes,
	})
}

func (LogSink) OnFailed(modelID string, reason error) {
	logger.Error("download failed", logger.Fields{"model": modelID, "reason": reason})
}

func (LogSink) OnExtractionStarted(modelID string) {
	logger.Info("extraction started", logger.Fields{"model": modelID})
}

func (LogSink) OnExtractionProgress(modelID string, fraction float64) {
	logger.Debug("extraction progress", logger.Fields{"model": modelID, "fraction": fraction})
}

func (LogSink) OnExtractionCompleted(modelID string, fileCount int) {
	logger.Info("extraction completed", logger.Fields{"model": modelID, "files": fileCount})
}

func (LogSink) OnExtractionFailed(modelID string, reason error) {
	logger.Error("extraction failed", logger.Fields{"model": modelID, "reason": reason})
}

// OnCancelled is logged at info level; cancellation is not an error.
func (LogSink) OnCancelled(modelID string) {
	logger.Info("download cancelled", logger.Fields{"model": modelID})
}

// Multi fans notifications out to several sinks in order.
type Multi []Sink

func (m Multi) OnStarted(id string) {
	for _, s := range m {
		s.OnStarted(id)
	}
}

func (m Multi) OnProgress(id string, f float64, b, t int64) {
	for _, s := range m {
		s.OnProgress(id, f, b, t)
	}
}

func (m Multi) OnCompleted(id string, d time.Duration, size int64) {
	for _, s := range m {
		s.OnCompleted(id, d, size)
	}
}

func (m Multi) OnFailed(id string, reason error) {
	for _, s := range m {
		s.OnFailed(id, reason)
	}
}

func (m Multi) OnExtractionStarted(id string) {
	for _, s := range m {
		s.OnExtractionStarted(id)
	}
}

func (m Multi) OnExtractionProgress(id string, f float64) {
	for _, s := range m {
		s.OnExtractionProgress(id, f)
	}
}

func (m Multi) OnExtractionCompleted(id string, files int) {
	for _, s := range m {
		s.OnExtractionCompleted(id, files)
	}
}

func (m Multi) OnExtractionFailed(id string, reason error) {
	for _, s := range m {
		s.OnExtractionFailed(id, reason)
	}
}

func (m Multi) OnCancelled(id string) {
	for _, s := range m {
		s.OnCancelled(id)
	}
}
