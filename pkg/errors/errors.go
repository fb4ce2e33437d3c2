// Package errors defines the shared error taxonomy of the acquisition pipeline.
package errors

import "fmt"

// Common error types.
var (
	// Descriptor errors.
	ErrInvalidDescriptor   = fmt.Errorf("invalid model descriptor")
	ErrEmptySourceURL      = fmt.Errorf("source URL cannot be empty")
	ErrArchiveKindMismatch = fmt.Errorf("archive kind must be set if and only if format is archive")

	// Transfer errors.
	ErrTransferExhausted  = fmt.Errorf("transfer failed after exhausting retries")
	ErrTransferPermanent  = fmt.Errorf("transfer failed permanently")
	ErrInvalidResumeToken = fmt.Errorf("invalid resume token")

	// Extraction errors.
	ErrUnsupportedArchive = fmt.Errorf("unsupported archive format")
	ErrExtractionFailed   = fmt.Errorf("archive extraction failed")

	// Coordinator errors.
	ErrCancelled    = fmt.Errorf("acquisition cancelled")
	ErrTaskNotFound = fmt.Errorf("task not found")

	// Store errors.
	ErrModelNotFound = fmt.Errorf("model not found")

	// Path errors.
	ErrInvalidPath = fmt.Errorf("invalid path")
)

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
