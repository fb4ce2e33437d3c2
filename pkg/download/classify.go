package download

import (
	"context"
	"errors"
	"net/http"

	pkgerrors "github.com/modelpull/modelpull/pkg/errors"
)

// errorClass partitions transfer failures for the retry loop.
type errorClass int

const (
	classTransient errorClass = iota
	classPermanent
	classCancelled
)

// classifyStatus buckets an HTTP status code. 5xx and 408 are transient; the
// remaining 4xx are permanent.
func classifyStatus(status int) errorClass {
	switch {
	case status >= 500:
		return classTransient
	case status == http.StatusRequestTimeout:
		return classTransient
	default:
		return classPermanent
	}
}

// classifyErr buckets a transport-level error. Connection failures and
// per-attempt client timeouts are transient; an observed cancellation of the
// caller's context ends the retry loop immediately. The ctx check comes
// first because a client-timeout error also matches context.DeadlineExceeded.
func classifyErr(ctx context.Context, err error) errorClass {
	if ctx.Err() != nil {
		return classCancelled
	}
	if errors.Is(err, context.Canceled) {
		return classCancelled
	}
	if errors.Is(err, pkgerrors.ErrTransferPermanent) {
		return classPermanent
	}
	return classTransient
}
