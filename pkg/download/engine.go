// Package download implements the transfer engine: a streamed, resumable HTTP
// fetch with retry, bounded-cadence progress reporting and atomic publication
// of the completed file.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/modelpull/modelpull/pkg/auth"
	pkgerrors "github.com/modelpull/modelpull/pkg/errors"
	"github.com/modelpull/modelpull/pkg/fsutil"
	"github.com/modelpull/modelpull/pkg/progress"
)

const (
	defaultRetryLimit   = 3
	defaultBackoffScale = 500 * time.Millisecond
	defaultUserAgent    = "modelpull/1.0"
)

// Taps carries the two independent progress channels of a transfer: Coarse is
// the analytics-facing percent-boundary tap, Fine the UI-facing time-throttled
// tap. Either may be nil.
type Taps struct {
	Coarse progress.Func
	Fine   progress.Func
}

// Result describes a completed transfer.
type Result struct {
	// Path is the final location of the downloaded file.
	Path string
	// Size is the file size in bytes.
	Size int64
}

// ExhaustedError is returned when all retry attempts failed on transient
// conditions. When the server advertised range support and bytes were
// written, Token allows a later Transfer call to continue from the offset.
type ExhaustedError struct {
	Token ResumeToken
	last  error
}

// NewExhaustedError builds an ExhaustedError from the failing attempt's error.
func NewExhaustedError(token ResumeToken, last error) *ExhaustedError {
	return &ExhaustedError{Token: token, last: last}
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v: %v", pkgerrors.ErrTransferExhausted, e.last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{pkgerrors.ErrTransferExhausted, e.last}
}

// Config controls engine behavior.
type Config struct {
	// Timeout bounds each individual attempt. Zero means no per-attempt bound.
	Timeout time.Duration
	// UserAgent is sent on every request.
	UserAgent string
	// RetryLimit is the maximum number of attempts (default 3).
	RetryLimit int
	// BackoffScale is the base delay unit; attempt n waits scale * 2^(n-1).
	BackoffScale time.Duration
	// Auth, when set, is applied to every request.
	Auth auth.Authenticator
}

// Engine performs single (URL, destination) transfers. It is stateless across
// calls and safe for concurrent use.
type Engine struct {
	client       *http.Client
	userAgent    string
	retryLimit   int
	backoffScale time.Duration
	auth         auth.Authenticator

	// sleep is replaced in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a transfer engine from config, applying defaults for
// unset fields.
func NewEngine(cfg Config) *Engine {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = defaultRetryLimit
	}
	if cfg.BackoffScale <= 0 {
		cfg.BackoffScale = defaultBackoffScale
	}
	return &Engine{
		client:       &http.Client{Timeout: cfg.Timeout},
		userAgent:    cfg.UserAgent,
		retryLimit:   cfg.RetryLimit,
		backoffScale: cfg.BackoffScale,
		auth:         cfg.Auth,
		sleep:        sleepCtx,
	}
}

// Transfer streams url into destPath. The file appears at destPath only on
// full success; partial data lives in a temp file next to it. A non-nil
// resume token continues a previously failed transfer from its offset.
//
// Transient failures (connection errors, timeouts, 5xx, 408) are retried up
// to the configured limit with exponential backoff. The returned error is an
// *ExhaustedError after exhausted retries, wraps ErrTransferPermanent for
// non-retryable responses, and wraps ErrCancelled when the context is
// cancelled. Cancellation removes the partial file; exhaustion keeps it so
// the resume token stays valid.
func (e *Engine) Transfer(ctx context.Context, url, destPath string, token ResumeToken, taps Taps) (*Result, error) {
	if err := fsutil.EnsureFileDir(destPath); err != nil {
		return nil, pkgerrors.Wrap(err, "could not create destination directory")
	}

	st := e.openSession(destPath, token)
	defer func() { _ = st.file.Close() }()

	var lastErr error
	for attempt := 1; attempt <= e.retryLimit; attempt++ {
		if attempt > 1 {
			delay := e.backoffScale * (1 << (attempt - 2))
			if err := e.sleep(ctx, delay); err != nil {
				st.discard()
				return nil, pkgerrors.Wrap(pkgerrors.ErrCancelled, "cancelled during backoff")
			}
		}

		res, err := e.attempt(ctx, url, destPath, st, taps)
		if err == nil {
			return res, nil
		}

		switch classifyErr(ctx, err) {
		case classCancelled:
			st.discard()
			return nil, pkgerrors.Wrap(pkgerrors.ErrCancelled, err.Error())
		case classPermanent:
			st.discard()
			return nil, err
		case classTransient:
			lastErr = err
		}
	}

	exhausted := &ExhaustedError{last: lastErr}
	if st.offset > 0 && st.rangeSupported {
		// Keep the partial file on disk; the token references it.
		exhausted.Token = encodeToken(resumeState{Offset: st.offset, TempPath: st.tempPath, ETag: st.etag})
		return nil, exhausted
	}
	st.discard()
	return nil, exhausted
}

// session tracks the partial file across attempts of one Transfer call.
type session struct {
	tempPath       string
	file           *os.File
	offset         int64
	total          int64
	etag           string
	rangeSupported bool
}

func (e *Engine) openSession(destPath string, token ResumeToken) *session {
	if token != nil {
		if st, err := decodeToken(token); err == nil {
			if f, err := os.OpenFile(st.TempPath, os.O_WRONLY|os.O_APPEND, fsutil.FileModeDefault); err == nil {
				return &session{tempPath: st.TempPath, file: f, offset: st.Offset, etag: st.ETag, rangeSupported: true}
			}
		}
		// Unusable token: fall through to a fresh session.
	}
	tempPath := filepath.Join(filepath.Dir(destPath), fmt.Sprintf(".%s.partial-%s", filepath.Base(destPath), ksuid.New().String()))
	f, _ := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fsutil.FileModeDefault)
	return &session{tempPath: tempPath, file: f}
}

// discard drops the partial file. Used on permanent failure and cancellation.
func (s *session) discard() {
	_ = s.file.Close()
	_ = os.Remove(s.tempPath)
}

// restart truncates the partial file after a server refused to resume.
func (s *session) restart() error {
	if err := s.file.Truncate(0); err != nil {
		return err
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	s.offset = 0
	return nil
}

func (e *Engine) attempt(ctx context.Context, url, destPath string, st *session, taps Taps) (*Result, error) {
	if st.file == nil {
		return nil, pkgerrors.Wrap(pkgerrors.ErrTransferPermanent, "could not create partial file")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.ErrTransferPermanent, err.Error())
	}
	req.Header.Set("User-Agent", e.userAgent)
	if e.auth != nil {
		if err := e.auth.Apply(req); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.ErrTransferPermanent, err.Error())
		}
	}
	if st.offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", st.offset))
		if st.etag != "" {
			req.Header.Set("If-Range", st.etag)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored (or never saw) the Range header: start over.
		if st.offset > 0 {
			if err := st.restart(); err != nil {
				return nil, pkgerrors.Wrap(err, "could not restart partial file")
			}
		}
		st.total = resp.ContentLength
	case http.StatusPartialContent:
		st.total = st.offset + resp.ContentLength
		if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
			st.total = total
		}
	default:
		if classifyStatus(resp.StatusCode) == classTransient {
			return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
		}
		return nil, pkgerrors.Wrapf(pkgerrors.ErrTransferPermanent, "unexpected status code %d", resp.StatusCode)
	}

	if resp.Header.Get("Accept-Ranges") == "bytes" || resp.StatusCode == http.StatusPartialContent {
		st.rangeSupported = true
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		st.etag = etag
	}

	coarse := progress.NewBoundaryTap(10, taps.Coarse)
	fine := progress.NewTimeTap(100*time.Millisecond, taps.Fine)
	counter := &countingWriter{w: st.file, session: st, coarse: coarse, fine: fine}

	if _, err := io.Copy(counter, resp.Body); err != nil {
		return nil, pkgerrors.Wrap(err, "streaming body")
	}
	if err := st.file.Sync(); err != nil {
		return nil, pkgerrors.Wrap(err, "could not sync partial file")
	}
	if err := st.file.Close(); err != nil {
		return nil, pkgerrors.Wrap(err, "could not close partial file")
	}

	if err := fsutil.Move(st.tempPath, destPath); err != nil {
		return nil, pkgerrors.Wrap(err, "could not finalize file")
	}

	final := progress.Progress{Stage: progress.StageTransferring, BytesTransferred: st.offset, TotalBytes: st.offset}
	coarse.Offer(final)
	fine.Offer(final)

	return &Result{Path: destPath, Size: st.offset}, nil
}

// countingWriter forwards writes to the partial file while feeding both
// progress taps.
type countingWriter struct {
	w       io.Writer
	session *session
	coarse  *progress.BoundaryTap
	fine    *progress.TimeTap
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.session.offset += int64(n)
	snap := progress.Progress{
		Stage:            progress.StageTransferring,
		BytesTransferred: c.session.offset,
		TotalBytes:       c.session.total,
	}
	c.coarse.Offer(snap)
	c.fine.Offer(snap)
	return n, err
}

// parseContentRangeTotal extracts the total length from a Content-Range
// header of the form "bytes start-end/total".
func parseContentRangeTotal(header string) (int64, bool) {
	idx := strings.LastIndexByte(header, '/')
	if idx < 0 {
		return 0, false
	}
	total, err := strconv.ParseInt(header[idx+1:], 10, 64)
	if err != nil || total <= 0 {
		return 0, false
	}
	return total, true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
