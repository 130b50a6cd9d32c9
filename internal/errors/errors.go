// Package errors provides the structured error taxonomy for the ingest
// pipeline. Every failure a task can hit is classified into one Kind so the
// retry logic can branch on it instead of matching strings.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an ingest failure.
type Kind string

const (
	// KindNotReady indicates the source file is not yet stable or accessible
	KindNotReady Kind = "not_ready"
	// KindDecode indicates the media could not be opened or sampled
	KindDecode Kind = "decode"
	// KindEncode indicates an artifact could not be produced
	KindEncode Kind = "encode"
	// KindFilesystem indicates a directory, delete or space operation failed
	KindFilesystem Kind = "filesystem"
	// KindInternal indicates an unexpected fault inside a worker
	KindInternal Kind = "internal"
)

// Sentinel errors for common scenarios
var (
	ErrNotReady     = errors.New("file not ready")
	ErrEmptyFile    = errors.New("file is empty")
	ErrSizeChanged  = errors.New("file size still changing")
	ErrLocked       = errors.New("file is locked by another process")
	ErrNotRegular   = errors.New("not a regular file")
	ErrOutsideRoot  = errors.New("path is outside the watched root")
	ErrNoDuration   = errors.New("media has no usable duration")
	ErrLowDiskSpace = errors.New("not enough free space on output volume")
	ErrShuttingDown = errors.New("pipeline is shutting down")
)

// IngestError carries the classification and context of a failure.
type IngestError struct {
	Kind    Kind
	Op      string // e.g. "probe", "frame_at", "write_still"
	Path    string // source path the failure relates to
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *IngestError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s error in %s for %s: %v", e.Kind, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *IngestError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for sentinel errors
func (e *IngestError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New creates a new IngestError
func New(kind Kind, op string, err error) *IngestError {
	return &IngestError{
		Kind:    kind,
		Op:      op,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithPath adds the source path to the error
func (e *IngestError) WithPath(path string) *IngestError {
	e.Path = path
	return e
}

// WithDetail adds a key-value detail to the error
func (e *IngestError) WithDetail(key string, value interface{}) *IngestError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NotReady creates a not-ready error
func NotReady(op string, err error) *IngestError {
	return New(KindNotReady, op, err)
}

// Decode creates a decode error
func Decode(op string, err error) *IngestError {
	return New(KindDecode, op, err)
}

// Encode creates an encode error
func Encode(op string, err error) *IngestError {
	return New(KindEncode, op, err)
}

// Filesystem creates a filesystem error
func Filesystem(op string, err error) *IngestError {
	return New(KindFilesystem, op, err)
}

// Internal creates an internal error
func Internal(op string, err error) *IngestError {
	return New(KindInternal, op, err)
}

// Wrap wraps an error with operation context if it's not already an IngestError
func Wrap(err error, kind Kind, op string) error {
	if err == nil {
		return nil
	}

	var iErr *IngestError
	if errors.As(err, &iErr) {
		return err
	}

	return New(kind, op, err)
}

// GetKind extracts the kind from an error. Unclassified errors are internal.
func GetKind(err error) Kind {
	var iErr *IngestError
	if errors.As(err, &iErr) {
		return iErr.Kind
	}
	return KindInternal
}

// GetOp extracts the operation from an error
func GetOp(err error) string {
	var iErr *IngestError
	if errors.As(err, &iErr) {
		return iErr.Op
	}
	return "unknown"
}

// GetDetails extracts error details
func GetDetails(err error) map[string]interface{} {
	var iErr *IngestError
	if errors.As(err, &iErr) {
		return iErr.Details
	}
	return nil
}

// IsRetryable reports whether a task that failed with err may be attempted
// again. All four taxonomy kinds recover at the task level, and worker faults
// are treated as an ordinary failed attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrShuttingDown)
}
