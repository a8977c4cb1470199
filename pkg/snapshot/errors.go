package snapshot

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	ErrSnapshotExists     = errors.New("snapshot already exists")
	ErrNotFound           = errors.New("snapshot not found")
	ErrStorageUnavailable = errors.New("snapshot storage unavailable")
	ErrCorrupt            = errors.New("snapshot corrupt")
	ErrInvalidScanID      = errors.New("invalid scan id")
	ErrKeyRequired        = errors.New("snapshot is sealed and no key is configured")
	ErrStoreClosed        = errors.New("store is closed")
)

// StoreError provides structured error information for store operations.
type StoreError struct {
	Op      string // Operation that failed (e.g., "put", "list")
	Backend string // Backend name (file, sqlite, postgres, s3)
	ScanID  string // Snapshot scan id (if applicable)
	Context string // Additional context
	Cause   error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.Op
	if e.Backend != "" {
		msg = e.Backend + " " + msg
	}
	if e.ScanID != "" {
		msg += " " + e.ScanID
	}
	if e.Context != "" {
		msg += " (" + e.Context + ")"
	}
	return fmt.Sprintf("snapshot %s: %v", msg, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// ErrorBuilder provides a fluent interface for building StoreErrors.
type ErrorBuilder struct {
	err StoreError
}

// NewError creates a new error builder with the given operation.
func NewError(op string) *ErrorBuilder {
	return &ErrorBuilder{err: StoreError{Op: op}}
}

// Backend sets the backend name.
func (b *ErrorBuilder) Backend(name string) *ErrorBuilder {
	b.err.Backend = name
	return b
}

// Scan sets the scan id.
func (b *ErrorBuilder) Scan(id string) *ErrorBuilder {
	b.err.ScanID = id
	return b
}

// Context sets additional context information.
func (b *ErrorBuilder) Context(ctx string) *ErrorBuilder {
	b.err.Context = ctx
	return b
}

// Cause sets the underlying error cause.
func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

// Err returns the error as an error interface.
func (b *ErrorBuilder) Err() error {
	return &b.err
}

// Unavailable wraps a backend failure so it matches ErrStorageUnavailable
// while keeping the original cause in the chain.
func Unavailable(backend, op string, cause error) error {
	return NewError(op).Backend(backend).Cause(errors.Join(ErrStorageUnavailable, cause)).Err()
}

// CorruptError reports a stored snapshot that failed to decode.
type CorruptError struct {
	ScanID string
	Reason string
	Cause  error
}

func (e *CorruptError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("snapshot %s corrupt: %s: %v", e.ScanID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("snapshot %s corrupt: %s", e.ScanID, e.Reason)
}

func (e *CorruptError) Unwrap() error { return e.Cause }

// Is matches ErrCorrupt.
func (e *CorruptError) Is(target error) bool { return target == ErrCorrupt }

func corrupt(scanID, reason string, cause error) error {
	return &CorruptError{ScanID: scanID, Reason: reason, Cause: cause}
}

// IsNotFound reports whether err means the snapshot does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsCorrupt reports whether err is a *CorruptError.
func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}
