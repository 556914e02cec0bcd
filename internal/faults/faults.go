// Package faults defines the error taxonomy shared across the control plane.
// Callers classify failures by Kind so transport adapters and the CLI can map
// them to exit codes and HTTP statuses without string matching.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The set is closed; new kinds require an
// accompanying mapping in the gateway and CLI.
type Kind string

const (
	// NotFound means a referenced workspace, scenario, or run does not exist.
	NotFound Kind = "not_found"
	// Validation means a write was rejected by domain validation.
	Validation Kind = "validation"
	// Conflict means an illegal state transition or duplicate (e.g. writing a
	// terminal run status twice, importing over an existing workspace name).
	Conflict Kind = "conflict"
	// Precondition means a required input was missing before launch, such as
	// the census file.
	Precondition Kind = "precondition"
	// Launch means the simulation engine process could not be started.
	Launch Kind = "launch"
	// Engine means the engine process started but exited non-zero.
	Engine Kind = "engine"
	// IO covers filesystem and archive read/write failures.
	IO Kind = "io"
	// ChecksumMismatch means a bundle failed integrity verification.
	ChecksumMismatch Kind = "checksum_mismatch"
	// Cancelled means an operator cancelled the run or batch.
	Cancelled Kind = "cancelled"
	// ResourceLimit means a configured cap (storage, concurrency, bundle
	// size) was exceeded.
	ResourceLimit Kind = "resource_limit"
)

// Error is the concrete error type carried across package boundaries.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with a formatted message.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. A nil err returns nil so call sites
// can wrap unconditionally.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
