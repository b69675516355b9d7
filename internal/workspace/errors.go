package workspace

import (
	"errors"
	"fmt"
)

// Common sentinel errors for workspace operations
var (
	// ErrOutsideWorkspace indicates a path resolves outside the workspace root
	ErrOutsideWorkspace = errors.New("path outside workspace")

	// ErrBlockedFile indicates a path matches the write deny-list
	ErrBlockedFile = errors.New("blocked file")

	// ErrNotFound indicates a required path does not exist
	ErrNotFound = errors.New("path not found")

	// ErrResourceLimit indicates a disk or memory limit was exceeded
	ErrResourceLimit = errors.New("resource limit exceeded")
)

// BlockedBy tags an error with who can fix it, mirroring the tool error
// envelope taxonomy.
type BlockedBy string

const (
	// BlockedByWorkspace marks isolation violations (outside root, denied file).
	BlockedByWorkspace BlockedBy = "workspace"

	// BlockedByMissing marks absent files or directories.
	BlockedByMissing BlockedBy = "missing"

	// BlockedByRuntime marks resource exhaustion and environment failures.
	BlockedByRuntime BlockedBy = "runtime"
)

// Error codes surfaced in the tool error envelope.
const (
	CodeOutsideWorkspace = "PATH_OUTSIDE_WORKSPACE"
	CodeBlockedFile      = "BLOCKED_FILE"
	CodeNotFound         = "NOT_FOUND"
	CodeResourceLimit    = "RESOURCE_LIMIT_EXCEEDED"
)

// PathError is a structured workspace resolution failure. It wraps one of the
// sentinel errors so callers can match with errors.Is while still carrying the
// code and taxonomy tag the executor renders into the model-facing envelope.
type PathError struct {
	// Op is the resolving operation: resolve_write, resolve_read, resolve_project_read.
	Op string

	// Path is the path as requested by the caller.
	Path string

	// Code is the stable error code (CodeOutsideWorkspace, CodeBlockedFile, ...).
	Code string

	// BlockedBy is the taxonomy tag for the envelope.
	BlockedBy BlockedBy

	// Cause is the sentinel this error wraps.
	Cause error
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Cause)
}

// Unwrap returns the sentinel cause.
func (e *PathError) Unwrap() error {
	return e.Cause
}

func newPathError(op, path string, cause error) *PathError {
	pe := &PathError{Op: op, Path: path, Cause: cause}
	switch {
	case errors.Is(cause, ErrOutsideWorkspace):
		pe.Code = CodeOutsideWorkspace
		pe.BlockedBy = BlockedByWorkspace
	case errors.Is(cause, ErrBlockedFile):
		pe.Code = CodeBlockedFile
		pe.BlockedBy = BlockedByWorkspace
	case errors.Is(cause, ErrNotFound):
		pe.Code = CodeNotFound
		pe.BlockedBy = BlockedByMissing
	default:
		pe.Code = CodeResourceLimit
		pe.BlockedBy = BlockedByRuntime
	}
	return pe
}

// ResourceError reports a tripped resource limit with the measured values.
type ResourceError struct {
	// Kind is "disk" or "memory".
	Kind string

	// Used and Limit are bytes for disk; fractions scaled by 100 for memory.
	Used  uint64
	Limit uint64
}

// Error implements the error interface.
func (e *ResourceError) Error() string {
	if e.Kind == "memory" {
		return fmt.Sprintf("resource limit exceeded: free memory %d%% below minimum %d%%", e.Used, e.Limit)
	}
	return fmt.Sprintf("resource limit exceeded: workspace %d bytes over limit %d", e.Used, e.Limit)
}

// Unwrap allows errors.Is(err, ErrResourceLimit).
func (e *ResourceError) Unwrap() error {
	return ErrResourceLimit
}
