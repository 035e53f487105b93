package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error surfaced by the service wraps exactly one of these.
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrUpstream      = errors.New("upstream error")
	ErrPathTraversal = errors.New("path traversal")
	ErrTimeout       = errors.New("timeout")
	ErrBlocked       = errors.New("blocked by policy")
)

// Specific errors.
var (
	ErrInvalidURL     = fmt.Errorf("%w: invalid repository url", ErrValidation)
	ErrEmptyText      = fmt.Errorf("%w: text is empty", ErrValidation)
	ErrNotText        = fmt.Errorf("%w: file is not UTF-8 text", ErrValidation)
	ErrUnknownSession = fmt.Errorf("%w: unknown session", ErrNotFound)
	ErrFileNotFound   = fmt.Errorf("%w: file not found", ErrNotFound)
	ErrModelCall      = fmt.Errorf("%w: model call failed", ErrUpstream)
	ErrUnknownTool    = fmt.Errorf("%w: unknown tool", ErrValidation)
)

// Error codes returned to clients.
const (
	CodeValidation    = "validation_error"
	CodeInvalidURL    = "invalid_url"
	CodeEmptyText     = "empty_text"
	CodeNotText       = "not_text"
	CodeNotFound      = "not_found"
	CodeUnknown       = "unknown_session"
	CodeFileNotFound  = "file_not_found"
	CodeUpstream      = "upstream_error"
	CodeModelCall     = "model_error"
	CodeCloneFailed   = "clone_failed"
	CodePathTraversal = "path_traversal"
	CodeTimeout       = "timeout"
	CodeBlocked       = "blocked"
	CodeInternal      = "internal_error"
)

// CloneError reports a failed repository clone. Reason is one of
// not_found, auth, network or unknown.
type CloneError struct {
	Reason string
	Err    error
}

// Clone failure reasons.
const (
	CloneReasonNotFound = "not_found"
	CloneReasonAuth     = "auth"
	CloneReasonNetwork  = "network"
	CloneReasonUnknown  = "unknown"
)

func (e *CloneError) Error() string {
	if e.Err == nil {
		return "clone failed: " + e.Reason
	}
	return fmt.Sprintf("clone failed (%s): %v", e.Reason, e.Err)
}

// Unwrap lets errors.Is match both ErrUpstream and the underlying cause.
func (e *CloneError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUpstream}
	}
	return []error{ErrUpstream, e.Err}
}

// Code returns a stable, client-facing code for err.
func Code(err error) string {
	var cloneErr *CloneError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cloneErr):
		return CodeCloneFailed
	case errors.Is(err, ErrInvalidURL):
		return CodeInvalidURL
	case errors.Is(err, ErrEmptyText):
		return CodeEmptyText
	case errors.Is(err, ErrNotText):
		return CodeNotText
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrUnknownSession):
		return CodeUnknown
	case errors.Is(err, ErrFileNotFound):
		return CodeFileNotFound
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrPathTraversal):
		return CodePathTraversal
	case errors.Is(err, ErrBlocked):
		return CodeBlocked
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrModelCall):
		return CodeModelCall
	case errors.Is(err, ErrUpstream):
		return CodeUpstream
	default:
		return CodeInternal
	}
}

// PublicMessage returns a message that is safe to show to a caller. Client
// errors keep their text, which never carries absolute paths; upstream and
// internal failures are replaced by a generic message.
func PublicMessage(err error) string {
	var cloneErr *CloneError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cloneErr):
		return "failed to clone repository: " + cloneErr.Reason
	case errors.Is(err, ErrPathTraversal):
		return "path escapes the workspace"
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrBlocked):
		return err.Error()
	case errors.Is(err, ErrTimeout):
		return "operation timed out"
	case errors.Is(err, ErrModelCall):
		return "language model request failed"
	case errors.Is(err, ErrUpstream):
		return "upstream service failed"
	default:
		return "internal error"
	}
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPathTraversal) ||
		errors.Is(err, ErrBlocked)
}
