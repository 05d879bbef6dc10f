package core

import "fmt"

// SourceUnavailableError indicates the asset registry or a SQL text fetch failed.
// Builds degrade around it: the asset is treated as having no extractable SQL.
type SourceUnavailableError struct {
	Source string
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// MalformedArtifactError indicates a reconciler record is missing required keys.
type MalformedArtifactError struct {
	Kind    BatchKind
	Message string
}

func (e *MalformedArtifactError) Error() string {
	return fmt.Sprintf("malformed %s artifact: %s", e.Kind, e.Message)
}

// AuthorizationDeniedError indicates a curation role mismatch.
type AuthorizationDeniedError struct {
	Message string
}

func (e *AuthorizationDeniedError) Error() string { return e.Message }

// ProposalNotFoundError indicates no proposal in proposed status matched.
type ProposalNotFoundError struct {
	Source string
	Target string
}

func (e *ProposalNotFoundError) Error() string {
	return fmt.Sprintf("no proposed curation for %s -> %s", e.Source, e.Target)
}

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// UnknownBackendError is returned when a store backend or connector type is not registered.
type UnknownBackendError struct {
	Kind      string
	Name      string
	Available []string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown %s %q (available: %v)", e.Kind, e.Name, e.Available)
}

// ErrSourceUnavailable wraps err as a SourceUnavailableError.
func ErrSourceUnavailable(source string, err error) *SourceUnavailableError {
	return &SourceUnavailableError{Source: source, Err: err}
}

// ErrMalformed creates a MalformedArtifactError with a formatted message.
func ErrMalformed(kind BatchKind, format string, args ...any) *MalformedArtifactError {
	return &MalformedArtifactError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrAuthorizationDenied creates an AuthorizationDeniedError with a formatted message.
func ErrAuthorizationDenied(format string, args ...any) *AuthorizationDeniedError {
	return &AuthorizationDeniedError{Message: fmt.Sprintf(format, args...)}
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...any) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
