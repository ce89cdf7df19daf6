package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrSourceNotCompleted = errors.New("source video not completed")
	ErrNotReady           = errors.New("video not ready for download")
)

// ValidationError reports malformed caller input. Always raised before any
// side effect.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// UpstreamErrorKind classifies provider API failures so callers can branch
// on kind rather than message text.
type UpstreamErrorKind string

const (
	UpstreamInvalidParams UpstreamErrorKind = "invalid_parameters"
	UpstreamNotFound      UpstreamErrorKind = "not_found"
	UpstreamRateLimited   UpstreamErrorKind = "rate_limited"
	UpstreamUnavailable   UpstreamErrorKind = "upstream_unavailable"
	UpstreamAuthFailed    UpstreamErrorKind = "authentication_failed"
)

// UpstreamError wraps a failure returned by the video generation provider.
type UpstreamError struct {
	Kind    UpstreamErrorKind
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s (%d): %s", e.Kind, e.Status, e.Message)
}

// IsUpstreamKind reports whether err is an UpstreamError of the given kind.
func IsUpstreamKind(err error, kind UpstreamErrorKind) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.Kind == kind
}
