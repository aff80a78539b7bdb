package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrOracleFormat means every attempt returned content missing required fields
	ErrOracleFormat = errors.New("oracle returned malformed output")
	// ErrOracleTransport means the oracle could not be reached or rejected the credential
	ErrOracleTransport = errors.New("oracle unavailable")

	ErrSessionNotFound = errors.New("session not found")
	ErrGameNotStarted  = errors.New("game not started")
	ErrEmptyAction     = errors.New("action is empty")
	ErrSaveNotFound    = errors.New("save not found")
	ErrTurnConflict    = errors.New("another turn was committed concurrently")
)

// OracleError is returned when a narrative call fails for good. The session
// is left exactly as it was before the call.
type OracleError struct {
	Kind     error // ErrOracleFormat or ErrOracleTransport
	Attempts int
	Err      error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("%v after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *OracleError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// ImageError describes a failed illustration. It is logged, never returned.
type ImageError struct {
	SessionID string
	Turn      int
	Err       error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("image for session %s turn %d: %v", e.SessionID, e.Turn, e.Err)
}

func (e *ImageError) Unwrap() error {
	return e.Err
}

// formatFailure tags an attempt error as a content problem
func formatFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrOracleFormat, err)
}

// transportFailure tags an attempt error as a call problem
func transportFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrOracleTransport, err)
}
