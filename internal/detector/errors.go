package detector

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when an adapter is used before
	// Reinitialize or after Close.
	ErrNotInitialized = errors.New("detector not initialized")

	// ErrBusy is returned when a request is already in flight.
	ErrBusy = errors.New("detector busy")

	// ErrTimeout resolves a request whose engine did not answer in time.
	ErrTimeout = errors.New("detector timed out")
)

// FailureError is an error reported by the engine for one request.
type FailureError struct {
	Message string
	Code    int
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("detector failure (code %d): %s", e.Code, e.Message)
}

// Engine error codes, matching the MediaPipe task helpers.
const (
	CodeOther = 0
	CodeGPU   = 1
)
