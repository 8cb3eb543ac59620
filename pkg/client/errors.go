package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Phase identifies which versioning call failed.
type Phase string

const (
	PhaseDryRun Phase = "dryRun"
	PhaseCommit Phase = "commit"
)

// Code classifies a SyncError.
type Code string

const (
	// CodeNetwork indicates the request could not be sent or the connection failed.
	CodeNetwork Code = "NETWORK_ERROR"

	// CodeTimeout indicates the call exceeded the client timeout.
	CodeTimeout Code = "TIMEOUT"

	// CodeHTTPStatus indicates the server answered with a non-2xx status.
	CodeHTTPStatus Code = "HTTP_STATUS"

	// CodeDecode indicates the dry-run response body could not be parsed.
	CodeDecode Code = "DECODE_ERROR"
)

// SyncError is returned for every failed versioning call.
type SyncError struct {
	Phase      Phase
	Code       Code
	StatusCode int // set for CodeHTTPStatus
	Cause      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Phase, e.Code, e.Cause)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// AsSyncError checks if an error is a SyncError and returns it.
func AsSyncError(err error) (*SyncError, bool) {
	var se *SyncError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsTimeout reports whether err is a SyncError caused by the call timeout.
func IsTimeout(err error) bool {
	se, ok := AsSyncError(err)
	return ok && se.Code == CodeTimeout
}

func newTransportError(phase Phase, err error) *SyncError {
	if isTimeout(err) {
		return &SyncError{Phase: phase, Code: CodeTimeout, Cause: err}
	}
	return &SyncError{Phase: phase, Code: CodeNetwork, Cause: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
