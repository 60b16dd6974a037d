package remote

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the requested blob does not exist.
var ErrNotFound = errors.New("blob not found")

// Reason classifies a remote failure.
type Reason string

const (
	ReasonNetwork    Reason = "network"
	ReasonHTTPStatus Reason = "http-status"
	ReasonDecode     Reason = "decode"
	ReasonEncode     Reason = "encode"
)

// RemoteError reports a failed remote call.
type RemoteError struct {
	Op         string
	Reason     Reason
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote %s failed (%s %d): %v", e.Op, e.Reason, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s failed (%s): %v", e.Op, e.Reason, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsRemoteError reports whether err is or wraps a *RemoteError.
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// Temporary reports whether a later attempt may succeed: network failures,
// rate limiting and server errors.
func (e *RemoteError) Temporary() bool {
	switch e.Reason {
	case ReasonNetwork:
		return true
	case ReasonHTTPStatus:
		return e.StatusCode == 429 || e.StatusCode >= 500
	}
	return false
}
