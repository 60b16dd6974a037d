package engine

import (
	"context"
	"errors"

	"github.com/xtreamgames/xsync/internal/record"
	"github.com/xtreamgames/xsync/internal/remote"
	"github.com/xtreamgames/xsync/internal/share"
	"github.com/xtreamgames/xsync/internal/store"
)

// Errors reported in outcomes.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(out.Err, engine.ErrOffline) {
//	    // tell the user to reconnect
//	}
var (
	// ErrOffline is returned when a network operation is requested while
	// the engine is offline. No network call is made.
	ErrOffline = errors.New("offline: cloud sync unavailable")

	// ErrBusy is returned when an operation needs the single-flight guard
	// while another sync is running. Requests are not queued.
	ErrBusy = errors.New("sync already in progress")

	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("engine stopped")
)

// IsRetryable returns true if the error is likely to succeed on a later
// trigger: transient network failures, server errors, timeouts and busy
// rejections.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrBusy) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var re *remote.RemoteError
	if errors.As(err, &re) {
		return re.Temporary()
	}
	return false
}

// IsFatal returns true if the error cannot be fixed by retrying: local
// storage failures and malformed input.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if store.IsStorageError(err) {
		return true
	}

	return errors.Is(err, share.ErrInvalidReference) ||
		errors.Is(err, record.ErrInvalidPayload) ||
		errors.Is(err, record.ErrIncompatibleVersion)
}
