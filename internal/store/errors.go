package store

import (
	"errors"
	"fmt"
)

// Reason classifies why a storage operation failed.
type Reason string

const (
	// ReasonIO means the underlying medium failed or refused the operation.
	ReasonIO Reason = "io"
	// ReasonQuota means the value exceeds the configured per-slot limit.
	ReasonQuota Reason = "quota"
	// ReasonEncode means the value could not be serialized.
	ReasonEncode Reason = "encode"
	// ReasonDecode means a stored value could not be deserialized.
	ReasonDecode Reason = "decode"
)

// StorageError reports a local persistence failure. It is fatal to the
// operation that hit it and is never retried automatically.
type StorageError struct {
	Op     string
	Key    string
	Reason Reason
	Err    error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %s failed (%s): %v", e.Op, e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("storage %s failed (%s): %v", e.Op, e.Reason, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
