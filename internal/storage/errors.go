// Package storage persists capture artifacts: still frames and clips on local
// disk, an optional SQL catalog of capture events, and an optional object
// store archive.
package storage

import (
	"errors"
	"fmt"
)

// ErrNoFrames is returned when a clip is requested with nothing to encode.
var ErrNoFrames = errors.New("no frames to save")

// ErrInsufficientSpace is returned when the storage volume is below the
// configured free-space floor.
var ErrInsufficientSpace = errors.New("insufficient free space")

// StorageError represents a failed storage operation.
type StorageError struct {
	Op        string
	Path      string
	Err       error
	Retryable bool
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
