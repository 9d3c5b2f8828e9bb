package contexts

import "errors"

var (
	// ErrManagerClosed is returned by operations on a closed Manager.
	ErrManagerClosed = errors.New("context manager is closed")

	// ErrContextNotFound is returned for context names the Manager does not know.
	ErrContextNotFound = errors.New("context not found")
)
