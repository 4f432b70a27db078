package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the row's current state.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAclOverlap is returned when an identity would be in both ACL sets.
	ErrAclOverlap = errors.New("identity is already present in the other ACL set")
)

// StorageError wraps a persistence failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
