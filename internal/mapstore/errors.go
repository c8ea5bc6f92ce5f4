package mapstore

import (
	"errors"
	"fmt"
)

var (
	// ErrMissing is returned by a Backend when the key holds no live value.
	ErrMissing = errors.New("key does not exist")

	// ErrNotFound matches every *NotFoundError.
	ErrNotFound = errors.New("map configuration not found")

	// ErrTokenConflict is returned by SaveAs when the token already holds a
	// different configuration.
	ErrTokenConflict = errors.New("token already holds a different map configuration")
)

// NotFoundError is returned by Load for unknown, expired or deleted tokens.
type NotFoundError struct {
	Token string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Invalid or nonexistent map configuration token '%s'", e.Token)
}
func (e *NotFoundError) ErrorCode() string    { return "MAP_NOT_FOUND" }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StoreError wraps a failure of the backing store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string     { return fmt.Sprintf("map store %s: %v", e.Op, e.Err) }
func (e *StoreError) ErrorCode() string { return "STORE_ERROR" }
func (e *StoreError) Unwrap() error     { return e.Err }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStoreError reports whether err wraps a backing store failure.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
