package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no record exists at the requested key.
	ErrNotFound = errors.New("stock record not found")

	// ErrConflict is returned when a record with the same (date, trade code) already exists.
	ErrConflict = errors.New("stock record already exists")

	// ErrInvalidJSON is returned when a request body is not a JSON object.
	ErrInvalidJSON = errors.New("invalid JSON format")
)

// ValidationError names the payload field that was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StoreError wraps a transport or transaction failure from the database.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// SourceError wraps an I/O or decode failure while reading an import batch.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("import source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
