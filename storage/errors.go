package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a dataset file does not exist yet.
var ErrNotFound = errors.New("dataset file not found")

// PersistenceError wraps a disk fault while reading or writing a dataset.
// When Op is a write, the previous file content is left untouched.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
