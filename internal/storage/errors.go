package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by explicit single-row lookups that match nothing.
// Deletes never return it.
var ErrNotFound = errors.New("not found")

// ErrKeyArity is returned when a key's placeholder count does not match its
// arguments.
var ErrKeyArity = errors.New("key placeholder count does not match argument count")

// SchemaTooNewError reports a store written by a newer catalog than the one
// running. The store must not be used.
type SchemaTooNewError struct {
	StoreVersion   int
	CatalogVersion int
}

func (e *SchemaTooNewError) Error() string {
	return fmt.Sprintf("store schema version %d is newer than the latest known version %d",
		e.StoreVersion, e.CatalogVersion)
}

// IOError wraps a failure of the underlying database.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func ioErr(op string, err error) error {
	return &IOError{Op: op, Err: err}
}
