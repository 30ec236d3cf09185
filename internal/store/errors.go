package store

import (
	"errors"
	"fmt"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// SchemaError reports a failed migration. Fatal: the cache must not operate
// on a half-migrated schema, so callers surface this as a startup failure.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string { return fmt.Sprintf("schema: %v", e.Err) }
func (e *SchemaError) Unwrap() error { return e.Err }

// TransactionError reports contention on a local write after the transparent
// retry budget was exhausted.
type TransactionError struct {
	Err error
}

func (e *TransactionError) Error() string { return fmt.Sprintf("transaction: %v", e.Err) }
func (e *TransactionError) Unwrap() error { return e.Err }

// ConstraintViolation reports a write the engine rejected (foreign key,
// uniqueness, check). Indicates a caller bug; never retried.
type ConstraintViolation struct {
	Err error
}

func (e *ConstraintViolation) Error() string { return fmt.Sprintf("constraint: %v", e.Err) }
func (e *ConstraintViolation) Unwrap() error { return e.Err }

// classify maps engine errors onto the store's error taxonomy. Errors that
// are already classified, and storage-level failures (disk full, corruption)
// for which no local retry can help, pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var te *TransactionError
	var cv *ConstraintViolation
	var se *SchemaError
	if errors.As(err, &te) || errors.As(err, &cv) || errors.As(err, &se) {
		return err
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return &TransactionError{Err: err}
		case sqlite3.ErrConstraint:
			return &ConstraintViolation{Err: err}
		}
	}
	return err
}

func isContention(err error) bool {
	var te *TransactionError
	return errors.As(err, &te)
}
