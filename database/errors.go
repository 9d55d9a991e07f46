package database

import (
	"fmt"
	"time"
)

// DBError represents a database operation error with context
type DBError struct {
	Operation string
	Err       error
}

// Error implements the error interface
func (e *DBError) Error() string {
	return fmt.Sprintf("database error in %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *DBError) Unwrap() error {
	return e.Err
}

// QueryError represents a failed upstream read for one partition day. The
// pipeline treats it as recoverable: the day is logged and skipped, the run
// continues with the remaining days.
type QueryError struct {
	Day time.Time
	Err error
}

// Error implements the error interface
func (e *QueryError) Error() string {
	return fmt.Sprintf("event query failed for %s: %v", e.Day.Format("2006-01-02"), e.Err)
}

// Unwrap returns the underlying error
func (e *QueryError) Unwrap() error {
	return e.Err
}

// WrapDBError wraps a database error with operation context
// This provides better error messages and makes debugging easier
func WrapDBError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return &DBError{
		Operation: operation,
		Err:       err,
	}
}

// NewQueryError wraps a per-day query failure
func NewQueryError(day time.Time, err error) error {
	if err == nil {
		return nil
	}
	return &QueryError{Day: day, Err: err}
}
