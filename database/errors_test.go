package database

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWrapDBError(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapDBError("SaveRunSummary", cause)

	var dbErr *DBError
	if !errors.As(err, &dbErr) {
		t.Fatalf("expected *DBError, got %T", err)
	}
	if dbErr.Operation != "SaveRunSummary" {
		t.Errorf("operation = %q, want SaveRunSummary", dbErr.Operation)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error should match the cause with errors.Is")
	}
	if !strings.Contains(err.Error(), "SaveRunSummary") || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("message %q should carry the operation and the cause", err.Error())
	}
}

func TestWrapDBErrorNil(t *testing.T) {
	if err := WrapDBError("Migrate", nil); err != nil {
		t.Errorf("wrapping nil should stay nil, got %v", err)
	}
}

func TestNewQueryError(t *testing.T) {
	day := time.Date(2025, 9, 3, 0, 0, 0, 0, time.UTC)
	cause := errors.New("timeout")
	err := NewQueryError(day, cause)

	if !errors.Is(err, cause) {
		t.Error("query error should match the cause with errors.Is")
	}
	if !strings.Contains(err.Error(), "2025-09-03") {
		t.Errorf("message %q should name the day", err.Error())
	}

	if err := NewQueryError(day, nil); err != nil {
		t.Errorf("wrapping nil should stay nil, got %v", err)
	}
}
