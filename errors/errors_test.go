package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestStorageErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *StorageError
		want []string
	}{
		{
			name: "full error",
			err: &StorageError{
				Op:        OpSet,
				Component: "storage/sqlite",
				Code:      CodeBackendUnavailable,
				Key:       "projects",
				Err:       errors.New("connection refused"),
			},
			want: []string{"set", "storage/sqlite", "BACKEND_UNAVAILABLE", "projects", "connection refused"},
		},
		{
			name: "no component",
			err: &StorageError{
				Op:   OpGet,
				Code: CodeStorage,
				Err:  errors.New("boom"),
			},
			want: []string{"get", "STORAGE_FAILURE", "boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, fragment := range tt.want {
				if !strings.Contains(msg, fragment) {
					t.Errorf("message %q missing %q", msg, fragment)
				}
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewStorageFailure(OpSet, "manager", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}

	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatal("expected errors.As to extract StorageError")
	}
	if se.Code != CodeStorage {
		t.Errorf("expected code %s, got %s", CodeStorage, se.Code)
	}
}

func TestRetryability(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"validation never retries", NewValidationError(OpSet, "projects", errors.New("bad")), false},
		{"unavailable retries", NewUnavailableError(OpSet, "storage/sqlite", errors.New("down")), true},
		{"conflict never retries", NewConflictError(OpDetect, "projects", errors.New("diverged")), false},
		{"plain error never retries", errors.New("plain"), false},
		{"wrapped unavailable retries", fmt.Errorf("outer: %w", NewUnavailableError(OpGet, "x", errors.New("y"))), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestCodePredicates(t *testing.T) {
	if !IsValidation(NewValidationError(OpSet, "k", errors.New("x"))) {
		t.Error("IsValidation failed")
	}
	if !IsConflict(NewConflictError(OpDetect, "k", errors.New("x"))) {
		t.Error("IsConflict failed")
	}
	if !IsResolutionInvalid(NewResolutionInvalidError(errors.New("x"))) {
		t.Error("IsResolutionInvalid failed")
	}
	if !IsTransactionAborted(NewTransactionAbortedError(errors.New("x"))) {
		t.Error("IsTransactionAborted failed")
	}
	if IsValidation(NewConflictError(OpDetect, "k", errors.New("x"))) {
		t.Error("IsValidation matched a conflict error")
	}
}

func TestWrapOpComponentPassthrough(t *testing.T) {
	original := NewValidationError(OpSet, "projects", errors.New("bad"))
	wrapped := WrapOpComponent(original, OpTransaction, "manager")

	var se *StorageError
	if !errors.As(wrapped, &se) {
		t.Fatal("expected StorageError")
	}
	if se.Code != CodeValidation {
		t.Errorf("wrapping replaced the code: got %s", se.Code)
	}
	if se.Op != OpSet {
		t.Errorf("wrapping replaced the op: got %s", se.Op)
	}
}

func TestWrapKeyAttachesContext(t *testing.T) {
	wrapped := WrapKey(errors.New("disk full"), OpSet, "storage/local", "projects")

	var se *StorageError
	if !errors.As(wrapped, &se) {
		t.Fatal("expected StorageError")
	}
	if se.Key != "projects" {
		t.Errorf("expected key projects, got %q", se.Key)
	}
	if se.Component != "storage/local" {
		t.Errorf("expected component storage/local, got %q", se.Component)
	}
}
