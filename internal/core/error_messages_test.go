package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/importer/internal/importer"
	"github.com/JonMunkholm/importer/internal/source"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "nil error returns empty",
			err:      nil,
			wantCode: "",
		},
		{
			name:     "invalid columns import error",
			err:      &importer.ImportError{Kind: importer.ErrInvalidColumns},
			wantCode: "IMP001",
		},
		{
			name:     "too many rows import error",
			err:      &importer.ImportError{Kind: importer.ErrTooManyRows},
			wantCode: "IMP002",
		},
		{
			name:     "wrapped cancellation",
			err:      fmt.Errorf("%w: %w", importer.ErrCancelled, errors.New("context canceled")),
			wantCode: "IMP004",
		},
		{
			name:     "pipeline failure wins over its cause",
			err:      &importer.ImportError{Kind: importer.ErrUnexpected, Err: errors.New("duplicate key")},
			wantCode: "IMP006",
		},
		{
			name:     "busy",
			err:      ErrTooManyImports,
			wantCode: "JOB001",
		},
		{
			name:     "not found with id",
			err:      fmt.Errorf("%w: abc", ErrImportNotFound),
			wantCode: "JOB002",
		},
		{
			name:     "unsupported file",
			err:      fmt.Errorf("read upload: %w", source.ErrUnsupportedFormat),
			wantCode: "FILE002",
		},
		{
			name:     "file too large",
			err:      source.ErrFileTooLarge,
			wantCode: "FILE001",
		},
		{
			name:     "duplicate key maps correctly",
			err:      errors.New("ERROR: duplicate key value violates unique constraint"),
			wantCode: "DB001",
		},
		{
			name:     "foreign key maps correctly",
			err:      errors.New("insert or update violates foreign key constraint"),
			wantCode: "DB003",
		},
		{
			name:     "connection refused maps correctly",
			err:      errors.New("dial tcp: connection refused"),
			wantCode: "DB004",
		},
		{
			name:     "case insensitive matching",
			err:      errors.New("DEADLOCK detected"),
			wantCode: "DB007",
		},
		{
			name:     "unknown error returns default",
			err:      errors.New("some random internal error"),
			wantCode: "ERR000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if tt.err != nil && got.Message == "" {
				t.Error("MapError() message is empty")
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(ErrTooManyImports)

	expected := "System is busy processing other imports (Code: JOB001). Please wait a moment and try again"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known sentinel is user facing", importer.ErrEmptyRows, true},
		{"known pattern is user facing", errors.New("duplicate key"), true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := fmt.Errorf("start: %w", ErrUnknownKind)
		userErr := NewUserError(techErr)

		if userErr.Error() != "Unknown import type" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if userErr.User.Code != "JOB003" {
			t.Errorf("Code = %q, want JOB003", userErr.User.Code)
		}
		if !errors.Is(userErr, ErrUnknownKind) {
			t.Error("Unwrap() should expose the original error")
		}
	})
}
