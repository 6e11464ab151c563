package core

// error_messages.go maps technical errors to user facing messages with a
// code support staff can look up.
//
// Codes by category:
//
//	IMP001-IMP006  import engine outcomes (header, row limit, empty, cancel)
//	JOB001-JOB004  job management (busy, not found, unknown kind, running)
//	FILE001-FILE005 uploaded files (size, format, content)
//	DB001-DB007    database constraints and connectivity
//	AUTH001        authentication
//	RATE001        request throttling
//	ERR000         anything else; check the logs for the original error
//
// Known sentinel errors are matched with errors.Is first. Everything else
// falls back to case-insensitive substring patterns, first match wins.

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/importer/internal/importer"
	"github.com/JonMunkholm/importer/internal/source"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// Sentinel errors of the job service.
var (
	ErrImportNotFound = errors.New("import not found")
	ErrUnknownKind    = errors.New("unknown import kind")
	ErrNoFile         = errors.New("no file provided")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrImportRunning  = errors.New("import still running")
)

type sentinelMessage struct {
	err error
	msg UserMessage
}

var sentinelMessages = []sentinelMessage{
	{importer.ErrInvalidColumns, UserMessage{
		Message: "The file header does not match the expected columns",
		Action:  "Download the template and copy your data into it",
		Code:    "IMP001",
	}},
	{importer.ErrTooManyRows, UserMessage{
		Message: "The file has too many rows",
		Action:  "Split the file into smaller parts",
		Code:    "IMP002",
	}},
	{importer.ErrEmptyRows, UserMessage{
		Message: "The file has no data rows",
		Action:  "Fill in at least one row below the header",
		Code:    "IMP003",
	}},
	{importer.ErrCancelled, UserMessage{
		Message: "Import was cancelled",
		Action:  "Start a new import when ready",
		Code:    "IMP004",
	}},
	{importer.ErrImportInProgress, UserMessage{
		Message: "This import is already running",
		Action:  "Wait for it to finish",
		Code:    "IMP005",
	}},
	{importer.ErrUnexpected, UserMessage{
		Message: "The import stopped because of an unexpected error",
		Action:  "Rows imported so far were kept. Please contact support",
		Code:    "IMP006",
	}},
	{ErrTooManyImports, UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "JOB001",
	}},
	{ErrImportNotFound, UserMessage{
		Message: "Import not found",
		Action:  "The import may have expired. Please start a new import",
		Code:    "JOB002",
	}},
	{ErrUnknownKind, UserMessage{
		Message: "Unknown import type",
		Action:  "Choose one of the listed import types",
		Code:    "JOB003",
	}},
	{source.ErrFileTooLarge, UserMessage{
		Message: "File exceeds the maximum size",
		Action:  "Split the file into smaller parts",
		Code:    "FILE001",
	}},
	{source.ErrUnsupportedFormat, UserMessage{
		Message: "Unsupported file format",
		Action:  "Upload a .csv or .xlsx file",
		Code:    "FILE002",
	}},
	{source.ErrMalformed, UserMessage{
		Message: "The file could not be read",
		Action:  "Save the file again as CSV (UTF-8) or XLSX",
		Code:    "FILE003",
	}},
	{ErrImportRunning, UserMessage{
		Message: "The import has not finished yet",
		Action:  "Wait for the import to finish and try again",
		Code:    "JOB004",
	}},
	{ErrNoFile, UserMessage{
		Message: "No file was selected",
		Action:  "Please select a file to upload",
		Code:    "FILE004",
	}},
	{source.ErrEmptyFile, UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Please upload a file with a header and data rows",
		Code:    "FILE005",
	}},
	{ErrUnauthorized, UserMessage{
		Message: "Authentication required",
		Action:  "Provide a valid API key or token",
		Code:    "AUTH001",
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns are matched with strings.Contains on the lowercased error.
// More specific patterns come first.
var errorPatterns = []errorPattern{
	{"duplicate key", UserMessage{
		Message: "A record with these values already exists",
		Action:  "Download failed rows to review duplicates",
		Code:    "DB001",
	}},
	{"violates unique", UserMessage{
		Message: "A duplicate value was found",
		Action:  "Check for duplicate entries in your file",
		Code:    "DB002",
	}},
	{"violates foreign key", UserMessage{
		Message: "Referenced record does not exist",
		Action:  "Make sure the addresses in the file exist",
		Code:    "DB003",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB004",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB005",
	}},
	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "DB006",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// A nil error yields the zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a display string: "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
