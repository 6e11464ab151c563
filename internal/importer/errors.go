package importer

import (
	"errors"
	"fmt"
)

var (
	// ErrImportInProgress is returned when Import is called while another
	// run on the same Importer has not finished.
	ErrImportInProgress = errors.New("import already in progress")

	// ErrCancelled is returned when a run stops because of Break or
	// context cancellation.
	ErrCancelled = errors.New("import cancelled")

	ErrInvalidColumns = errors.New("invalid columns")
	ErrTooManyRows    = errors.New("too many rows")
	ErrEmptyRows      = errors.New("no data rows")

	// ErrUnexpected marks a fatal error returned (or panicked) by a
	// normalizer, validator or creator.
	ErrUnexpected = errors.New("unexpected error")
)

// ImportError is a fatal error that ended a run.
type ImportError struct {
	Kind    error   // One of ErrInvalidColumns, ErrTooManyRows, ErrEmptyRows, ErrUnexpected
	Message Message // Configured user facing message, empty for ErrUnexpected
	Line    int     // Spreadsheet line being processed, 0 when not row related
	Err     error   // Underlying cause, if any
}

func (e *ImportError) Error() string {
	msg := e.Message.Text
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Line > 0 {
		msg = fmt.Sprintf("%s (line %d)", msg, e.Line)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is the kind of this error.
func (e *ImportError) Is(target error) bool {
	return target == e.Kind
}

func (e *ImportError) Unwrap() error {
	return e.Err
}
