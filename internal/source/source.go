// Package source turns uploaded files into importer tables.
//
// CSV files are decoded to UTF-8, their delimiter is sniffed and numeric
// fields become numbers. XLSX workbooks keep the cell types the workbook
// stores, including dates. Files can come from an upload or from S3.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/importer/internal/importer"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyFile         = errors.New("file is empty")
	ErrMalformed         = errors.New("malformed file")
)

// Options controls how a file is read.
type Options struct {
	// Charset of CSV input: utf-8 (default), utf-16, windows-1251, windows-1252
	Charset string

	// Comma overrides CSV delimiter detection
	Comma rune

	// Sheet selects an XLSX sheet by name; the active sheet by default
	Sheet string

	// MaxRows stops reading once one row more than MaxRows has been read,
	// leaving the over-limit decision to the importer. Zero reads everything.
	MaxRows int

	// MaxBytes rejects inputs larger than this many bytes. Zero disables it.
	MaxBytes int64
}

// Format is a supported file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat returns the format implied by a file name.
func DetectFormat(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", ".tsv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
}

// Read reads the file named name from r.
func Read(ctx context.Context, name string, r io.Reader, opts Options) (importer.Table, error) {
	format, err := DetectFormat(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.MaxBytes > 0 {
		r = &LimitedReader{R: r, Limit: opts.MaxBytes}
	}

	switch format {
	case FormatXLSX:
		return ReadXLSX(r, opts)
	default:
		return ReadCSV(r, opts)
	}
}
