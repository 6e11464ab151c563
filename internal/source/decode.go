package source

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// ErrFileTooLarge is returned once a LimitedReader passes its limit.
var ErrFileTooLarge = errors.New("file exceeds maximum size")

// Decoder returns a reader producing UTF-8 from r.
//
// For "utf-8" (the default) a leading byte order mark is dropped and invalid
// sequences are replaced with U+FFFD. "windows-1251" and "utf-16" cover the
// CSV exports of older spreadsheet programs.
func Decoder(r io.Reader, charset string) (io.Reader, error) {
	enc, err := lookupEncoding(charset)
	if err != nil {
		return nil, err
	}
	// the UTF-8 decoder copies ill-formed input through as is
	return transform.NewReader(r, transform.Chain(
		unicode.BOMOverride(enc.NewDecoder()),
		runes.ReplaceIllFormed(),
	)), nil
}

func lookupEncoding(charset string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8, nil
	case "utf-16", "utf16":
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), nil
	case "windows-1251", "cp1251":
		return charmap.Windows1251, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	}
	return nil, fmt.Errorf("unsupported charset %q", charset)
}

// LimitedReader counts bytes read and fails with ErrFileTooLarge once more
// than Limit bytes have been read. A zero Limit disables the check.
type LimitedReader struct {
	R     io.Reader
	Limit int64
	N     int64
}

func (l *LimitedReader) Read(p []byte) (int, error) {
	n, err := l.R.Read(p)
	l.N += int64(n)
	if l.Limit > 0 && l.N > l.Limit {
		return n, ErrFileTooLarge
	}
	return n, err
}
