package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/importer/internal/importer"
	"github.com/spf13/cast"
)

// ReadCSV reads a delimited file into a table. The delimiter is detected
// from the first line unless opts.Comma is set.
func ReadCSV(r io.Reader, opts Options) (importer.Table, error) {
	decoded, err := Decoder(r, opts.Charset)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(decoded)
	comma := opts.Comma
	if comma == 0 {
		comma = sniffDelimiter(br)
	}

	reader := csv.NewReader(br)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var table importer.Table
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, pe.Line, pe.Err)
			}
			return nil, err
		}

		header := len(table) == 0
		if !header && blankRecord(record) {
			continue
		}
		table = append(table, csvRow(record, header))

		if opts.MaxRows > 0 && len(table) > opts.MaxRows+1 {
			break
		}
	}

	if len(table) == 0 {
		return nil, ErrEmptyFile
	}
	return table, nil
}

// sniffDelimiter picks the most frequent of comma, semicolon and tab in the
// first line. Spreadsheet programs in many locales export with semicolons.
func sniffDelimiter(br *bufio.Reader) rune {
	line, _ := br.Peek(4096)
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	best, bestCount := ',', 0
	for _, c := range []rune{',', ';', '\t'} {
		if n := bytes.Count(line, []byte(string(c))); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// csvRow converts text fields to cells. Header cells stay strings; data
// cells become numbers when they look like one.
func csvRow(record []string, header bool) importer.Row {
	row := make(importer.Row, len(record))
	for i, field := range record {
		field = strings.TrimSpace(field)
		switch {
		case field == "":
			row[i] = importer.Cell{}
		case header:
			row[i] = importer.Cell{Value: field}
		default:
			row[i] = importer.Cell{Value: textValue(field)}
		}
	}
	return row
}

// textValue returns s as a float64 when it is a plain decimal number. A
// single comma is a decimal comma, so "3,75" and "1,234" read as 3.75 and
// 1.234. Values with leading zeros ("007"), more than one separator
// ("1.000.000", "1,234.5") or more digits than a float64 holds exactly are
// kept as text so account and meter numbers survive unchanged.
func textValue(s string) any {
	if !looksNumeric(s) || significantDigits(s) > maxExactDigits {
		return s
	}
	normalized := s
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		normalized = strings.Replace(s, ",", ".", 1)
	}
	f, err := cast.ToFloat64E(normalized)
	if err != nil {
		return s
	}
	return f
}

// maxExactDigits is the number of decimal digits a float64 always holds.
const maxExactDigits = 15

func significantDigits(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' || (n == 0 && c == '0') {
			continue
		}
		n++
	}
	return n
}

func looksNumeric(s string) bool {
	digits := strings.TrimPrefix(s, "-")
	if digits == "" {
		return false
	}
	if len(digits) > 1 && digits[0] == '0' && digits[1] != '.' && digits[1] != ',' {
		return false
	}
	seps := 0
	for i, c := range digits {
		switch {
		case c >= '0' && c <= '9':
		case c == '.' || c == ',':
			seps++
			if i == 0 || i == len(digits)-1 {
				return false
			}
		default:
			return false
		}
	}
	return seps <= 1
}
