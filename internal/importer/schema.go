package importer

import (
	"strings"
	"time"

	"github.com/spf13/cast"
)

// DateLayout is the DD.MM.YYYY form date strings are parsed with.
const DateLayout = "02.01.2006"

// parse layout accepts one or two digit days and months
const dateParseLayout = "2.1.2006"

// ColumnsValid reports whether header matches columns position by position.
// String header cells are trimmed and lowercased before comparison; other
// values are compared as they are and therefore never match.
func ColumnsValid(columns []Column, header Row) bool {
	if len(header) != len(columns) {
		return false
	}
	for i, col := range columns {
		v := header[i].Value
		if s, ok := v.(string); ok {
			v = normalizeName(s)
		}
		if v != normalizeName(col.Name) {
			return false
		}
	}
	return true
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateRow checks row against columns and returns a coerced copy.
//
// A nil value in a required column rejects the row. Numbers in string
// columns become their decimal text. Strings in date columns are parsed as
// DD.MM.YYYY; with strictDates an unparsable string rejects the row,
// otherwise it becomes the zero time and the row passes. Any other mismatch
// between the value and the column type rejects the row.
//
// Cells missing at the end of a short row count as nil. Cells beyond the
// last column are copied unchanged. row itself is never modified.
func ValidateRow(columns []Column, row Row, strictDates bool) (Row, bool) {
	n := len(columns)
	if len(row) > n {
		n = len(row)
	}
	out := make(Row, n)
	copy(out, row)

	for i, col := range columns {
		v := out[i].Value
		if v == nil {
			if col.Required {
				return nil, false
			}
			continue
		}

		switch col.Type {
		case TypeString:
			switch {
			case isString(v):
			case isNumber(v):
				s, err := toString(v)
				if err != nil {
					return nil, false
				}
				out[i].Value = s
			default:
				return nil, false
			}
		case TypeNumber:
			if !isNumber(v) {
				return nil, false
			}
		case TypeDate:
			switch tv := v.(type) {
			case time.Time:
			case string:
				t, ok := ParseDate(tv, strictDates)
				if !ok {
					return nil, false
				}
				out[i].Value = t
			default:
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return out, true
}

// ParseDate parses a DD.MM.YYYY string. In strict mode anything else fails.
// In lenient mode a trailing time part is ignored and an unparsable value
// yields the zero time with ok set to true.
func ParseDate(s string, strict bool) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateParseLayout, s); err == nil {
		return t, true
	}
	if strict {
		return time.Time{}, false
	}
	if fields := strings.Fields(s); len(fields) > 1 {
		if t, err := time.Parse(dateParseLayout, fields[0]); err == nil {
			return t, true
		}
	}
	return time.Time{}, true
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

func toString(v any) (string, error) {
	return cast.ToStringE(v)
}

// ToFloat returns a numeric cell value as float64.
func ToFloat(v any) (float64, bool) {
	if !isNumber(v) {
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}
