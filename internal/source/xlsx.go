package source

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/importer/internal/importer"
	"github.com/xuri/excelize/v2"
)

// ReadXLSX reads one sheet of a workbook into a table.
func ReadXLSX(r io.Reader, opts Options) (importer.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(f.GetActiveSheetIndex())
	} else if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("sheet %q not found", sheet)
	}

	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	cells := newCellReader(f, sheet)

	var table importer.Table
	for i, values := range raw {
		header := len(table) == 0
		if !header && blankRecord(values) {
			continue
		}

		row := make(importer.Row, len(values))
		for j, v := range values {
			if strings.TrimSpace(v) == "" {
				continue
			}
			if header {
				row[j] = importer.Cell{Value: strings.TrimSpace(v)}
				continue
			}
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return nil, err
			}
			value, err := cells.value(cell, v)
			if err != nil {
				return nil, fmt.Errorf("cell %s: %w", cell, err)
			}
			row[j] = importer.Cell{Value: value}
		}
		table = append(table, row)

		if opts.MaxRows > 0 && len(table) > opts.MaxRows+1 {
			break
		}
	}

	if len(table) == 0 {
		return nil, ErrEmptyFile
	}
	return table, nil
}

// cellReader maps stored cells of one sheet to Go values. Whether a number
// is a date depends only on its number format, which is looked up once per
// style.
type cellReader struct {
	f        *excelize.File
	sheet    string
	date1904 bool
	isDate   map[int]bool
}

func newCellReader(f *excelize.File, sheet string) *cellReader {
	r := &cellReader{f: f, sheet: sheet, isDate: make(map[int]bool)}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		r.date1904 = *props.Date1904
	}
	return r
}

// value returns time.Time for numbers with a date or time format, float64
// for other numbers and the displayed text for everything else.
func (r *cellReader) value(cell, raw string) (any, error) {
	typ, err := r.f.GetCellType(r.sheet, cell)
	if err != nil {
		return nil, err
	}

	switch typ {
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return strings.TrimSpace(raw), nil
		}
		date, err := r.dateFormatted(cell)
		if err != nil {
			return nil, err
		}
		if date {
			if t, err := excelize.ExcelDateToTime(n, r.date1904); err == nil {
				return t, nil
			}
		}
		return n, nil
	case excelize.CellTypeDate:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t, nil
		}
		return strings.TrimSpace(raw), nil
	default:
		shown, err := r.f.GetCellValue(r.sheet, cell)
		if err != nil {
			return nil, err
		}
		return strings.TrimSpace(shown), nil
	}
}

func (r *cellReader) dateFormatted(cell string) (bool, error) {
	id, err := r.f.GetCellStyle(r.sheet, cell)
	if err != nil {
		return false, err
	}
	if date, ok := r.isDate[id]; ok {
		return date, nil
	}

	date := false
	if style, err := r.f.GetStyle(id); err == nil {
		date = isDateNumFmt(style.NumFmt)
		if style.CustomNumFmt != nil {
			date = isDateFormatCode(*style.CustomNumFmt)
		}
	}
	r.isDate[id] = date
	return date, nil
}

// isDateNumFmt reports whether a built-in number format shows a date or a
// time, including the East Asian date formats.
func isDateNumFmt(id int) bool {
	switch {
	case id >= 14 && id <= 22,
		id >= 27 && id <= 36,
		id >= 45 && id <= 47,
		id >= 50 && id <= 58:
		return true
	}
	return false
}

// isDateFormatCode reports whether a custom format code uses day, month,
// year or hour tokens outside of quoted text, escapes and [..] sections.
func isDateFormatCode(code string) bool {
	if i := strings.IndexByte(code, ';'); i >= 0 {
		code = code[:i]
	}
	quoted, bracket, escaped := false, false, false
	for _, c := range strings.ToLower(code) {
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == '[':
			bracket = true
		case c == ']':
			bracket = false
		case bracket:
		case c == 'd', c == 'm', c == 'y', c == 'h':
			return true
		}
	}
	return false
}

// WriteTemplate writes an empty workbook whose first row is the header
// expected for columns.
func WriteTemplate(w io.Writer, columns []importer.Column) error {
	header := make([]any, len(columns))
	for i, col := range columns {
		header[i] = col.Name
	}
	return writeWorkbook(w, header, nil)
}

// FailedRow is a row to write back to the user with its problems.
type FailedRow struct {
	Cells  []string
	Errors []string
}

// WriteFailedRows writes rejected rows in the upload layout with an extra
// errors column, so users can fix and re-upload the file.
func WriteFailedRows(w io.Writer, columns []importer.Column, errorsHeader string, rows []FailedRow) error {
	header := make([]any, 0, len(columns)+1)
	for _, col := range columns {
		header = append(header, col.Name)
	}
	header = append(header, errorsHeader)

	body := make([][]any, len(rows))
	for i, row := range rows {
		values := make([]any, 0, len(row.Cells)+1)
		for _, c := range row.Cells {
			values = append(values, EscapeFormula(c))
		}
		for len(values) < len(columns) {
			values = append(values, "")
		}
		values = append(values, EscapeFormula(strings.Join(row.Errors, ", \n")))
		body[i] = values
	}
	return writeWorkbook(w, header, body)
}

func writeWorkbook(w io.Writer, header []any, rows [][]any) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := sw.SetColWidth(1, len(header), 24); err != nil {
		return err
	}
	if err := sw.SetRow("A1", header, excelize.RowOpts{StyleID: bold}); err != nil {
		return err
	}

	for i, values := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, values); err != nil {
			return err
		}
	}

	if err := sw.Flush(); err != nil {
		return err
	}
	return f.Write(w)
}

// EscapeFormula prefixes text that a spreadsheet program would evaluate
// as a formula with a quote. Plain negative numbers are left alone.
func EscapeFormula(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return "'" + s
		}
	}
	return s
}
