package importer

import (
	"context"
	"time"
)

// ColumnType is the expected type of a cell after coercion.
type ColumnType string

const (
	TypeString ColumnType = "string"
	TypeNumber ColumnType = "number"
	TypeDate   ColumnType = "date"
)

// Valid reports whether t is one of the known column types.
func (t ColumnType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeDate:
		return true
	}
	return false
}

// Column describes one position of the expected header.
type Column struct {
	Name     string     // Header text, compared trimmed and case-insensitively
	Type     ColumnType // Expected cell type after coercion
	Required bool       // A missing value rejects the row
	Label    string     // Display name for templates and reports
}

// DisplayName returns the label, falling back to the name.
func (c Column) DisplayName() string {
	if c.Label != "" {
		return c.Label
	}
	return c.Name
}

// Cell holds a single value: string, a Go number, time.Time, or nil when
// the cell is empty.
type Cell struct {
	Value any
}

// Empty reports whether the cell carries no value.
func (c Cell) Empty() bool { return c.Value == nil }

// String returns the cell value as a string. Dates use the DD.MM.YYYY form.
func (c Cell) String() string {
	switch v := c.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		if v.IsZero() {
			return ""
		}
		return v.Format(DateLayout)
	default:
		s, _ := toString(v)
		return s
	}
}

// Row is an ordered sequence of cells aligned with the column descriptors.
type Row []Cell

// Clone returns a copy of the row. Cell values are immutable so a shallow
// copy of each cell is enough.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Strings renders every cell with Cell.String.
func (r Row) Strings() []string {
	out := make([]string, len(r))
	for i, c := range r {
		out[i] = c.String()
	}
	return out
}

// Table is a header row followed by data rows.
type Table []Row

// ProcessedRow is a data row after normalization.
type ProcessedRow struct {
	Row         Row            // Coerced row, possibly rewritten by the normalizer
	OriginalRow Row            // Row as it appeared in the table
	Addons      map[string]any // Values resolved by the normalizer (ids, parsed fields)

	// ShouldBeReported marks a row that was created but still needs the
	// user's attention. The creator sets it; the engine then reports the row
	// as failed instead of processed.
	ShouldBeReported bool
	Errors           []string
}

// AddError appends a human readable problem with the row.
func (p *ProcessedRow) AddError(msg string) {
	p.Errors = append(p.Errors, msg)
}

// Addon returns a named addon value.
func (p *ProcessedRow) Addon(key string) (any, bool) {
	if p.Addons == nil {
		return nil, false
	}
	v, ok := p.Addons[key]
	return v, ok
}

// SetAddon stores a named addon value.
func (p *ProcessedRow) SetAddon(key string, v any) {
	if p.Addons == nil {
		p.Addons = make(map[string]any)
	}
	p.Addons[key] = v
}

// Progress is the state of a run as reported to observers.
type Progress struct {
	Min     int     `json:"min"`
	Max     int     `json:"max"`
	Current float64 `json:"current"`

	Total     int `json:"total"`     // Data rows in the table
	Processed int `json:"processed"` // Rows that advanced progress
	Imported  int `json:"imported"`  // Rows the creator accepted without a report flag
	Failed    int `json:"failed"`    // Rows reported through the failure handler
}

// Percent returns Current rounded down to a whole number.
func (p Progress) Percent() int {
	return int(p.Current)
}

// Message is a user facing error text.
type Message struct {
	Title string `json:"title" yaml:"title"`
	Text  string `json:"message" yaml:"message"`
}

func (m Message) String() string {
	if m.Title == "" {
		return m.Text
	}
	if m.Text == "" {
		return m.Title
	}
	return m.Title + ": " + m.Text
}

// ErrorMessages are the texts attached to fatal errors and failed rows.
type ErrorMessages struct {
	InvalidColumns Message `yaml:"invalid_columns"`
	TooManyRows    Message `yaml:"too_many_rows"`
	InvalidTypes   Message `yaml:"invalid_types"`

	// EmptyRows, when its text is set, makes a table without data rows fatal.
	EmptyRows Message `yaml:"empty_rows"`

	// Timeout is attached to rows whose creator exceeded Config.CreateTimeout.
	Timeout Message `yaml:"timeout"`
}

// DefaultMessages returns the English messages used when none are configured.
func DefaultMessages() ErrorMessages {
	return ErrorMessages{
		InvalidColumns: Message{Title: "Invalid columns", Text: "The header does not match the expected columns"},
		TooManyRows:    Message{Title: "Too many rows", Text: "The file has more rows than allowed in a single import"},
		InvalidTypes:   Message{Title: "Invalid data", Text: "The row has missing or invalid values"},
		Timeout:        Message{Title: "Timed out", Text: "Creating the row took too long"},
	}
}

func (m ErrorMessages) withDefaults() ErrorMessages {
	d := DefaultMessages()
	if m.InvalidColumns == (Message{}) {
		m.InvalidColumns = d.InvalidColumns
	}
	if m.TooManyRows == (Message{}) {
		m.TooManyRows = d.TooManyRows
	}
	if m.InvalidTypes == (Message{}) {
		m.InvalidTypes = d.InvalidTypes
	}
	if m.Timeout == (Message{}) {
		m.Timeout = d.Timeout
	}
	return m
}

// RowNormalizer maps a coerced row to its processed form. Returning a nil
// row is the same as returning &ProcessedRow{Row: row}.
type RowNormalizer func(ctx context.Context, row Row) (*ProcessedRow, error)

// RowValidator accepts or rejects a processed row. A false result is a
// per-row failure; an error ends the run.
type RowValidator func(ctx context.Context, row *ProcessedRow) (bool, error)

// ObjectCreator persists a processed row. An error ends the run unless it
// comes from Config.CreateTimeout expiring.
type ObjectCreator func(ctx context.Context, row *ProcessedRow) error

// RowResult describes the outcome of one data row.
type RowResult struct {
	Index  int           `json:"index"`  // Position in the table body
	Line   int           `json:"line"`   // Spreadsheet line; the header is line 1
	Row    *ProcessedRow `json:"-"`
	Reason string        `json:"reason,omitempty"`
}

// Phase is the lifecycle state of an Importer.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseRunning          Phase = "running"
	PhaseCompleted        Phase = "completed"
	PhaseCancelled        Phase = "cancelled"
	PhaseColumnsRejected  Phase = "columns_rejected"
	PhaseRowCountExceeded Phase = "row_count_exceeded"
	PhaseEmptyRejected    Phase = "empty_rejected"
	PhaseFailed           Phase = "failed"
)

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	return p != PhaseIdle && p != PhaseRunning
}
