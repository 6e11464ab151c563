package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/importer/internal/importer"
)

// Catalogue holds the user facing texts of import jobs.
//
// Import texts may use {columns} (the expected header) and {max} (the row
// limit). Row texts are looked up by key and may use any placeholder the
// caller passes to Row.
type Catalogue struct {
	Import importer.ErrorMessages `yaml:"import"`
	Rows   map[string]string      `yaml:"rows"`
}

// Row message keys used by the built-in kinds.
const (
	MsgUnknownAddress   = "unknown_address"
	MsgUnknownUnitType  = "unknown_unit_type"
	MsgUnknownResource  = "unknown_resource"
	MsgUnknownRole      = "unknown_role"
	MsgInvalidPhone     = "invalid_phone"
	MsgInvalidEmail     = "invalid_email"
	MsgInvalidDate      = "invalid_date"
	MsgInvalidValue     = "invalid_value"
	MsgDuplicateContact = "duplicate_contact"
	MsgDuplicateReading = "duplicate_reading"
	MsgMeterOtherUnit   = "meter_other_unit"
	MsgCreationFailed   = "creation_failed"
)

// DefaultCatalogue returns the English texts.
func DefaultCatalogue() *Catalogue {
	return &Catalogue{
		Import: importer.ErrorMessages{
			InvalidColumns: importer.Message{
				Title: "Invalid columns",
				Text:  "The file must have these columns in this order: {columns}",
			},
			TooManyRows: importer.Message{
				Title: "Too many rows",
				Text:  "A file may contain at most {max} rows",
			},
			InvalidTypes: importer.Message{
				Title: "Invalid data",
				Text:  "The row has missing or invalid values",
			},
			EmptyRows: importer.Message{
				Title: "No rows",
				Text:  "The file has a header but no data rows",
			},
			Timeout: importer.Message{
				Title: "Timed out",
				Text:  "Saving the row took too long",
			},
		},
		Rows: map[string]string{
			MsgUnknownAddress:   "Address {value} was not found",
			MsgUnknownUnitType:  "Unknown unit type {value}. Allowed: {known}",
			MsgUnknownResource:  "Unknown resource {value}. Allowed: {known}",
			MsgUnknownRole:      "Unknown role {value}",
			MsgInvalidPhone:     "Phone number {value} is invalid",
			MsgInvalidEmail:     "Email {value} is invalid",
			MsgInvalidDate:      "Column \"{column}\" must be a date in DD.MM.YYYY format",
			MsgInvalidValue:     "Column \"{column}\" has an invalid value",
			MsgDuplicateContact: "Contact with phone {value} already exists in this unit",
			MsgDuplicateReading: "A reading for this meter and date already exists",
			MsgMeterOtherUnit:   "Meter {value} belongs to another unit",
			MsgCreationFailed:   "The row could not be saved",
		},
	}
}

// LoadCatalogue reads a YAML catalogue from path. Keys missing from the file
// keep their default text. An empty path returns the defaults.
func LoadCatalogue(path string) (*Catalogue, error) {
	cat := DefaultCatalogue()
	if path == "" {
		return cat, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	if err := yaml.Unmarshal(data, cat); err != nil {
		return nil, fmt.Errorf("parse messages %s: %w", path, err)
	}
	return cat, nil
}

// ImportMessages returns the engine messages for a kind with placeholders
// filled in.
func (c *Catalogue) ImportMessages(columns []importer.Column, maxRows int) importer.ErrorMessages {
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = strconv.Quote(col.Name)
	}
	r := strings.NewReplacer(
		"{columns}", strings.Join(names, ", "),
		"{max}", strconv.Itoa(maxRows),
	)

	expand := func(m importer.Message) importer.Message {
		return importer.Message{Title: r.Replace(m.Title), Text: r.Replace(m.Text)}
	}

	return importer.ErrorMessages{
		InvalidColumns: expand(c.Import.InvalidColumns),
		TooManyRows:    expand(c.Import.TooManyRows),
		InvalidTypes:   expand(c.Import.InvalidTypes),
		EmptyRows:      expand(c.Import.EmptyRows),
		Timeout:        expand(c.Import.Timeout),
	}
}

// Row returns the row message for key with {name} placeholders replaced by
// args. Unknown keys return the key itself.
func (c *Catalogue) Row(key string, args map[string]string) string {
	text, ok := c.Rows[key]
	if !ok {
		return key
	}
	if len(args) == 0 {
		return text
	}

	pairs := make([]string, 0, len(args)*2)
	for k, v := range args {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
