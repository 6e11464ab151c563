// Package kinds registers the built-in import kinds: helpdesk contacts and
// meter readings. Importing the package for its side effects makes them
// available through core.Get.
package kinds

import (
	"net/mail"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/JonMunkholm/importer/internal/importer"
)

// Unit types stored with contacts and meters.
const (
	UnitFlat       = "flat"
	UnitApartment  = "apartment"
	UnitParking    = "parking"
	UnitWarehouse  = "warehouse"
	UnitCommercial = "commercial"
)

// unitTypes maps the lowercased spreadsheet label to the stored unit type.
var unitTypes = map[string]string{
	"flat":       UnitFlat,
	"apartment":  UnitApartment,
	"parking":    UnitParking,
	"warehouse":  UnitWarehouse,
	"commercial": UnitCommercial,
}

var (
	phoneSplit    = regexp.MustCompile(`[,;.]+`)
	phoneStrip    = regexp.MustCompile(`[^0-9+,;.]`)
	phoneE164     = regexp.MustCompile(`^\+\d{10,15}$`)
	specialChars  = regexp.MustCompile(`[!@#$%^&*()+=\[\]{};:"\\|<>/?~]`)
	spaceSequence = regexp.MustCompile(`\s+`)
)

// cellText returns the trimmed text of cell i, or "" when the row is short.
func cellText(row importer.Row, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i].String())
}

// normalizeAddress collapses runs of whitespace so addresses typed with
// extra spaces still match.
func normalizeAddress(s string) string {
	return spaceSequence.ReplaceAllString(strings.TrimSpace(s), " ")
}

// normalizeUnitType returns the stored unit type for a label, or "".
func normalizeUnitType(s string) string {
	return unitTypes[strings.ToLower(strings.TrimSpace(s))]
}

// knownLabels returns the keys of m sorted, joined for messages.
func knownLabels(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}

// splitPhones splits a phone cell into its raw parts.
func splitPhones(s string) []string {
	var parts []string
	for _, p := range phoneSplit.Split(phoneStrip.ReplaceAllString(s, ""), -1) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// normalizePhone returns the E.164 form of a phone number, or "" if it is
// not one. A leading 8 is the domestic prefix for +7.
func normalizePhone(p string) string {
	switch {
	case strings.HasPrefix(p, "+"):
	case strings.HasPrefix(p, "8") && len(p) == 11:
		p = "+7" + p[1:]
	case strings.HasPrefix(p, "7") && len(p) == 11:
		p = "+" + p
	case len(p) == 10:
		p = "+7" + p
	default:
		p = "+" + p
	}
	if !phoneE164.MatchString(p) {
		return ""
	}
	return p
}

// normalizeEmail returns the lowercased address, or "" if s is not a
// plain email address.
func normalizeEmail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return ""
	}
	return strings.ToLower(addr.Address)
}

// parseMeterValue reads a meter reading. Empty cells are absent; commas
// are accepted as the decimal separator. Negative values are invalid.
func parseMeterValue(s string) (value *float64, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, true
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || f < 0 {
		return nil, false
	}
	return &f, true
}
