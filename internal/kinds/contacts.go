package kinds

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/importer"
	"github.com/JonMunkholm/importer/internal/store"
)

// Contact column positions.
const (
	contactAddress = iota
	contactUnit
	contactUnitType
	contactPhone
	contactName
	contactEmail
	contactRole
)

// ContactColumns is the header of a contacts file.
var ContactColumns = []importer.Column{
	{Name: "Address", Type: importer.TypeString, Required: true},
	{Name: "Unit", Type: importer.TypeString, Required: true},
	{Name: "Unit type", Type: importer.TypeString, Required: true},
	{Name: "Phone", Type: importer.TypeString, Required: true},
	{Name: "Name", Type: importer.TypeString, Required: true},
	{Name: "Email", Type: importer.TypeString},
	{Name: "Role", Type: importer.TypeString},
}

// Addon keys set by the contact normalizer.
const (
	addonPropertyID = "property_id"
	addonUnitType   = "unit_type"
	addonPhones     = "phones"
	addonName       = "name"
	addonEmail      = "email"
	addonRoleID     = "role_id"
)

func init() {
	core.Register(core.KindDefinition{
		Info: core.KindInfo{
			Key:         "contacts",
			Group:       "helpdesk",
			Label:       "Contacts",
			Description: "Residents with their phone numbers. A cell may list several phones separated by commas or semicolons.",
		},
		Columns:     ContactColumns,
		NewPipeline: newContactPipeline,
	})
}

type contactPipeline struct {
	deps core.Deps

	// per job caches, rows are processed sequentially
	properties map[string]string
	roles      map[string]string
}

func newContactPipeline(deps core.Deps) core.Pipeline {
	p := &contactPipeline{
		deps:       deps,
		properties: make(map[string]string),
		roles:      make(map[string]string),
	}
	return core.Pipeline{
		Normalizer: p.normalize,
		Validator:  p.validate,
		Creator:    p.create,
	}
}

func (p *contactPipeline) normalize(ctx context.Context, row importer.Row) (*importer.ProcessedRow, error) {
	pr := &importer.ProcessedRow{Row: row}

	propertyID, err := findProperty(ctx, p.deps.Records, p.properties, cellText(row, contactAddress))
	if err != nil {
		return nil, err
	}
	pr.SetAddon(addonPropertyID, propertyID)
	pr.SetAddon(addonUnitType, normalizeUnitType(cellText(row, contactUnitType)))
	pr.SetAddon(addonName, cellText(row, contactName))
	pr.SetAddon(addonEmail, normalizeEmail(cellText(row, contactEmail)))

	raw := splitPhones(cellText(row, contactPhone))
	phones := make([]string, len(raw))
	for i, r := range raw {
		phones[i] = normalizePhone(r)
	}
	pr.SetAddon(addonPhones, phones)

	if role := strings.ToLower(cellText(row, contactRole)); role != "" {
		id, err := p.findRole(ctx, role)
		if err != nil {
			return nil, err
		}
		pr.SetAddon(addonRoleID, id)
	}

	return pr, nil
}

func (p *contactPipeline) findRole(ctx context.Context, name string) (string, error) {
	if id, ok := p.roles[name]; ok {
		return id, nil
	}
	id, _, err := p.deps.Records.FindID(ctx, "contact_roles", map[string]any{"name": name})
	if err != nil {
		return "", fmt.Errorf("find role: %w", err)
	}
	p.roles[name] = id
	return id, nil
}

func (p *contactPipeline) validate(ctx context.Context, pr *importer.ProcessedRow) (bool, error) {
	msg := p.deps.Messages
	row := pr.Row

	propertyID := addonString(pr, addonPropertyID)
	if propertyID == "" {
		pr.AddError(msg.Row(core.MsgUnknownAddress, map[string]string{"value": cellText(row, contactAddress)}))
	}

	name := addonString(pr, addonName)
	if name == "" || specialChars.MatchString(name) {
		pr.AddError(msg.Row(core.MsgInvalidValue, map[string]string{"column": ContactColumns[contactName].Name}))
	}

	if email := cellText(row, contactEmail); email != "" && addonString(pr, addonEmail) == "" {
		pr.AddError(msg.Row(core.MsgInvalidEmail, map[string]string{"value": email}))
	}

	unitName := cellText(row, contactUnit)
	if unitName == "" {
		pr.AddError(msg.Row(core.MsgInvalidValue, map[string]string{"column": ContactColumns[contactUnit].Name}))
	}

	unitType := addonString(pr, addonUnitType)
	if unitType == "" {
		pr.AddError(msg.Row(core.MsgUnknownUnitType, map[string]string{
			"value": cellText(row, contactUnitType),
			"known": knownLabels(unitTypes),
		}))
	}

	phones := validPhones(pr)
	if len(phones) == 0 {
		pr.AddError(msg.Row(core.MsgInvalidPhone, map[string]string{"value": cellText(row, contactPhone)}))
	}

	if role := cellText(row, contactRole); role != "" && addonString(pr, addonRoleID) == "" {
		pr.AddError(msg.Row(core.MsgUnknownRole, map[string]string{"value": role}))
	}

	if propertyID != "" && unitName != "" && unitType != "" {
		for _, phone := range phones {
			exists, err := p.deps.Records.Exists(ctx, "contacts", map[string]any{
				"property_id": store.ToPgUUID(propertyID),
				"unit_name":   unitName,
				"unit_type":   unitType,
				"phone":       phone,
			})
			if err != nil {
				return false, fmt.Errorf("check contact: %w", err)
			}
			if exists {
				pr.AddError(msg.Row(core.MsgDuplicateContact, map[string]string{"value": phone}))
				break
			}
		}
	}

	return len(pr.Errors) == 0, nil
}

// create inserts one contact per phone. Phones that are invalid or fail to
// insert are written back into the phone cell and the row is reported.
func (p *contactPipeline) create(ctx context.Context, pr *importer.ProcessedRow) error {
	raw := splitPhones(cellText(pr.Row, contactPhone))
	phones, _ := pr.Addon(addonPhones)
	normalized, _ := phones.([]string)

	var invalid, failed []string
	for i, phone := range normalized {
		if phone == "" {
			invalid = append(invalid, raw[i])
			continue
		}

		_, err := p.deps.Records.InsertRecord(ctx, "contacts", map[string]any{
			"property_id": store.ToPgUUID(addonString(pr, addonPropertyID)),
			"unit_name":   cellText(pr.Row, contactUnit),
			"unit_type":   addonString(pr, addonUnitType),
			"phone":       phone,
			"name":        addonString(pr, addonName),
			"email":       store.ToPgText(addonString(pr, addonEmail)),
			"role_id":     store.ToPgUUID(addonString(pr, addonRoleID)),
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.deps.Logger.Warn("create contact", "phone", phone, "error", err)
			failed = append(failed, phone)
		}
	}

	if len(invalid) == 0 && len(failed) == 0 {
		return nil
	}

	msg := p.deps.Messages
	if len(invalid) > 0 {
		pr.AddError(msg.Row(core.MsgInvalidPhone, map[string]string{"value": strings.Join(invalid, "; ")}))
	}
	if len(failed) > 0 {
		pr.AddError(msg.Row(core.MsgCreationFailed, map[string]string{"value": strings.Join(failed, "; ")}))
	}

	// report only the phones that were not created
	remaining := importer.Cell{Value: strings.Join(append(failed, invalid...), "; ")}
	pr.Row[contactPhone] = remaining
	if len(pr.OriginalRow) > contactPhone {
		pr.OriginalRow[contactPhone] = remaining
	}
	pr.ShouldBeReported = true
	return nil
}

func validPhones(pr *importer.ProcessedRow) []string {
	v, _ := pr.Addon(addonPhones)
	all, _ := v.([]string)
	var out []string
	for _, p := range all {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func addonString(pr *importer.ProcessedRow, key string) string {
	v, _ := pr.Addon(key)
	s, _ := v.(string)
	return s
}

// findProperty resolves an address to a property id using cache. A missing
// property is "" with a nil error.
func findProperty(ctx context.Context, records core.RecordStore, cache map[string]string, address string) (string, error) {
	address = normalizeAddress(address)
	if address == "" {
		return "", nil
	}
	if id, ok := cache[address]; ok {
		return id, nil
	}
	id, _, err := records.FindID(ctx, "properties", map[string]any{"address": address})
	if err != nil {
		return "", fmt.Errorf("find property: %w", err)
	}
	cache[address] = id
	return id, nil
}
