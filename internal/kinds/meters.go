package kinds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/importer"
	"github.com/JonMunkholm/importer/internal/store"
)

// Meter reading column positions.
const (
	meterAddress = iota
	meterUnitName
	meterUnitType
	meterAccount
	meterResource
	meterNumber
	meterTariffs
	meterValue1
	meterValue2
	meterValue3
	meterValue4
	meterReadingDate
	meterVerificationDate
	meterNextVerificationDate
	meterInstallationDate
)

// MeterReadingColumns is the header of a meter readings file.
var MeterReadingColumns = []importer.Column{
	{Name: "Address", Type: importer.TypeString, Required: true},
	{Name: "Unit name", Type: importer.TypeString, Required: true},
	{Name: "Unit type", Type: importer.TypeString, Required: true},
	{Name: "Account number", Type: importer.TypeString, Required: true},
	{Name: "Resource", Type: importer.TypeString, Required: true},
	{Name: "Meter number", Type: importer.TypeString, Required: true},
	{Name: "Tariffs", Type: importer.TypeNumber, Required: true},
	{Name: "Value 1", Type: importer.TypeString},
	{Name: "Value 2", Type: importer.TypeString},
	{Name: "Value 3", Type: importer.TypeString},
	{Name: "Value 4", Type: importer.TypeString},
	{Name: "Reading date", Type: importer.TypeDate, Required: true},
	{Name: "Verification date", Type: importer.TypeDate},
	{Name: "Next verification date", Type: importer.TypeDate},
	{Name: "Installation date", Type: importer.TypeDate},
}

// Meter resources.
const (
	ResourceHotWater    = "hot_water"
	ResourceColdWater   = "cold_water"
	ResourceElectricity = "electricity"
	ResourceHeatSupply  = "heat_supply"
	ResourceGasSupply   = "gas_supply"
)

var resources = map[string]string{
	"hot water":   ResourceHotWater,
	"cold water":  ResourceColdWater,
	"electricity": ResourceElectricity,
	"heat supply": ResourceHeatSupply,
	"gas supply":  ResourceGasSupply,
}

const maxTariffs = 4

func init() {
	core.Register(core.KindDefinition{
		Info: core.KindInfo{
			Key:         "meter_readings",
			Group:       "meters",
			Label:       "Meter readings",
			Description: "Readings of unit meters. Unknown meters are created from the row.",
		},
		Columns:     MeterReadingColumns,
		NewPipeline: newMeterPipeline,
	})
}

// meterReading is the normalized form of a row, kept as the "reading" addon.
type meterReading struct {
	PropertyID string
	UnitName   string
	UnitType   string
	Account    string
	Resource   string
	Number     string
	Tariffs    int
	Values     [maxTariffs]*float64
	Invalid    [maxTariffs]bool
	Date       time.Time

	VerificationDate     time.Time
	NextVerificationDate time.Time
	InstallationDate     time.Time

	// MeterID is set when the meter already exists.
	MeterID string
}

func (m *meterReading) valueCount() int {
	n := 0
	for _, v := range m.Values {
		if v != nil {
			n++
		}
	}
	return n
}

const addonReading = "reading"

type meterPipeline struct {
	deps       core.Deps
	properties map[string]string
}

func newMeterPipeline(deps core.Deps) core.Pipeline {
	p := &meterPipeline{deps: deps, properties: make(map[string]string)}
	return core.Pipeline{
		Normalizer: p.normalize,
		Validator:  p.validate,
		Creator:    p.create,
	}
}

func dateCell(row importer.Row, i int) time.Time {
	if i >= len(row) {
		return time.Time{}
	}
	t, _ := row[i].Value.(time.Time)
	return t
}

func (p *meterPipeline) normalize(ctx context.Context, row importer.Row) (*importer.ProcessedRow, error) {
	propertyID, err := findProperty(ctx, p.deps.Records, p.properties, cellText(row, meterAddress))
	if err != nil {
		return nil, err
	}

	m := &meterReading{
		PropertyID:           propertyID,
		UnitName:             cellText(row, meterUnitName),
		UnitType:             normalizeUnitType(cellText(row, meterUnitType)),
		Account:              cellText(row, meterAccount),
		Resource:             resources[normalizeAddress(strings.ToLower(cellText(row, meterResource)))],
		Number:               cellText(row, meterNumber),
		Date:                 dateCell(row, meterReadingDate),
		VerificationDate:     dateCell(row, meterVerificationDate),
		NextVerificationDate: dateCell(row, meterNextVerificationDate),
		InstallationDate:     dateCell(row, meterInstallationDate),
	}
	if f, ok := importer.ToFloat(row[meterTariffs].Value); ok {
		m.Tariffs = int(f)
	}
	for i := range m.Values {
		v, ok := parseMeterValue(cellText(row, meterValue1+i))
		m.Values[i] = v
		m.Invalid[i] = !ok
	}

	pr := &importer.ProcessedRow{Row: row}
	pr.SetAddon(addonReading, m)
	return pr, nil
}

func reading(pr *importer.ProcessedRow) *meterReading {
	v, _ := pr.Addon(addonReading)
	m, _ := v.(*meterReading)
	return m
}

func (p *meterPipeline) validate(ctx context.Context, pr *importer.ProcessedRow) (bool, error) {
	msg := p.deps.Messages
	row := pr.Row
	m := reading(pr)
	if m == nil {
		pr.AddError(msg.Row(core.MsgInvalidValue, map[string]string{"column": MeterReadingColumns[meterAddress].Name}))
		return false, nil
	}

	column := func(i int) map[string]string {
		return map[string]string{"column": MeterReadingColumns[i].Name}
	}

	if m.PropertyID == "" {
		pr.AddError(msg.Row(core.MsgUnknownAddress, map[string]string{"value": cellText(row, meterAddress)}))
	}
	if m.UnitName == "" {
		pr.AddError(msg.Row(core.MsgInvalidValue, column(meterUnitName)))
	}
	if m.UnitType == "" {
		pr.AddError(msg.Row(core.MsgUnknownUnitType, map[string]string{
			"value": cellText(row, meterUnitType),
			"known": knownLabels(unitTypes),
		}))
	}
	if m.Account == "" {
		pr.AddError(msg.Row(core.MsgInvalidValue, column(meterAccount)))
	}
	if m.Resource == "" {
		pr.AddError(msg.Row(core.MsgUnknownResource, map[string]string{
			"value": cellText(row, meterResource),
			"known": knownLabels(resources),
		}))
	}
	if m.Number == "" {
		pr.AddError(msg.Row(core.MsgInvalidValue, column(meterNumber)))
	}
	if m.Tariffs < 1 || m.Tariffs > maxTariffs {
		pr.AddError(msg.Row(core.MsgInvalidValue, column(meterTariffs)))
	}

	for i, invalid := range m.Invalid {
		if invalid {
			pr.AddError(msg.Row(core.MsgInvalidValue, column(meterValue1+i)))
		}
	}
	if m.valueCount() == 0 && !m.Invalid[0] {
		pr.AddError(msg.Row(core.MsgInvalidValue, column(meterValue1)))
	}

	// lenient date coercion leaves unparsable dates as the zero time
	if m.Date.IsZero() {
		pr.AddError(msg.Row(core.MsgInvalidDate, column(meterReadingDate)))
	}
	for _, i := range []int{meterVerificationDate, meterNextVerificationDate, meterInstallationDate} {
		if cellText(pr.OriginalRow, i) != "" && dateCell(row, i).IsZero() {
			pr.AddError(msg.Row(core.MsgInvalidDate, column(i)))
		}
	}

	if len(pr.Errors) > 0 {
		return false, nil
	}

	return p.checkExisting(ctx, pr, m)
}

// checkExisting looks the meter up by number and resource within the
// property. A meter registered to another unit rejects the row, and so does
// a reading for the same meter and date.
func (p *meterPipeline) checkExisting(ctx context.Context, pr *importer.ProcessedRow, m *meterReading) (bool, error) {
	msg := p.deps.Messages
	property := store.ToPgUUID(m.PropertyID)

	meterID, found, err := p.deps.Records.FindID(ctx, "meters", map[string]any{
		"property_id": property,
		"number":      m.Number,
		"resource":    m.Resource,
	})
	if err != nil {
		return false, fmt.Errorf("find meter: %w", err)
	}
	if !found {
		return true, nil
	}

	sameUnit, err := p.deps.Records.Exists(ctx, "meters", map[string]any{
		"id":             store.ToPgUUID(meterID),
		"unit_name":      m.UnitName,
		"unit_type":      m.UnitType,
		"account_number": m.Account,
	})
	if err != nil {
		return false, fmt.Errorf("check meter unit: %w", err)
	}
	if !sameUnit {
		pr.AddError(msg.Row(core.MsgMeterOtherUnit, map[string]string{"value": m.Number}))
		return false, nil
	}
	m.MeterID = meterID

	duplicate, err := p.deps.Records.Exists(ctx, "meter_readings", map[string]any{
		"meter_id": store.ToPgUUID(meterID),
		"date":     store.ToPgDate(m.Date),
	})
	if err != nil {
		return false, fmt.Errorf("check reading: %w", err)
	}
	if duplicate {
		pr.AddError(msg.Row(core.MsgDuplicateReading, nil))
		return false, nil
	}
	return true, nil
}

func (p *meterPipeline) create(ctx context.Context, pr *importer.ProcessedRow) error {
	m := reading(pr)

	if m.MeterID == "" {
		id, err := p.deps.Records.InsertRecord(ctx, "meters", map[string]any{
			"property_id":            store.ToPgUUID(m.PropertyID),
			"unit_name":              m.UnitName,
			"unit_type":              m.UnitType,
			"account_number":         m.Account,
			"number":                 m.Number,
			"resource":               m.Resource,
			"number_of_tariffs":      store.ToPgInt4(m.Tariffs),
			"verification_date":      store.ToPgDate(m.VerificationDate),
			"next_verification_date": store.ToPgDate(m.NextVerificationDate),
			"installation_date":      store.ToPgDate(m.InstallationDate),
		})
		if err != nil {
			return fmt.Errorf("create meter %s: %w", m.Number, err)
		}
		m.MeterID = id
	}

	values := map[string]any{
		"meter_id": store.ToPgUUID(m.MeterID),
		"date":     store.ToPgDate(m.Date),
		"source":   "import",
	}
	for i, v := range m.Values {
		var cell any
		if v != nil {
			cell = *v
		}
		values[fmt.Sprintf("value%d", i+1)] = store.ToPgNumeric(cell)
	}

	if _, err := p.deps.Records.InsertRecord(ctx, "meter_readings", values); err != nil {
		return fmt.Errorf("create reading: %w", err)
	}
	return nil
}
