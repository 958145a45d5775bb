package recargo

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/recargo-engine/generic"
)

// =============================================================================
// VERSIONED FIELDS - The explicit comparison contract of a planilla
// =============================================================================

// Field names as they appear in change records and snapshots.
const (
	FieldSheetNumber   = "sheet_number"
	FieldState         = "state"
	FieldNotes         = "notes"
	FieldAttachmentKey = "attachment_key"
	FieldDriverID      = "driver_id"
	FieldVehicleID     = "vehicle_id"
	FieldCompanyID     = "company_id"
	FieldMonth         = "month"
	FieldYear          = "year"
	FieldTotalDays     = "total_days"
	FieldTotalHours    = "total_hours"
	FieldTotalHED      = "total_hed"
	FieldTotalHEN      = "total_hen"
	FieldTotalHEFD     = "total_hefd"
	FieldTotalHEFN     = "total_hefn"
	FieldTotalRN       = "total_rn"
	FieldTotalRD       = "total_rd"

	// FieldWorkDays carries the whole day collection. It is compared and
	// replayed as one value, never field by field.
	FieldWorkDays = "work_days"
)

// ScalarFields are the planilla's own columns that history tracks.
// Adding a column to Planilla without listing it here keeps it out of
// history on purpose; extend this list to version it.
var ScalarFields = []string{
	FieldSheetNumber, FieldState, FieldNotes, FieldAttachmentKey,
	FieldDriverID, FieldVehicleID, FieldCompanyID, FieldMonth, FieldYear,
	FieldTotalDays, FieldTotalHours,
	FieldTotalHED, FieldTotalHEN, FieldTotalHEFD, FieldTotalHEFN, FieldTotalRN, FieldTotalRD,
}

// ComparedFields is what an update diffs: scalars plus the day collection.
var ComparedFields = append(append([]string{}, ScalarFields...), FieldWorkDays)

// CriticalFields force a snapshot whenever they change.
var CriticalFields = []string{FieldState, FieldSheetNumber, FieldAttachmentKey}

// Fields are the versioned scalar values of a planilla.
type Fields struct {
	SheetNumber   string `json:"sheet_number"`
	State         State  `json:"state"`
	Notes         string `json:"notes"`
	AttachmentKey string `json:"attachment_key"`
	DriverID      string `json:"driver_id"`
	VehicleID     string `json:"vehicle_id"`
	CompanyID     string `json:"company_id"`
	Month         int    `json:"month"`
	Year          int    `json:"year"`
	Totals
}

// Fields extracts the versioned scalars.
func (p *Planilla) Fields() Fields {
	return Fields{
		SheetNumber:   p.SheetNumber,
		State:         p.State,
		Notes:         p.Notes,
		AttachmentKey: p.AttachmentKey,
		DriverID:      p.DriverID,
		VehicleID:     p.VehicleID,
		CompanyID:     p.CompanyID,
		Month:         p.Month,
		Year:          p.Year,
		Totals:        p.Totals,
	}
}

// ApplyFields overwrites the versioned scalars.
func (p *Planilla) ApplyFields(f Fields) {
	p.SheetNumber = f.SheetNumber
	p.State = f.State
	p.Notes = f.Notes
	p.AttachmentKey = f.AttachmentKey
	p.DriverID = f.DriverID
	p.VehicleID = f.VehicleID
	p.CompanyID = f.CompanyID
	p.Month = f.Month
	p.Year = f.Year
	p.Totals = f.Totals
}

// =============================================================================
// PLANILLA STATE - Self-contained serialization used by snapshots and replay
// =============================================================================

// TypeRef is a surcharge type reduced to its descriptive fields.
type TypeRef struct {
	Name       string          `json:"name"`
	Percentage decimal.Decimal `json:"percentage"`
}

// LineState is a surcharge line inside a PlanillaState.
type LineState struct {
	Code  Code            `json:"code"`
	Hours decimal.Decimal `json:"hours"`
	Auto  bool            `json:"auto"`
	Type  *TypeRef        `json:"type,omitempty"`
}

// DayState is a work day inside a PlanillaState.
type DayState struct {
	Day        int             `json:"day"`
	Start      decimal.Decimal `json:"start"`
	End        decimal.Decimal `json:"end"`
	TotalHours decimal.Decimal `json:"total_hours"`
	IsSunday   bool            `json:"is_sunday"`
	IsHoliday  bool            `json:"is_holiday"`
	Notes      string          `json:"notes,omitempty"`
	Lines      []LineState     `json:"lines"`
}

// PlanillaState is a planilla at one version: scalars plus every live day.
type PlanillaState struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Fields
	Days []DayState `json:"work_days"`
}

// Catalog maps codes to their descriptive type.
type Catalog map[Code]SurchargeType

// StateOf captures a planilla with its loaded days.
func StateOf(p *Planilla, catalog Catalog) PlanillaState {
	return PlanillaState{
		ID:      p.ID,
		Version: p.Version,
		Fields:  p.Fields(),
		Days:    dayStates(p.Days, catalog),
	}
}

func dayStates(days []WorkDay, catalog Catalog) []DayState {
	out := make([]DayState, 0, len(days))
	for _, d := range days {
		ds := DayState{
			Day:        d.Day,
			Start:      d.Start,
			End:        d.End,
			TotalHours: d.TotalHours,
			IsSunday:   d.IsSunday,
			IsHoliday:  d.IsHoliday,
			Notes:      d.Notes,
			Lines:      make([]LineState, 0, len(d.Lines)),
		}
		for _, l := range d.Lines {
			ls := LineState{Code: l.Code, Hours: l.Hours, Auto: l.Auto}
			if t, ok := catalog[l.Code]; ok {
				ls.Type = &TypeRef{Name: t.Name, Percentage: t.Percentage}
			}
			ds.Lines = append(ds.Lines, ls)
		}
		sortLines(ds.Lines)
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

func sortLines(lines []LineState) {
	order := make(map[Code]int, len(Codes))
	for i, c := range Codes {
		order[c] = i
	}
	sort.SliceStable(lines, func(i, j int) bool { return order[lines[i].Code] < order[lines[j].Code] })
}

// withoutTypes drops catalog descriptors so that day sets compare on
// hours and flags only.
func withoutTypes(days []DayState) []DayState {
	out := make([]DayState, len(days))
	for i, d := range days {
		d.Lines = append([]LineState(nil), d.Lines...)
		for j := range d.Lines {
			d.Lines[j].Type = nil
		}
		out[i] = d
	}
	return out
}

// Generic splits the state into raw fields for diffing and replay.
func (s PlanillaState) Generic() (generic.State, error) {
	return generic.ToState(s)
}

// StateFromGeneric rebuilds a PlanillaState.
func StateFromGeneric(g generic.State) (PlanillaState, error) {
	var s PlanillaState
	if err := generic.FromState(g, &s); err != nil {
		return PlanillaState{}, fmt.Errorf("decode planilla state: %w", err)
	}
	return s, nil
}

// compareStates diffs two states over fields. The day collection is
// compared without catalog descriptors but recorded with them.
func compareStates(fields []string, before, after PlanillaState) (generic.ChangeSet, error) {
	bFull, err := before.Generic()
	if err != nil {
		return generic.ChangeSet{}, err
	}
	aFull, err := after.Generic()
	if err != nil {
		return generic.ChangeSet{}, err
	}

	bCmp, aCmp := before, after
	bCmp.Days, aCmp.Days = withoutTypes(before.Days), withoutTypes(after.Days)
	bg, err := bCmp.Generic()
	if err != nil {
		return generic.ChangeSet{}, err
	}
	ag, err := aCmp.Generic()
	if err != nil {
		return generic.ChangeSet{}, err
	}

	cs := generic.Diff(fields, bg, ag)
	for _, f := range cs.Fields {
		if v, ok := bFull[f]; ok {
			cs.Old[f] = v
		}
		if v, ok := aFull[f]; ok {
			cs.New[f] = v
		}
	}
	return cs, nil
}
