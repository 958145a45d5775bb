/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP API. Domain types stay free of transport
  concerns; handlers convert in both directions.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DECIMALS:
  Hours are shopspring decimals and travel as JSON strings ("10.5").
  Requests accept both strings and numbers.

SEE ALSO:
  - handlers.go: Uses these types
  - recargo/fields.go: PlanillaState, returned as-is for versions
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/recargo-engine/generic"
	"github.com/warp/recargo-engine/recargo"
)

// =============================================================================
// REQUESTS
// =============================================================================

// DayRequest is one work day in a create or update body.
type DayRequest struct {
	Day       int                 `json:"day"`
	Start     decimal.Decimal     `json:"start"`
	End       decimal.Decimal     `json:"end"`
	IsSunday  *bool               `json:"is_sunday,omitempty"`
	IsHoliday *bool               `json:"is_holiday,omitempty"`
	Notes     string              `json:"notes,omitempty"`
	Manual    []ManualLineRequest `json:"manual_lines,omitempty"`
}

// ManualLineRequest overrides the computed hours of one code.
type ManualLineRequest struct {
	Code  string          `json:"code"`
	Hours decimal.Decimal `json:"hours"`
}

// CreatePlanillaRequest is the body of POST /api/planillas.
type CreatePlanillaRequest struct {
	DriverID      string       `json:"driver_id"`
	VehicleID     string       `json:"vehicle_id"`
	CompanyID     string       `json:"company_id"`
	Month         int          `json:"month"`
	Year          int          `json:"year"`
	SheetNumber   string       `json:"sheet_number,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	AttachmentKey string       `json:"attachment_key,omitempty"`
	Days          []DayRequest `json:"work_days"`
	Reason        string       `json:"reason,omitempty"`
}

// UpdatePlanillaRequest is the body of PUT /api/planillas/{id}. Absent
// scalars keep their value; work_days always replaces the day set.
type UpdatePlanillaRequest struct {
	DriverID      *string      `json:"driver_id,omitempty"`
	VehicleID     *string      `json:"vehicle_id,omitempty"`
	CompanyID     *string      `json:"company_id,omitempty"`
	Month         *int         `json:"month,omitempty"`
	Year          *int         `json:"year,omitempty"`
	SheetNumber   *string      `json:"sheet_number,omitempty"`
	Notes         *string      `json:"notes,omitempty"`
	AttachmentKey *string      `json:"attachment_key,omitempty"`
	Days          []DayRequest `json:"work_days"`
	Reason        string       `json:"reason,omitempty"`
}

// BatchRequest names planillas for delete, settle, invoice and reject.
type BatchRequest struct {
	IDs    []string `json:"ids"`
	Reason string   `json:"reason,omitempty"`
}

// RestoreRequest is the body of the restore route.
type RestoreRequest struct {
	Reason string `json:"reason,omitempty"`
}

// SnapshotRequest is the optional body of the manual snapshot route.
type SnapshotRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CalculateRequest previews one shift without storing anything.
type CalculateRequest struct {
	Start     decimal.Decimal `json:"start"`
	End       decimal.Decimal `json:"end"`
	IsSunday  bool            `json:"is_sunday"`
	IsHoliday bool            `json:"is_holiday"`
}

// CreateHolidayRequest adds a calendar entry.
type CreateHolidayRequest struct {
	Date      string `json:"date"` // YYYY-MM-DD
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

func (d DayRequest) toInput() recargo.DayInput {
	in := recargo.DayInput{
		Day:       d.Day,
		Start:     d.Start,
		End:       d.End,
		IsSunday:  d.IsSunday,
		IsHoliday: d.IsHoliday,
		Notes:     d.Notes,
	}
	for _, m := range d.Manual {
		in.Manual = append(in.Manual, recargo.ManualLine{Code: recargo.Code(m.Code), Hours: m.Hours})
	}
	return in
}

func toDayInputs(days []DayRequest) []recargo.DayInput {
	out := make([]recargo.DayInput, len(days))
	for i, d := range days {
		out[i] = d.toInput()
	}
	return out
}

// =============================================================================
// RESPONSES
// =============================================================================

// PlanillaDTO is a live planilla.
type PlanillaDTO struct {
	ID            string `json:"id"`
	DriverID      string `json:"driver_id"`
	VehicleID     string `json:"vehicle_id"`
	CompanyID     string `json:"company_id"`
	Month         int    `json:"month"`
	Year          int    `json:"year"`
	SheetNumber   string `json:"sheet_number,omitempty"`
	Notes         string `json:"notes,omitempty"`
	AttachmentKey string `json:"attachment_key,omitempty"`
	State         string `json:"state"`
	Version       int    `json:"version"`
	recargo.Totals
	CreatedBy string       `json:"created_by"`
	UpdatedBy string       `json:"updated_by"`
	CreatedAt string       `json:"created_at"`
	UpdatedAt string       `json:"updated_at"`
	WorkDays  []WorkDayDTO `json:"work_days,omitempty"`
}

// WorkDayDTO is one day with its surcharge lines.
type WorkDayDTO struct {
	ID         string          `json:"id"`
	Day        int             `json:"day"`
	Start      decimal.Decimal `json:"start"`
	End        decimal.Decimal `json:"end"`
	TotalHours decimal.Decimal `json:"total_hours"`
	IsSunday   bool            `json:"is_sunday"`
	IsHoliday  bool            `json:"is_holiday"`
	Notes      string          `json:"notes,omitempty"`
	Lines      []LineDTO       `json:"lines"`
}

// LineDTO is one surcharge line.
type LineDTO struct {
	Code  string          `json:"code"`
	Hours decimal.Decimal `json:"hours"`
	Auto  bool            `json:"auto"`
}

// VersionDTO is one entry of the version list.
type VersionDTO struct {
	VersionBefore  int           `json:"version_before"`
	VersionAfter   int           `json:"version_after"`
	Action         string        `json:"action"`
	Fields         []string      `json:"fields"`
	Before         generic.State `json:"before,omitempty"`
	After          generic.State `json:"after,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	Actor          string        `json:"actor"`
	At             string        `json:"at"`
	HasSnapshot    bool          `json:"has_snapshot"`
	SnapshotMajor  bool          `json:"snapshot_major,omitempty"`
	SnapshotReason string        `json:"snapshot_reason,omitempty"`
}

// ReconstructionDTO is a planilla at a past version.
type ReconstructionDTO struct {
	State           recargo.PlanillaState `json:"state"`
	SnapshotVersion int                   `json:"snapshot_version"`
	DeltasApplied   int                   `json:"deltas_applied"`
}

// SnapshotDTO describes a stored snapshot without its payload.
type SnapshotDTO struct {
	ID        string `json:"id"`
	Version   int    `json:"version"`
	Major     bool   `json:"major"`
	Reason    string `json:"reason"`
	SizeBytes int    `json:"size_bytes"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
}

// HolidayDTO is one calendar entry.
type HolidayDTO struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toPlanillaDTO(p *recargo.Planilla) PlanillaDTO {
	dto := PlanillaDTO{
		ID:            p.ID,
		DriverID:      p.DriverID,
		VehicleID:     p.VehicleID,
		CompanyID:     p.CompanyID,
		Month:         p.Month,
		Year:          p.Year,
		SheetNumber:   p.SheetNumber,
		Notes:         p.Notes,
		AttachmentKey: p.AttachmentKey,
		State:         string(p.State),
		Version:       p.Version,
		Totals:        p.Totals,
		CreatedBy:     string(p.CreatedBy),
		UpdatedBy:     string(p.UpdatedBy),
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     p.UpdatedAt.Format(time.RFC3339),
	}
	for _, d := range p.Days {
		day := WorkDayDTO{
			ID:         d.ID,
			Day:        d.Day,
			Start:      d.Start,
			End:        d.End,
			TotalHours: d.TotalHours,
			IsSunday:   d.IsSunday,
			IsHoliday:  d.IsHoliday,
			Notes:      d.Notes,
			Lines:      make([]LineDTO, 0, len(d.Lines)),
		}
		for _, l := range d.Lines {
			day.Lines = append(day.Lines, LineDTO{Code: string(l.Code), Hours: l.Hours, Auto: l.Auto})
		}
		dto.WorkDays = append(dto.WorkDays, day)
	}
	return dto
}

func toPlanillaDTOs(ps []recargo.Planilla) []PlanillaDTO {
	out := make([]PlanillaDTO, len(ps))
	for i := range ps {
		out[i] = toPlanillaDTO(&ps[i])
	}
	return out
}

func toVersionDTO(v recargo.VersionInfo) VersionDTO {
	fields := v.Record.Fields
	if fields == nil {
		fields = []string{}
	}
	return VersionDTO{
		VersionBefore:  v.Record.VersionBefore,
		VersionAfter:   v.Record.VersionAfter,
		Action:         string(v.Record.Action),
		Fields:         fields,
		Before:         v.Record.Before,
		After:          v.Record.After,
		Reason:         v.Record.Reason,
		Actor:          string(v.Record.Actor),
		At:             v.Record.At.Format(time.RFC3339),
		HasSnapshot:    v.HasSnapshot,
		SnapshotMajor:  v.SnapshotMajor,
		SnapshotReason: string(v.SnapshotReason),
	}
}

func toSnapshotDTO(s *recargo.Snapshot) SnapshotDTO {
	return SnapshotDTO{
		ID:        s.ID,
		Version:   s.Version,
		Major:     s.Major,
		Reason:    string(s.Reason),
		SizeBytes: s.SizeBytes,
		CreatedBy: string(s.Actor),
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}
}

func toHolidayDTO(h generic.Holiday) HolidayDTO {
	return HolidayDTO{
		ID:        h.ID,
		Date:      h.Date.Format("2006-01-02"),
		Name:      h.Name,
		Recurring: h.Recurring,
	}
}
