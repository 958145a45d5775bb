// Package recargo implements the driver timesheet ("planilla de recargos")
// domain: surcharge calculation, the work-day ledger, change history,
// snapshots, version reconstruction and the transactional lifecycle.
// It uses the generic engine for errors, diffing, replay and snapshot policy.
package recargo

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/recargo-engine/generic"
)

// =============================================================================
// SURCHARGE CODES
// =============================================================================

// Code identifies a surcharge category.
type Code string

const (
	CodeHED  Code = "HED"  // Day overtime
	CodeHEN  Code = "HEN"  // Night overtime
	CodeHEFD Code = "HEFD" // Sunday/holiday day overtime
	CodeHEFN Code = "HEFN" // Sunday/holiday night overtime
	CodeRN   Code = "RN"   // Night differential
	CodeRD   Code = "RD"   // Sunday/holiday differential
)

// Codes lists every surcharge code in reporting order.
var Codes = []Code{CodeHED, CodeHEN, CodeHEFD, CodeHEFN, CodeRN, CodeRD}

// Valid reports whether c is one of the six known codes.
func (c Code) Valid() bool {
	for _, k := range Codes {
		if k == c {
			return true
		}
	}
	return false
}

// SurchargeType is the descriptive catalog entry for a code. Percentages
// are informational; monetary conversion happens elsewhere.
type SurchargeType struct {
	Code        Code            `json:"code"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category"` // "overtime" or "surcharge"
	Percentage  decimal.Decimal `json:"percentage"`
	IsOvertime  bool            `json:"is_overtime"`
	Order       int             `json:"order"`
}

// =============================================================================
// PLANILLA STATE MACHINE
// =============================================================================

// State of a planilla: pending -> settled -> invoiced.
type State string

const (
	StatePending  State = "pending"
	StateSettled  State = "settled"
	StateInvoiced State = "invoiced"
)

// Editable is true for pending and settled planillas.
func (s State) Editable() bool {
	return s == StatePending || s == StateSettled
}

// Action is the kind of a change record.
type Action string

const (
	ActionCreation    Action = "creation"
	ActionUpdate      Action = "update"
	ActionDeletion    Action = "deletion"
	ActionRestoration Action = "restoration"
	ActionApproval    Action = "approval"
	ActionRejection   Action = "rejection"
)

// =============================================================================
// ENTITIES
// =============================================================================

// Totals are derived from live work days; never written by callers.
type Totals struct {
	Days  int             `json:"total_days"`
	Hours decimal.Decimal `json:"total_hours"`
	HED   decimal.Decimal `json:"total_hed"`
	HEN   decimal.Decimal `json:"total_hen"`
	HEFD  decimal.Decimal `json:"total_hefd"`
	HEFN  decimal.Decimal `json:"total_hefn"`
	RN    decimal.Decimal `json:"total_rn"`
	RD    decimal.Decimal `json:"total_rd"`
}

// ByCode returns the total for a surcharge code.
func (t Totals) ByCode(c Code) decimal.Decimal {
	switch c {
	case CodeHED:
		return t.HED
	case CodeHEN:
		return t.HEN
	case CodeHEFD:
		return t.HEFD
	case CodeHEFN:
		return t.HEFN
	case CodeRN:
		return t.RN
	case CodeRD:
		return t.RD
	}
	return decimal.Zero
}

// Planilla is one driver/vehicle/company/month timesheet.
type Planilla struct {
	ID            string
	DriverID      string
	VehicleID     string
	CompanyID     string
	Month         int
	Year          int
	SheetNumber   string // Optional, unique among live planillas
	Notes         string
	State         State
	Version       int
	Totals        Totals
	AttachmentKey string // Opaque object-storage key

	CreatedBy generic.Actor
	UpdatedBy generic.Actor
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time

	// Days is populated by loaders that ask for it.
	Days []WorkDay
}

// WorkDay is one calendar day of a planilla.
type WorkDay struct {
	ID         string
	PlanillaID string
	Day        int
	Start      decimal.Decimal
	End        decimal.Decimal
	TotalHours decimal.Decimal
	IsSunday   bool
	IsHoliday  bool
	Notes      string

	CreatedBy generic.Actor
	UpdatedBy generic.Actor
	CreatedAt time.Time
	UpdatedAt time.Time

	Lines []SurchargeLine
}

// SurchargeLine is the hours of one surcharge code on one day.
type SurchargeLine struct {
	ID        string
	WorkDayID string
	Code      Code
	Hours     decimal.Decimal // Signed; manual adjustments may be negative
	Auto      bool            // false = manual adjustment
	CreatedBy generic.Actor
	CreatedAt time.Time
}

// ChangeRecord is one append-only history entry.
type ChangeRecord struct {
	ID            string
	PlanillaID    string
	Action        Action
	VersionBefore int
	VersionAfter  int
	Fields        []string
	Before        generic.State
	After         generic.State
	Reason        string
	Actor         generic.Actor
	At            time.Time
}

// Snapshot is a full-state capture at one version.
type Snapshot struct {
	ID         string
	PlanillaID string
	Version    int
	Payload    PlanillaState
	Major      bool
	Reason     generic.SnapshotReason
	SizeBytes  int
	Actor      generic.Actor
	CreatedAt  time.Time
}
