package recargo

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/recargo-engine/generic"
)

// =============================================================================
// DAY INPUT
// =============================================================================

// DayInput is one day as submitted by a caller.
type DayInput struct {
	Day   int
	Start decimal.Decimal
	End   decimal.Decimal

	// Nil flags are derived from the calendar date of the planilla.
	IsSunday  *bool
	IsHoliday *bool

	Notes string

	// Manual lines replace the computed line of the same code.
	// Zero-hour manual lines are kept.
	Manual []ManualLine
}

// ManualLine is a caller-supplied surcharge adjustment.
type ManualLine struct {
	Code  Code
	Hours decimal.Decimal
}

var maxHour = decimal.NewFromInt(24)

// Validate checks ranges that do not need the database.
func (in DayInput) Validate() error {
	if in.Day < 1 || in.Day > 31 {
		return generic.Invalid("day", "must be between 1 and 31, got %d", in.Day)
	}
	if in.Start.IsNegative() || in.Start.GreaterThan(maxHour) {
		return generic.Invalid("start", "day %d: must be between 0 and 24, got %s", in.Day, in.Start)
	}
	if in.End.IsNegative() || in.End.GreaterThan(maxHour) {
		return generic.Invalid("end", "day %d: must be between 0 and 24, got %s", in.Day, in.End)
	}
	seen := make(map[Code]bool, len(in.Manual))
	for _, m := range in.Manual {
		if !m.Code.Valid() {
			return generic.Invalid("manual", "day %d: unknown surcharge code %q", in.Day, m.Code)
		}
		if seen[m.Code] {
			return generic.Invalid("manual", "day %d: code %s given twice", in.Day, m.Code)
		}
		seen[m.Code] = true
	}
	return nil
}

// ValidateDays checks every day and their uniqueness within the batch.
func ValidateDays(days []DayInput) error {
	seen := make(map[int]bool, len(days))
	for _, d := range days {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.Day] {
			return generic.Invalid("day", "day %d given twice", d.Day)
		}
		seen[d.Day] = true
	}
	return nil
}

// =============================================================================
// DAY LEDGER - Persisted work days and their surcharge lines
// =============================================================================

// DayLedger writes work days. It never opens transactions; callers pass
// the transaction-bound repository.
type DayLedger struct {
	Clock generic.Clock
}

// AddDay validates one day, classifies it, runs the calculator and persists
// the day followed by its non-zero lines.
func (l DayLedger) AddDay(ctx context.Context, repo Repository, p *Planilla, in DayInput, actor generic.Actor) (*WorkDay, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if _, err := generic.Date(p.Year, p.Month, in.Day); err != nil {
		return nil, err
	}
	exists, err := repo.DayExists(ctx, p.ID, in.Day)
	if err != nil {
		return nil, fmt.Errorf("check day %d: %w", in.Day, err)
	}
	if exists {
		return nil, generic.Invalid("day", "day %d already recorded", in.Day)
	}

	sunday, holiday, err := l.classify(ctx, repo, p, in)
	if err != nil {
		return nil, err
	}

	b := Calculate(Shift{Start: in.Start, End: in.End, Sunday: sunday, Holiday: holiday})
	now := l.now()
	day := &WorkDay{
		ID:         generic.NewID(),
		PlanillaID: p.ID,
		Day:        in.Day,
		Start:      in.Start,
		End:        in.End,
		TotalHours: b.Total,
		IsSunday:   sunday,
		IsHoliday:  holiday,
		Notes:      in.Notes,
		CreatedBy:  actor,
		UpdatedBy:  actor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.InsertDay(ctx, day); err != nil {
		return nil, fmt.Errorf("insert day %d: %w", in.Day, err)
	}

	for _, line := range buildLines(b, in.Manual) {
		line.ID = generic.NewID()
		line.WorkDayID = day.ID
		line.CreatedBy = actor
		line.CreatedAt = now
		if err := repo.InsertLine(ctx, &line); err != nil {
			return nil, fmt.Errorf("insert %s line for day %d: %w", line.Code, in.Day, err)
		}
		day.Lines = append(day.Lines, line)
	}
	return day, nil
}

// ReplaceAllDays hard-deletes the live days of p and adds days in order.
func (l DayLedger) ReplaceAllDays(ctx context.Context, repo Repository, p *Planilla, days []DayInput, actor generic.Actor) ([]WorkDay, error) {
	if err := ValidateDays(days); err != nil {
		return nil, err
	}
	if err := repo.DeleteDays(ctx, p.ID); err != nil {
		return nil, fmt.Errorf("delete days: %w", err)
	}
	out := make([]WorkDay, 0, len(days))
	for _, in := range days {
		d, err := l.AddDay(ctx, repo, p, in, actor)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

// RestoreDays hard-deletes the live days of p and re-inserts the given day
// states verbatim, lines included. Nothing is recomputed.
func (l DayLedger) RestoreDays(ctx context.Context, repo Repository, p *Planilla, days []DayState, actor generic.Actor) ([]WorkDay, error) {
	if err := repo.DeleteDays(ctx, p.ID); err != nil {
		return nil, fmt.Errorf("delete days: %w", err)
	}
	now := l.now()
	out := make([]WorkDay, 0, len(days))
	for _, ds := range days {
		day := WorkDay{
			ID:         generic.NewID(),
			PlanillaID: p.ID,
			Day:        ds.Day,
			Start:      ds.Start,
			End:        ds.End,
			TotalHours: ds.TotalHours,
			IsSunday:   ds.IsSunday,
			IsHoliday:  ds.IsHoliday,
			Notes:      ds.Notes,
			CreatedBy:  actor,
			UpdatedBy:  actor,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := repo.InsertDay(ctx, &day); err != nil {
			return nil, fmt.Errorf("restore day %d: %w", ds.Day, err)
		}
		for _, ls := range ds.Lines {
			line := SurchargeLine{
				ID:        generic.NewID(),
				WorkDayID: day.ID,
				Code:      ls.Code,
				Hours:     ls.Hours,
				Auto:      ls.Auto,
				CreatedBy: actor,
				CreatedAt: now,
			}
			if err := repo.InsertLine(ctx, &line); err != nil {
				return nil, fmt.Errorf("restore %s line for day %d: %w", ls.Code, ds.Day, err)
			}
			day.Lines = append(day.Lines, line)
		}
		out = append(out, day)
	}
	return out, nil
}

func (l DayLedger) classify(ctx context.Context, repo Repository, p *Planilla, in DayInput) (bool, bool, error) {
	if in.IsSunday != nil && in.IsHoliday != nil {
		return *in.IsSunday, *in.IsHoliday, nil
	}
	class, err := generic.ClassifyDay(ctx, repo, p.Year, p.Month, in.Day)
	if err != nil {
		return false, false, err
	}
	if in.IsSunday != nil {
		class.Sunday = *in.IsSunday
	}
	if in.IsHoliday != nil {
		class.Holiday = *in.IsHoliday
	}
	return class.Sunday, class.Holiday, nil
}

func (l DayLedger) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return generic.UTCNow()
}

// buildLines merges computed categories with manual overrides.
func buildLines(b Breakdown, manual []ManualLine) []SurchargeLine {
	overrides := make(map[Code]decimal.Decimal, len(manual))
	for _, m := range manual {
		overrides[m.Code] = m.Hours
	}
	var lines []SurchargeLine
	for _, c := range Codes {
		if h, ok := overrides[c]; ok {
			lines = append(lines, SurchargeLine{Code: c, Hours: h.Round(2), Auto: false})
			continue
		}
		if h := b.ByCode(c); !h.IsZero() {
			lines = append(lines, SurchargeLine{Code: c, Hours: h, Auto: true})
		}
	}
	return lines
}

// =============================================================================
// AGGREGATE RECALCULATOR
// =============================================================================

// Recompute recalculates p's totals from its live rows and writes them.
// Any failure is an integrity failure: the caller's transaction must roll
// back.
func Recompute(ctx context.Context, repo Repository, p *Planilla) error {
	totals, err := repo.AggregateTotals(ctx, p.ID)
	if err != nil {
		return &generic.IntegrityError{Op: "aggregate totals", Err: err}
	}
	if err := repo.SaveTotals(ctx, p.ID, totals); err != nil {
		return &generic.IntegrityError{Op: "save totals", Err: err}
	}
	p.Totals = totals
	return nil
}
