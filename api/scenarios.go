/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Populates the database with realistic planillas that exercise the
	version machinery: periodic snapshots, state transitions, holiday
	classification and restore.

AVAILABLE SCENARIOS:

	march-walkthrough: One planilla walked from version 1 to version 10
	                   (edits, a settle, a note change), so version 10
	                   carries a major snapshot.
	holiday-calendar:  Colombian fixed holidays plus a movable one; days
	                   sent without flags are classified from the calendar.
	restore:           A planilla edited twice, then restored to version 1.

HOW SCENARIOS WORK:
 1. Reset planilla data (catalog and holidays are kept)
 2. Create planillas through recargo.Service, like any client would
 3. Mutate them so the history has something to show

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "march-walkthrough"}

NOTE:
	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: The routes a client uses to inspect the result
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/recargo-engine/generic"
	"github.com/warp/recargo-engine/recargo"
	"go.uber.org/zap"
)

// ScenarioActor is recorded on every change a scenario makes.
const ScenarioActor generic.Actor = "scenario-loader"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "march-walkthrough",
		Name:        "March Walkthrough",
		Description: "One planilla edited, settled and annotated up to version 10",
	},
	{
		ID:          "holiday-calendar",
		Name:        "Holiday Calendar",
		Description: "Days classified from the stored Colombian holiday calendar",
	},
	{
		ID:          "restore",
		Name:        "Restore",
		Description: "A planilla edited twice and restored to its first version",
	},
}

var scenarioLoaders = map[string]func(*Handler, context.Context) error{
	"march-walkthrough": (*Handler).loadMarchWalkthrough,
	"holiday-calendar":  (*Handler).loadHolidayCalendar,
	"restore":           (*Handler).loadRestore,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Load(r.Context(), req.ScenarioID); err != nil {
		h.writeServiceError(w, "Failed to load scenario", err)
		return
	}

	planillas, err := h.Service.List(r.Context(), recargo.ListFilter{})
	if err != nil {
		h.writeServiceError(w, "Failed to list planillas", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "loaded",
		"scenario":  req.ScenarioID,
		"planillas": toPlanillaDTOs(planillas),
	})
}

// ResetDatabase clears every planilla.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeServiceError(w, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// Load resets planilla data and runs the named scenario.
func (h *Handler) Load(ctx context.Context, id string) error {
	load, ok := scenarioLoaders[id]
	if !ok {
		return generic.Invalid("scenario_id", "unknown scenario %q", id)
	}
	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := load(h, ctx); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	h.log.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) loadMarchWalkthrough(ctx context.Context) error {
	p, err := h.Service.Create(ctx, recargo.CreateInput{
		DriverID:    "driver-ramirez",
		VehicleID:   "vehicle-SXT482",
		CompanyID:   "company-transandina",
		Month:       3,
		Year:        2025,
		SheetNumber: "PL-2025-03-001",
		Days:        walkthroughDays("16", "14"),
		Actor:       ScenarioActor,
		Reason:      "initial capture",
	})
	if err != nil {
		return err
	}

	// v2..v6: day 3 ends one hour later each time.
	for _, end := range []string{"17", "18", "19", "20", "21"} {
		if p, err = h.update(ctx, p.ID, recargo.UpdateInput{Days: walkthroughDays(end, "14")}, "late return"); err != nil {
			return err
		}
	}

	// v7
	if _, err := h.Service.Settle(ctx, recargo.BatchInput{IDs: []string{p.ID}, Actor: ScenarioActor}); err != nil {
		return err
	}

	// v8
	notes := "Reviewed by operations"
	if p, err = h.update(ctx, p.ID, recargo.UpdateInput{Notes: &notes, Days: walkthroughDays("21", "14")}, "review"); err != nil {
		return err
	}

	// v9
	days := append(walkthroughDays("21", "14"), day(9, "7", "15"))
	if p, err = h.update(ctx, p.ID, recargo.UpdateInput{Days: days}, "sunday shift added"); err != nil {
		return err
	}

	// v10
	days = append(walkthroughDays("21", "22"), day(9, "7", "15"))
	_, err = h.update(ctx, p.ID, recargo.UpdateInput{Days: days}, "night return on the 4th")
	return err
}

func (h *Handler) loadHolidayCalendar(ctx context.Context) error {
	for _, hol := range colombianHolidays(2025) {
		if err := h.Store.SaveHoliday(ctx, hol); err != nil {
			return err
		}
	}

	// March 24 2025 is San José (moved); March 23 is a Sunday. Neither day
	// carries flags, so both come from the calendar.
	_, err := h.Service.Create(ctx, recargo.CreateInput{
		DriverID:  "driver-ospina",
		VehicleID: "vehicle-TKW117",
		CompanyID: "company-transandina",
		Month:     3,
		Year:      2025,
		Days: []recargo.DayInput{
			day(21, "6", "18"),
			day(23, "8", "16"),
			day(24, "10", "23"),
		},
		Actor: ScenarioActor,
	})
	return err
}

func (h *Handler) loadRestore(ctx context.Context) error {
	p, err := h.Service.Create(ctx, recargo.CreateInput{
		DriverID:  "driver-cardenas",
		VehicleID: "vehicle-WPL903",
		CompanyID: "company-rutas-del-sur",
		Month:     4,
		Year:      2025,
		Days:      []recargo.DayInput{day(1, "6", "16"), day(2, "6", "16")},
		Actor:     ScenarioActor,
	})
	if err != nil {
		return err
	}

	if _, err = h.update(ctx, p.ID, recargo.UpdateInput{Days: []recargo.DayInput{day(1, "6", "22"), day(2, "6", "16")}}, "typo"); err != nil {
		return err
	}
	if _, err = h.update(ctx, p.ID, recargo.UpdateInput{Days: []recargo.DayInput{day(1, "6", "22")}}, "day 2 removed"); err != nil {
		return err
	}
	_, err = h.Service.Restore(ctx, p.ID, recargo.RestoreInput{Version: 1, Actor: ScenarioActor, Reason: "original was right"})
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) update(ctx context.Context, id string, in recargo.UpdateInput, reason string) (*recargo.Planilla, error) {
	in.Actor = ScenarioActor
	in.Reason = reason
	return h.Service.Update(ctx, id, in)
}

func day(n int, start, end string) recargo.DayInput {
	return recargo.DayInput{
		Day:   n,
		Start: decimal.RequireFromString(start),
		End:   decimal.RequireFromString(end),
	}
}

// walkthroughDays is the base week of the March walkthrough: day 3 ends
// at end3 and day 4 at end4.
func walkthroughDays(end3, end4 string) []recargo.DayInput {
	return []recargo.DayInput{
		day(3, "6", end3),
		day(4, "6", end4),
		day(5, "8", "17"),
	}
}

// colombianHolidays returns the fixed-date national holidays as recurring
// entries, plus the movable ones of year that the demo uses.
func colombianHolidays(year int) []generic.Holiday {
	fixed := []struct {
		month time.Month
		day   int
		name  string
	}{
		{time.January, 1, "Año Nuevo"},
		{time.May, 1, "Día del Trabajo"},
		{time.July, 20, "Día de la Independencia"},
		{time.August, 7, "Batalla de Boyacá"},
		{time.December, 8, "Inmaculada Concepción"},
		{time.December, 25, "Navidad"},
	}
	var out []generic.Holiday
	for _, f := range fixed {
		out = append(out, generic.Holiday{
			ID:        generic.NewID(),
			Date:      time.Date(year, f.month, f.day, 0, 0, 0, 0, time.UTC),
			Name:      f.name,
			Recurring: true,
		})
	}
	if year == 2025 {
		out = append(out, generic.Holiday{
			ID:   generic.NewID(),
			Date: time.Date(2025, time.March, 24, 0, 0, 0, 0, time.UTC),
			Name: "Día de San José",
		})
	}
	return out
}
