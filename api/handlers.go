/*
handlers.go - HTTP API handlers for the planilla engine

PURPOSE:
  Exposes the recargo service over REST. Handlers decode the request,
  attach the resolved actor, delegate to recargo.Service and encode the
  result. No business rule lives here.

ENDPOINTS:
  Planillas:
    GET    /api/planillas                       List (filters: driver_id, vehicle_id,
                                                company_id, month, year, state, limit, offset)
    POST   /api/planillas                       Create
    GET    /api/planillas/{id}                  Get with days and lines
    PUT    /api/planillas/{id}                  Update
    POST   /api/planillas/delete                Batch soft delete
    POST   /api/planillas/settle                Batch editable -> settled
    POST   /api/planillas/invoice               Batch settled -> invoiced
    POST   /api/planillas/reject                Batch settled -> pending

  Versions:
    GET    /api/planillas/{id}/versions                   History, newest first
    GET    /api/planillas/{id}/versions/{version}         Reconstruct
    POST   /api/planillas/{id}/versions/{version}/restore Restore as new version
    GET    /api/planillas/{id}/diff?from=&to=             Compare two versions
    GET    /api/planillas/{id}/snapshots                  Stored snapshots
    POST   /api/planillas/{id}/snapshots                  Manual snapshot

  Reference data:
    GET    /api/surcharge-types
    GET    /api/holidays?year=
    POST   /api/holidays
    DELETE /api/holidays/{id}
    POST   /api/calculate                        Stateless shift preview

ERROR HANDLING:
  Domain errors map onto status codes through writeServiceError:
  - 400: generic.ErrValidation, malformed body or query
  - 401: no actor on a mutating route (auth.go)
  - 404: generic.ErrNotFound
  - 409: generic.ErrConflict
  - 500: everything else, including generic.ErrIntegrity

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scenarios.go: Demo scenario loaders
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/recargo-engine/generic"
	"github.com/warp/recargo-engine/recargo"
	"github.com/warp/recargo-engine/store/sqlite"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *recargo.Service
	Store   *sqlite.Store
	log     *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over a service and the store backing it.
func NewHandler(svc *recargo.Service, store *sqlite.Store, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Service: svc, Store: store, log: log.Named("api")}
}

// Health pings the database.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// PLANILLA HANDLERS
// =============================================================================

// ListPlanillas returns live planillas, without days.
// GET /api/planillas
func (h *Handler) ListPlanillas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := recargo.ListFilter{
		DriverID:  q.Get("driver_id"),
		VehicleID: q.Get("vehicle_id"),
		CompanyID: q.Get("company_id"),
		State:     recargo.State(q.Get("state")),
	}
	ints := []struct {
		name string
		dst  *int
	}{
		{"month", &filter.Month},
		{"year", &filter.Year},
		{"limit", &filter.Limit},
		{"offset", &filter.Offset},
	}
	for _, p := range ints {
		v, err := queryInt(r, p.name)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid query parameter", err)
			return
		}
		*p.dst = v
	}

	planillas, err := h.Service.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, "Failed to list planillas", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"planillas": toPlanillaDTOs(planillas)})
}

// CreatePlanilla creates a planilla at version 1.
// POST /api/planillas
func (h *Handler) CreatePlanilla(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanillaRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := h.Service.Create(r.Context(), recargo.CreateInput{
		DriverID:      req.DriverID,
		VehicleID:     req.VehicleID,
		CompanyID:     req.CompanyID,
		Month:         req.Month,
		Year:          req.Year,
		SheetNumber:   req.SheetNumber,
		Notes:         req.Notes,
		AttachmentKey: req.AttachmentKey,
		Days:          toDayInputs(req.Days),
		Actor:         ActorFrom(r.Context()),
		Reason:        req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, "Failed to create planilla", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanillaDTO(p))
}

// GetPlanilla returns one live planilla with its days.
// GET /api/planillas/{id}
func (h *Handler) GetPlanilla(w http.ResponseWriter, r *http.Request) {
	p, err := h.Service.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "Failed to get planilla", err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanillaDTO(p))
}

// UpdatePlanilla replaces the day set and any given scalars.
// PUT /api/planillas/{id}
func (h *Handler) UpdatePlanilla(w http.ResponseWriter, r *http.Request) {
	var req UpdatePlanillaRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := h.Service.Update(r.Context(), chi.URLParam(r, "id"), recargo.UpdateInput{
		DriverID:      req.DriverID,
		VehicleID:     req.VehicleID,
		CompanyID:     req.CompanyID,
		Month:         req.Month,
		Year:          req.Year,
		SheetNumber:   req.SheetNumber,
		Notes:         req.Notes,
		AttachmentKey: req.AttachmentKey,
		Days:          toDayInputs(req.Days),
		Actor:         ActorFrom(r.Context()),
		Reason:        req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, "Failed to update planilla", err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanillaDTO(p))
}

// DeletePlanillas soft-deletes a batch.
// POST /api/planillas/delete
func (h *Handler) DeletePlanillas(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeBatch(w, r)
	if !ok {
		return
	}
	if err := h.Service.Delete(r.Context(), in); err != nil {
		h.writeServiceError(w, "Failed to delete planillas", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "count": len(in.IDs)})
}

// SettlePlanillas moves a batch of editable planillas to settled.
// POST /api/planillas/settle
func (h *Handler) SettlePlanillas(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "settle", h.Service.Settle)
}

// InvoicePlanillas moves a batch from settled to invoiced.
// POST /api/planillas/invoice
func (h *Handler) InvoicePlanillas(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "invoice", h.Service.Invoice)
}

// RejectPlanillas sends a settled batch back to pending.
// POST /api/planillas/reject
func (h *Handler) RejectPlanillas(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "reject", h.Service.Reject)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, verb string,
	fn func(context.Context, recargo.BatchInput) ([]recargo.Planilla, error)) {
	in, ok := decodeBatch(w, r)
	if !ok {
		return
	}
	moved, err := fn(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, fmt.Sprintf("Failed to %s planillas", verb), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"planillas": toPlanillaDTOs(moved)})
}

// =============================================================================
// VERSION HANDLERS
// =============================================================================

// ListVersions returns the change history.
// GET /api/planillas/{id}/versions
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.Service.ListVersions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "Failed to list versions", err)
		return
	}
	dtos := make([]VersionDTO, len(versions))
	for i, v := range versions {
		dtos[i] = toVersionDTO(v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": dtos})
}

// GetVersion reconstructs a past version.
// GET /api/planillas/{id}/versions/{version}
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid version", err)
		return
	}
	rec, err := h.Service.Reconstruct(r.Context(), chi.URLParam(r, "id"), version)
	if err != nil {
		h.writeServiceError(w, "Failed to reconstruct version", err)
		return
	}
	writeJSON(w, http.StatusOK, ReconstructionDTO{
		State:           rec.State,
		SnapshotVersion: rec.SnapshotVersion,
		DeltasApplied:   rec.DeltasApplied,
	})
}

// RestoreVersion commits a past version as the next one.
// POST /api/planillas/{id}/versions/{version}/restore
func (h *Handler) RestoreVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid version", err)
		return
	}
	// The body is optional.
	var req RestoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Service.Restore(r.Context(), chi.URLParam(r, "id"), recargo.RestoreInput{
		Version: version,
		Actor:   ActorFrom(r.Context()),
		Reason:  req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, "Failed to restore version", err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanillaDTO(p))
}

// DiffVersions compares two versions.
// GET /api/planillas/{id}/diff?from=&to=
func (h *Handler) DiffVersions(w http.ResponseWriter, r *http.Request) {
	from, errFrom := strconv.Atoi(r.URL.Query().Get("from"))
	to, errTo := strconv.Atoi(r.URL.Query().Get("to"))
	if err := errors.Join(errFrom, errTo); err != nil {
		writeError(w, http.StatusBadRequest, "from and to must be version numbers", err)
		return
	}
	diff, err := h.Service.Diff(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		h.writeServiceError(w, "Failed to diff versions", err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

// ListSnapshots returns the stored snapshots.
// GET /api/planillas/{id}/snapshots
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.Service.Snapshots(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "Failed to list snapshots", err)
		return
	}
	dtos := make([]SnapshotDTO, len(snaps))
	for i := range snaps {
		dtos[i] = toSnapshotDTO(&snaps[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": dtos})
}

// CreateSnapshot captures the current version manually.
// POST /api/planillas/{id}/snapshots
func (h *Handler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	// The body is optional.
	var req SnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	snap, err := h.Service.CreateManualSnapshot(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context()),
		generic.SnapshotReason(req.Reason))
	if err != nil {
		h.writeServiceError(w, "Failed to create snapshot", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSnapshotDTO(snap))
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

// ListSurchargeTypes returns the surcharge catalog.
// GET /api/surcharge-types
func (h *Handler) ListSurchargeTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Service.SurchargeTypes(r.Context())
	if err != nil {
		h.writeServiceError(w, "Failed to list surcharge types", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"surcharge_types": types})
}

// Calculate previews the breakdown of one shift.
// POST /api/calculate
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	// Day 1 is a placeholder: only the hour range is checked here.
	check := recargo.DayInput{Day: 1, Start: req.Start, End: req.End}
	if err := check.Validate(); err != nil {
		h.writeServiceError(w, "Invalid shift", err)
		return
	}
	b := recargo.Calculate(recargo.Shift{
		Start:   req.Start,
		End:     req.End,
		Sunday:  req.IsSunday,
		Holiday: req.IsHoliday,
	})
	writeJSON(w, http.StatusOK, b)
}

// ListHolidays returns the calendar, recurring entries moved into year.
// GET /api/holidays?year=
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	holidays, err := h.Store.ListHolidays(r.Context(), year)
	if err != nil {
		h.writeServiceError(w, "Failed to get holidays", err)
		return
	}
	dtos := make([]HolidayDTO, 0, len(holidays))
	for _, hol := range holidays {
		dtos = append(dtos, toHolidayDTO(hol))
	}
	writeJSON(w, http.StatusOK, map[string]any{"holidays": dtos})
}

// CreateHoliday adds a calendar entry.
// POST /api/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req CreateHolidayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Date == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Date and name are required", nil)
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	holiday := generic.Holiday{
		ID:        generic.NewID(),
		Date:      date,
		Name:      strings.TrimSpace(req.Name),
		Recurring: req.Recurring,
	}
	if err := h.Store.SaveHoliday(r.Context(), holiday); err != nil {
		h.writeServiceError(w, "Failed to create holiday", err)
		return
	}
	writeJSON(w, http.StatusCreated, toHolidayDTO(holiday))
}

// DeleteHoliday removes a calendar entry.
// DELETE /api/holidays/{id}
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteHoliday(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, "Failed to delete holiday", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func decodeBatch(w http.ResponseWriter, r *http.Request) (recargo.BatchInput, bool) {
	var req BatchRequest
	if !decodeBody(w, r, &req) {
		return recargo.BatchInput{}, false
	}
	return recargo.BatchInput{
		IDs:    req.IDs,
		Actor:  ActorFrom(r.Context()),
		Reason: req.Reason,
	}, true
}

// queryInt reads an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}
