/*
lifecycle.go - Transactional orchestration of planilla mutations

PURPOSE:
  Create, update, delete and state transitions. Each operation validates,
  opens one transaction, writes days through the DayLedger, recomputes
  totals, appends history and snapshots, commits, then notifies.

STATE MACHINE:
  pending --settle--> settled --invoice--> invoiced
  settled --reject--> pending
  pending and settled are editable; invoiced is terminal.

VERSIONING:
  Create writes version 1, a "creation" record and the initial snapshot.
  Every accepted mutation bumps the version by one and appends exactly one
  record. An update whose diff is empty is rolled back and leaves the
  version untouched.

SEE ALSO:
  - ledger.go:    Day persistence and aggregate recompute
  - history.go:   Change records
  - snapshots.go: Snapshot policy
  - versions.go:  Reconstruct, restore, diff
*/
package recargo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/recargo-engine/generic"
	"go.uber.org/zap"
)

const (
	maxNotesLength       = 1000
	maxSheetNumberLength = 50
	minYear              = 2000
	maxYear              = 2100
)

// =============================================================================
// INPUTS
// =============================================================================

// CreateInput is everything needed to create a planilla.
type CreateInput struct {
	DriverID      string
	VehicleID     string
	CompanyID     string
	Month         int
	Year          int
	SheetNumber   string
	Notes         string
	AttachmentKey string
	Days          []DayInput

	Actor  generic.Actor
	Reason string
}

// UpdateInput replaces the day set. Nil scalar pointers keep the current
// value; an empty string clears optional fields.
type UpdateInput struct {
	DriverID      *string
	VehicleID     *string
	CompanyID     *string
	Month         *int
	Year          *int
	SheetNumber   *string
	Notes         *string
	AttachmentKey *string
	Days          []DayInput

	Actor  generic.Actor
	Reason string
}

// BatchInput names the planillas of a bulk operation.
type BatchInput struct {
	IDs    []string
	Actor  generic.Actor
	Reason string
}

func (in CreateInput) validate() error {
	if in.Actor == "" {
		return generic.Invalid("actor", "is required")
	}
	if err := validateRefs(in.DriverID, in.VehicleID, in.CompanyID, in.Month, in.Year); err != nil {
		return err
	}
	if err := validateText(in.SheetNumber, in.Notes); err != nil {
		return err
	}
	if len(in.Days) == 0 {
		return generic.Invalid("days", "at least one work day is required")
	}
	return ValidateDays(in.Days)
}

func (in UpdateInput) validate() error {
	if in.Actor == "" {
		return generic.Invalid("actor", "is required")
	}
	if len(in.Days) == 0 {
		return generic.Invalid("days", "at least one work day is required")
	}
	return ValidateDays(in.Days)
}

func validateRefs(driver, vehicle, company string, month, year int) error {
	switch {
	case strings.TrimSpace(driver) == "":
		return generic.Invalid("driver_id", "is required")
	case strings.TrimSpace(vehicle) == "":
		return generic.Invalid("vehicle_id", "is required")
	case strings.TrimSpace(company) == "":
		return generic.Invalid("company_id", "is required")
	case month < 1 || month > 12:
		return generic.Invalid("month", "must be between 1 and 12, got %d", month)
	case year < minYear || year > maxYear:
		return generic.Invalid("year", "must be between %d and %d, got %d", minYear, maxYear, year)
	}
	return nil
}

func validateText(sheetNumber, notes string) error {
	if len(sheetNumber) > maxSheetNumberLength {
		return generic.Invalid("sheet_number", "must be at most %d characters", maxSheetNumberLength)
	}
	if len(notes) > maxNotesLength {
		return generic.Invalid("notes", "must be at most %d characters", maxNotesLength)
	}
	return nil
}

// normalizeNotes stores whitespace-only notes as empty.
func normalizeNotes(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

// =============================================================================
// CREATE
// =============================================================================

// Create persists a new planilla at version 1 with its days, one creation
// record and the initial snapshot.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Planilla, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var created *Planilla
	var fx effects
	err := s.store.WithTx(ctx, func(repo Repository) error {
		now := s.clock()
		p := &Planilla{
			ID:            generic.NewID(),
			DriverID:      in.DriverID,
			VehicleID:     in.VehicleID,
			CompanyID:     in.CompanyID,
			Month:         in.Month,
			Year:          in.Year,
			SheetNumber:   strings.TrimSpace(in.SheetNumber),
			Notes:         normalizeNotes(in.Notes),
			State:         StatePending,
			Version:       1,
			AttachmentKey: in.AttachmentKey,
			CreatedBy:     in.Actor,
			UpdatedBy:     in.Actor,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.checkUnique(ctx, repo, p); err != nil {
			return err
		}
		if err := repo.InsertPlanilla(ctx, p); err != nil {
			return fmt.Errorf("insert planilla: %w", err)
		}

		for _, d := range in.Days {
			day, err := s.ledger.AddDay(ctx, repo, p, d, in.Actor)
			if err != nil {
				return err
			}
			p.Days = append(p.Days, *day)
		}
		if err := Recompute(ctx, repo, p); err != nil {
			return err
		}

		cat, err := loadCatalog(ctx, repo)
		if err != nil {
			return err
		}
		state := StateOf(p, cat)
		if _, err := s.history.RecordCreation(ctx, repo, state, in.Actor, in.Reason); err != nil {
			return err
		}
		snap, err := s.snapshots.Capture(ctx, repo, state, generic.SnapshotAutomatic, in.Actor)
		if err != nil {
			return err
		}
		fx.snapshot(snap)
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("planilla created",
		zap.String("planilla_id", created.ID),
		zap.Int("days", len(created.Days)),
		zap.String("actor", string(in.Actor)),
	)
	s.committed(ctx, &fx, ActionCreation, EventCreated, eventPayload(created))
	return created, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// Update replaces the day set and any given scalars. It returns the
// planilla as stored after the call; when nothing changed it is the
// unchanged current planilla.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*Planilla, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var updated *Planilla
	var fx effects
	err := s.store.WithTx(ctx, func(repo Repository) error {
		p, before, err := loadState(ctx, repo, id, false)
		if err != nil {
			return err
		}
		if !p.State.Editable() {
			return &generic.ConflictError{ID: id, Reason: fmt.Sprintf("planilla is %s and cannot be edited", p.State)}
		}

		if err := applyUpdate(p, in); err != nil {
			return err
		}
		if err := s.checkUnique(ctx, repo, p); err != nil {
			return err
		}

		days, err := s.ledger.ReplaceAllDays(ctx, repo, p, in.Days, in.Actor)
		if err != nil {
			return err
		}
		p.Days = days
		if err := Recompute(ctx, repo, p); err != nil {
			return err
		}

		cat, err := loadCatalog(ctx, repo)
		if err != nil {
			return err
		}
		p.Version = before.Version + 1
		after := StateOf(p, cat)
		cs, err := compareStates(ComparedFields, before, after)
		if err != nil {
			return err
		}
		if cs.Empty() {
			return errNoChange
		}

		p.UpdatedBy = in.Actor
		p.UpdatedAt = s.clock()
		if err := repo.UpdatePlanilla(ctx, p); err != nil {
			return fmt.Errorf("update planilla: %w", err)
		}
		if _, err := s.history.RecordChange(ctx, repo, ChangeInput{
			Action: ActionUpdate,
			Before: before,
			After:  after,
			Fields: ComparedFields,
			Actor:  in.Actor,
			Reason: in.Reason,
		}); err != nil {
			return err
		}
		snap, err := s.snapshots.MaybeSnapshot(ctx, repo, after, before.Version, cs.HasAny(CriticalFields...), in.Actor)
		if err != nil {
			return err
		}
		fx.snapshot(snap)
		updated = p
		return nil
	})
	if errors.Is(err, errNoChange) {
		s.log.Debug("update without changes", zap.String("planilla_id", id))
		return s.GetByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("planilla updated",
		zap.String("planilla_id", id),
		zap.Int("version", updated.Version),
		zap.String("actor", string(in.Actor)),
	)
	s.committed(ctx, &fx, ActionUpdate, EventUpdated, eventPayload(updated))
	return updated, nil
}

func applyUpdate(p *Planilla, in UpdateInput) error {
	if in.DriverID != nil {
		p.DriverID = *in.DriverID
	}
	if in.VehicleID != nil {
		p.VehicleID = *in.VehicleID
	}
	if in.CompanyID != nil {
		p.CompanyID = *in.CompanyID
	}
	if in.Month != nil {
		p.Month = *in.Month
	}
	if in.Year != nil {
		p.Year = *in.Year
	}
	if in.SheetNumber != nil {
		p.SheetNumber = strings.TrimSpace(*in.SheetNumber)
	}
	if in.Notes != nil {
		p.Notes = normalizeNotes(*in.Notes)
	}
	if in.AttachmentKey != nil {
		p.AttachmentKey = *in.AttachmentKey
	}
	if err := validateRefs(p.DriverID, p.VehicleID, p.CompanyID, p.Month, p.Year); err != nil {
		return err
	}
	return validateText(p.SheetNumber, p.Notes)
}

// checkUnique enforces one live planilla per period and unique sheet
// numbers among live planillas.
func (s *Service) checkUnique(ctx context.Context, repo Repository, p *Planilla) error {
	key := PeriodKey{DriverID: p.DriverID, VehicleID: p.VehicleID, CompanyID: p.CompanyID, Month: p.Month, Year: p.Year}
	taken, err := repo.PeriodTaken(ctx, key, p.ID)
	if err != nil {
		return fmt.Errorf("check period: %w", err)
	}
	if taken {
		return &generic.ConflictError{Reason: fmt.Sprintf("a planilla already exists for driver %s, vehicle %s, company %s in %02d/%d",
			p.DriverID, p.VehicleID, p.CompanyID, p.Month, p.Year)}
	}
	if p.SheetNumber == "" {
		return nil
	}
	taken, err = repo.SheetNumberTaken(ctx, p.SheetNumber, p.ID)
	if err != nil {
		return fmt.Errorf("check sheet number: %w", err)
	}
	if taken {
		return &generic.ConflictError{Reason: fmt.Sprintf("sheet number %q is already in use", p.SheetNumber)}
	}
	return nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete soft-deletes every planilla in the batch, hard-deletes their days
// and writes one deletion record each. A deletion landing on the snapshot
// interval captures the state it removed, so the deleted version stays
// within reach of a snapshot. Any non-editable target aborts the whole
// batch.
func (s *Service) Delete(ctx context.Context, in BatchInput) error {
	ids, err := in.validate()
	if err != nil {
		return err
	}

	var deleted []string
	var fx effects
	err = s.store.WithTx(ctx, func(repo Repository) error {
		for _, id := range ids {
			p, before, err := loadState(ctx, repo, id, false)
			if err != nil {
				return err
			}
			if !p.State.Editable() {
				return &generic.ConflictError{ID: id, Reason: fmt.Sprintf("planilla is %s and cannot be deleted", p.State)}
			}
			now := s.clock()
			if _, err := s.history.RecordDeletion(ctx, repo, before, before.Version+1, in.Actor, in.Reason); err != nil {
				return err
			}
			if err := repo.DeleteDays(ctx, id); err != nil {
				return fmt.Errorf("delete days of %s: %w", id, err)
			}
			p.Version = before.Version + 1
			p.UpdatedBy = in.Actor
			p.UpdatedAt = now
			if err := repo.UpdatePlanilla(ctx, p); err != nil {
				return fmt.Errorf("update planilla %s: %w", id, err)
			}
			if err := repo.SoftDeletePlanilla(ctx, id, in.Actor, now); err != nil {
				return fmt.Errorf("soft delete %s: %w", id, err)
			}
			after := before
			after.Version = p.Version
			snap, err := s.snapshots.MaybeSnapshot(ctx, repo, after, before.Version, false, in.Actor)
			if err != nil {
				return err
			}
			fx.snapshot(snap)
			deleted = append(deleted, id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("planillas deleted", zap.Strings("planilla_ids", deleted), zap.String("actor", string(in.Actor)))
	s.committed(ctx, &fx, ActionDeletion, EventDeleted, map[string]any{"ids": deleted})
	return nil
}

func (in BatchInput) validate() ([]string, error) {
	if in.Actor == "" {
		return nil, generic.Invalid("actor", "is required")
	}
	if len(in.IDs) == 0 {
		return nil, generic.Invalid("ids", "at least one id is required")
	}
	seen := make(map[string]bool, len(in.IDs))
	ids := make([]string, 0, len(in.IDs))
	for _, id := range in.IDs {
		if id == "" {
			return nil, generic.Invalid("ids", "empty id")
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// =============================================================================
// STATE TRANSITIONS
// =============================================================================

type transition struct {
	from     []State
	to       State
	action   Action
	event    string
	snapshot generic.SnapshotReason // taken of the current version first, if any
}

var (
	settleTransition = transition{
		from: []State{StatePending, StateSettled}, to: StateSettled, action: ActionApproval,
		event: EventSettled, snapshot: generic.SnapshotPreApproval,
	}
	invoiceTransition = transition{
		from: []State{StateSettled}, to: StateInvoiced, action: ActionApproval,
		event: EventInvoiced, snapshot: generic.SnapshotPreInvoicing,
	}
	rejectTransition = transition{
		from: []State{StateSettled}, to: StatePending, action: ActionRejection,
		event: EventUpdated,
	}
)

// Settle moves editable planillas to settled. Settling a planilla that is
// already settled still bumps its version and records the approval.
func (s *Service) Settle(ctx context.Context, in BatchInput) ([]Planilla, error) {
	return s.transition(ctx, in, settleTransition)
}

// Invoice moves settled planillas to invoiced, after which they are
// read-only.
func (s *Service) Invoice(ctx context.Context, in BatchInput) ([]Planilla, error) {
	return s.transition(ctx, in, invoiceTransition)
}

// Reject sends settled planillas back to pending.
func (s *Service) Reject(ctx context.Context, in BatchInput) ([]Planilla, error) {
	return s.transition(ctx, in, rejectTransition)
}

func (t transition) allows(st State) bool {
	for _, f := range t.from {
		if f == st {
			return true
		}
	}
	return false
}

func (t transition) expected() string {
	names := make([]string, len(t.from))
	for i, f := range t.from {
		names[i] = string(f)
	}
	return strings.Join(names, " or ")
}

// transition validates every target, snapshots the current versions when
// asked to, moves all targets in one statement, then writes one record
// per planilla and the snapshot of the new version.
func (s *Service) transition(ctx context.Context, in BatchInput, t transition) ([]Planilla, error) {
	ids, err := in.validate()
	if err != nil {
		return nil, err
	}

	var out []Planilla
	var fx effects
	err = s.store.WithTx(ctx, func(repo Repository) error {
		befores := make([]PlanillaState, 0, len(ids))
		planillas := make([]*Planilla, 0, len(ids))
		for _, id := range ids {
			p, before, err := loadState(ctx, repo, id, false)
			if err != nil {
				return err
			}
			if !t.allows(p.State) {
				return &generic.ConflictError{ID: id, Reason: fmt.Sprintf("planilla is %s, expected %s", p.State, t.expected())}
			}
			if t.snapshot != "" {
				snap, written, err := s.snapshots.CaptureOnce(ctx, repo, before, t.snapshot, in.Actor)
				if err != nil {
					return err
				}
				if written {
					fx.snapshot(snap)
				}
			}
			befores = append(befores, before)
			planillas = append(planillas, p)
		}

		now := s.clock()
		n, err := repo.TransitionState(ctx, ids, t.from, t.to, in.Actor, now)
		if err != nil {
			return fmt.Errorf("transition to %s: %w", t.to, err)
		}
		if n != len(ids) {
			return &generic.ConflictError{Reason: fmt.Sprintf("%d of %d planillas changed state concurrently", len(ids)-n, len(ids))}
		}

		for i, p := range planillas {
			before := befores[i]
			p.State = t.to
			p.Version = before.Version + 1
			p.UpdatedBy = in.Actor
			p.UpdatedAt = now

			after := before
			after.Version = p.Version
			after.State = t.to
			if _, err := s.history.RecordChange(ctx, repo, ChangeInput{
				Action: t.action,
				Before: before,
				After:  after,
				Fields: ComparedFields,
				Always: []string{FieldState},
				Actor:  in.Actor,
				Reason: in.Reason,
			}); err != nil {
				return err
			}
			snap, err := s.snapshots.MaybeSnapshot(ctx, repo, after, before.Version, true, in.Actor)
			if err != nil {
				return err
			}
			fx.snapshot(snap)
			out = append(out, *p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("planillas transitioned",
		zap.String("to", string(t.to)),
		zap.Strings("planilla_ids", ids),
		zap.String("actor", string(in.Actor)),
	)
	s.committed(ctx, &fx, t.action, t.event, map[string]any{"ids": ids, "state": t.to})
	return out, nil
}

// =============================================================================
// READS
// =============================================================================

// GetByID returns a live planilla with its days and lines.
func (s *Service) GetByID(ctx context.Context, id string) (*Planilla, error) {
	var p *Planilla
	err := s.store.ReadTx(ctx, func(repo Repository) error {
		var err error
		p, _, err = loadState(ctx, repo, id, false)
		return err
	})
	return p, err
}

// List returns live planillas matching filter, without days.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Planilla, error) {
	var out []Planilla
	err := s.store.ReadTx(ctx, func(repo Repository) error {
		var err error
		out, err = repo.ListPlanillas(ctx, filter)
		return err
	})
	return out, err
}

// SurchargeTypes returns the catalog ordered by code order.
func (s *Service) SurchargeTypes(ctx context.Context) ([]SurchargeType, error) {
	var out []SurchargeType
	err := s.store.ReadTx(ctx, func(repo Repository) error {
		var err error
		out, err = repo.SurchargeTypes(ctx)
		return err
	})
	return out, err
}

func eventPayload(p *Planilla) map[string]any {
	return map[string]any{
		"id":         p.ID,
		"version":    p.Version,
		"state":      p.State,
		"driver_id":  p.DriverID,
		"company_id": p.CompanyID,
		"month":      p.Month,
		"year":       p.Year,
	}
}
