/*
store.go - Persistence contract for planillas and their history

PURPOSE:
  Defines the interface between the recargo domain and the database.
  Every mutating operation runs inside Store.WithTx; reads that issue
  several queries run inside Store.ReadTx so they see one consistent view.

KEY INTERFACES:
  Store:      Opens transactions
  Repository: Transaction-bound operations on every table

SOFT DELETE:
  Planillas carry deleted_at. Work days and surcharge lines of a deleted
  planilla are hard-deleted, so every day/line query only ever sees live
  rows. GetPlanilla filters deleted rows unless includeDeleted is set
  (history reads of a deleted planilla stay possible).

APPEND-ONLY:
  change_records and snapshots have no update or delete methods.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go

SEE ALSO:
  - lifecycle.go: Orchestrates writes through Repository
*/
package recargo

import (
	"context"
	"time"

	"github.com/warp/recargo-engine/generic"
)

// Store opens transactions.
type Store interface {
	// WithTx runs fn in a read-write transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	// ReadTx runs fn in a transaction that is always rolled back.
	ReadTx(ctx context.Context, fn func(repo Repository) error) error
}

// Repository is bound to one transaction.
type Repository interface {
	generic.HolidayCalendar

	// Planillas
	InsertPlanilla(ctx context.Context, p *Planilla) error
	UpdatePlanilla(ctx context.Context, p *Planilla) error
	GetPlanilla(ctx context.Context, id string, includeDeleted bool) (*Planilla, error)
	SoftDeletePlanilla(ctx context.Context, id string, by generic.Actor, at time.Time) error
	PeriodTaken(ctx context.Context, key PeriodKey, excludeID string) (bool, error)
	SheetNumberTaken(ctx context.Context, number, excludeID string) (bool, error)
	ListPlanillas(ctx context.Context, filter ListFilter) ([]Planilla, error)

	// TransitionState moves every listed live planilla whose state is one
	// of from to state to, bumping each version by one, in a single
	// statement. It returns how many rows moved.
	TransitionState(ctx context.Context, ids []string, from []State, to State, by generic.Actor, at time.Time) (int, error)

	// Work days and surcharge lines (live rows only)
	ListDays(ctx context.Context, planillaID string) ([]WorkDay, error)
	DayExists(ctx context.Context, planillaID string, day int) (bool, error)
	InsertDay(ctx context.Context, d *WorkDay) error
	InsertLine(ctx context.Context, l *SurchargeLine) error
	DeleteDays(ctx context.Context, planillaID string) error

	// Aggregates
	AggregateTotals(ctx context.Context, planillaID string) (Totals, error)
	SaveTotals(ctx context.Context, planillaID string, t Totals) error

	// History
	AppendChange(ctx context.Context, r *ChangeRecord) error
	ListChanges(ctx context.Context, planillaID string) ([]ChangeRecord, error)
	ListChangesBetween(ctx context.Context, planillaID string, afterVersion, toVersion int) ([]ChangeRecord, error)
	ChangeExists(ctx context.Context, planillaID string, versionAfter int) (bool, error)

	// Snapshots
	InsertSnapshot(ctx context.Context, s *Snapshot) error
	NearestSnapshot(ctx context.Context, planillaID string, atOrBefore int) (*Snapshot, error)
	GetSnapshot(ctx context.Context, planillaID string, version int) (*Snapshot, error)
	ListSnapshots(ctx context.Context, planillaID string) ([]Snapshot, error)

	// Catalog
	SurchargeTypes(ctx context.Context) ([]SurchargeType, error)
}

// PeriodKey identifies the one live planilla allowed per
// driver, vehicle, company and month.
type PeriodKey struct {
	DriverID  string
	VehicleID string
	CompanyID string
	Month     int
	Year      int
}

// ListFilter narrows ListPlanillas. Zero values match everything.
type ListFilter struct {
	DriverID  string
	VehicleID string
	CompanyID string
	Month     int
	Year      int
	State     State
	Limit     int
	Offset    int
}

// loadCatalog reads the surcharge catalog keyed by code.
func loadCatalog(ctx context.Context, repo Repository) (Catalog, error) {
	types, err := repo.SurchargeTypes(ctx)
	if err != nil {
		return nil, err
	}
	cat := make(Catalog, len(types))
	for _, t := range types {
		cat[t.Code] = t
	}
	return cat, nil
}

// loadState reads a planilla with its live days as a PlanillaState.
func loadState(ctx context.Context, repo Repository, id string, includeDeleted bool) (*Planilla, PlanillaState, error) {
	p, err := repo.GetPlanilla(ctx, id, includeDeleted)
	if err != nil {
		return nil, PlanillaState{}, err
	}
	days, err := repo.ListDays(ctx, id)
	if err != nil {
		return nil, PlanillaState{}, err
	}
	p.Days = days
	cat, err := loadCatalog(ctx, repo)
	if err != nil {
		return nil, PlanillaState{}, err
	}
	return p, StateOf(p, cat), nil
}
