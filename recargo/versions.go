/*
versions.go - Reconstruct, restore, diff and list planilla versions

PURPOSE:
  The read path over history. Any version is rebuilt from the nearest
  snapshot at or below it plus the forward deltas up to it. Restore commits
  a rebuilt version as the new live state, itself versioned forward.

RECONSTRUCTION:
  1. Nearest snapshot S with S.version <= target (NotFound if none)
  2. Deep copy of S's payload
  3. Fold change records with version_after in (S.version, target],
     ascending, through generic.Replay
  Because a snapshot is written at least every SnapshotInterval versions,
  step 3 folds at most SnapshotInterval-1 records.

SEE ALSO:
  - fields.go:          ComparedFields, the replayed field list
  - generic/replay.go:  The pure fold
*/
package recargo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/warp/recargo-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// OUTPUT TYPES
// =============================================================================

// Reconstruction is a planilla as it was at one version.
type Reconstruction struct {
	State           PlanillaState
	SnapshotVersion int
	DeltasApplied   int
}

// FieldDelta is one scalar field that differs between two versions.
type FieldDelta struct {
	Field string          `json:"field"`
	Old   json.RawMessage `json:"old"`
	New   json.RawMessage `json:"new"`
}

// DayChange lists the per-field differences of a day present in both
// versions.
type DayChange struct {
	Day     int                   `json:"day"`
	Changes map[string]FieldDelta `json:"changes"`
}

// VersionDiff compares two versions.
type VersionDiff struct {
	From         int          `json:"from"`
	To           int          `json:"to"`
	Fields       []FieldDelta `json:"fields"`
	DaysAdded    []DayState   `json:"days_added"`
	DaysRemoved  []DayState   `json:"days_removed"`
	DaysModified []DayChange  `json:"days_modified"`
}

// VersionInfo is one entry of ListVersions.
type VersionInfo struct {
	Record         ChangeRecord
	HasSnapshot    bool
	SnapshotMajor  bool
	SnapshotReason generic.SnapshotReason
}

// =============================================================================
// RECONSTRUCT
// =============================================================================

// Reconstruct rebuilds planilla id at version target. Deleted planillas
// can be reconstructed.
func (s *Service) Reconstruct(ctx context.Context, id string, target int) (*Reconstruction, error) {
	var out *Reconstruction
	err := s.store.ReadTx(ctx, func(repo Repository) error {
		var err error
		out, err = s.reconstruct(ctx, repo, id, target)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.report(&effects{replayed: []int{out.DeltasApplied}})
	return out, nil
}

func (s *Service) reconstruct(ctx context.Context, repo Repository, id string, target int) (*Reconstruction, error) {
	p, err := repo.GetPlanilla(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if target < 1 || target > p.Version {
		return nil, &generic.NotFoundError{Kind: "version", ID: fmt.Sprintf("%s@%d", id, target)}
	}

	snap, err := repo.NearestSnapshot(ctx, id, target)
	if err != nil {
		return nil, err
	}
	records, err := repo.ListChangesBetween(ctx, id, snap.Version, target)
	if err != nil {
		return nil, fmt.Errorf("load deltas: %w", err)
	}

	state, applied, err := Replay(snap.Payload, records, target)
	if err != nil {
		return nil, err
	}
	return &Reconstruction{State: state, SnapshotVersion: snap.Version, DeltasApplied: applied}, nil
}

// Replay folds records onto a copy of base through generic.Replay.
// Records outside (base.Version, target] are skipped. It performs no I/O.
func Replay(base PlanillaState, records []ChangeRecord, target int) (PlanillaState, int, error) {
	g, err := base.Generic()
	if err != nil {
		return PlanillaState{}, 0, err
	}
	deltas := make([]generic.Delta, 0, len(records))
	for _, r := range records {
		deltas = append(deltas, generic.Delta{Version: r.VersionAfter, New: r.After})
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].Version < deltas[j].Version })

	folded, applied := generic.Replay(g, base.Version, target, deltas, ComparedFields)
	state, err := StateFromGeneric(folded)
	if err != nil {
		return PlanillaState{}, 0, err
	}
	if applied > 0 {
		state.Version = lastVersion(deltas, base.Version, target)
	}
	return state, applied, nil
}

func lastVersion(deltas []generic.Delta, base, target int) int {
	v := base
	for _, d := range deltas {
		if d.Version > v && d.Version <= target {
			v = d.Version
		}
	}
	return v
}

// =============================================================================
// RESTORE
// =============================================================================

// RestoreInput names the version to bring back.
type RestoreInput struct {
	Version int
	Actor   generic.Actor
	Reason  string
}

// Restore commits version in.Version of planilla id as its new live state.
// The planilla moves forward to current+1; nothing is erased.
func (s *Service) Restore(ctx context.Context, id string, in RestoreInput) (*Planilla, error) {
	if in.Actor == "" {
		return nil, generic.Invalid("actor", "is required")
	}

	var restored *Planilla
	var rebuilt *Reconstruction
	var fx effects
	err := s.store.WithTx(ctx, func(repo Repository) error {
		p, before, err := loadState(ctx, repo, id, false)
		if err != nil {
			return err
		}
		if !p.State.Editable() {
			return &generic.ConflictError{ID: id, Reason: fmt.Sprintf("planilla is %s and cannot be restored", p.State)}
		}
		exists, err := repo.ChangeExists(ctx, id, in.Version)
		if err != nil {
			return fmt.Errorf("check version: %w", err)
		}
		if !exists {
			return &generic.ConflictError{ID: id, Reason: fmt.Sprintf("no history entry produced version %d", in.Version)}
		}

		rebuilt, err = s.reconstruct(ctx, repo, id, in.Version)
		if err != nil {
			return err
		}
		fx.replay(rebuilt)
		target := rebuilt.State

		p.ApplyFields(target.Fields)
		if err := s.checkUnique(ctx, repo, p); err != nil {
			return err
		}
		p.Version = before.Version + 1
		p.UpdatedBy = in.Actor
		p.UpdatedAt = s.clock()

		days, err := s.ledger.RestoreDays(ctx, repo, p, target.Days, in.Actor)
		if err != nil {
			return err
		}
		p.Days = days
		if err := repo.UpdatePlanilla(ctx, p); err != nil {
			return fmt.Errorf("update planilla: %w", err)
		}
		if err := Recompute(ctx, repo, p); err != nil {
			return err
		}

		cat, err := loadCatalog(ctx, repo)
		if err != nil {
			return err
		}
		after := StateOf(p, cat)
		snap, err := s.snapshots.Capture(ctx, repo, after, generic.SnapshotManual, in.Actor)
		if err != nil {
			return err
		}
		fx.snapshot(snap)
		if _, err := s.history.RecordRestoration(ctx, repo, before, after, in.Version, rebuilt.SnapshotVersion, in.Actor, in.Reason); err != nil {
			return err
		}
		restored = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("planilla restored",
		zap.String("planilla_id", id),
		zap.Int("restored_from", in.Version),
		zap.Int("snapshot_used", rebuilt.SnapshotVersion),
		zap.Int("deltas_applied", rebuilt.DeltasApplied),
		zap.Int("version", restored.Version),
	)
	s.committed(ctx, &fx, ActionRestoration, EventRestored, eventPayload(restored))
	return restored, nil
}

// CreateManualSnapshot captures the current version of a live planilla
// tagged with reason, which defaults to manual. If that version is already
// captured the existing snapshot is returned.
func (s *Service) CreateManualSnapshot(ctx context.Context, id string, actor generic.Actor, reason generic.SnapshotReason) (*Snapshot, error) {
	if actor == "" {
		return nil, generic.Invalid("actor", "is required")
	}
	if reason == "" {
		reason = generic.SnapshotManual
	}
	if !reason.Valid() {
		return nil, generic.Invalid("reason", "unknown snapshot reason %q", reason)
	}

	var snap *Snapshot
	var fx effects
	err := s.store.WithTx(ctx, func(repo Repository) error {
		_, state, err := loadState(ctx, repo, id, false)
		if err != nil {
			return err
		}
		var written bool
		snap, written, err = s.snapshots.CaptureOnce(ctx, repo, state, reason, actor)
		if written {
			fx.snapshot(snap)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.report(&fx)
	return snap, nil
}

// =============================================================================
// DIFF
// =============================================================================

// Diff reconstructs versions from and to and compares them.
func (s *Service) Diff(ctx context.Context, id string, from, to int) (*VersionDiff, error) {
	var out *VersionDiff
	var fx effects
	err := s.store.ReadTx(ctx, func(repo Repository) error {
		a, err := s.reconstruct(ctx, repo, id, from)
		if err != nil {
			return err
		}
		b, err := s.reconstruct(ctx, repo, id, to)
		if err != nil {
			return err
		}
		fx.replay(a)
		fx.replay(b)
		out, err = DiffStates(a.State, b.State)
		if err != nil {
			return err
		}
		out.From, out.To = from, to
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.report(&fx)
	return out, nil
}

// DiffStates compares two planilla states: scalar fields, then days keyed
// by day of month.
func DiffStates(a, b PlanillaState) (*VersionDiff, error) {
	ga, err := a.Generic()
	if err != nil {
		return nil, err
	}
	gb, err := b.Generic()
	if err != nil {
		return nil, err
	}
	out := &VersionDiff{
		From:         a.Version,
		To:           b.Version,
		Fields:       []FieldDelta{},
		DaysAdded:    []DayState{},
		DaysRemoved:  []DayState{},
		DaysModified: []DayChange{},
	}
	cs := generic.Diff(ScalarFields, ga, gb)
	for _, f := range cs.Fields {
		out.Fields = append(out.Fields, FieldDelta{Field: f, Old: cs.Old[f], New: cs.New[f]})
	}

	byDay := make(map[int]DayState, len(a.Days))
	for _, d := range a.Days {
		byDay[d.Day] = d
	}
	seen := make(map[int]bool, len(b.Days))
	for _, d := range b.Days {
		seen[d.Day] = true
		old, ok := byDay[d.Day]
		if !ok {
			out.DaysAdded = append(out.DaysAdded, d)
			continue
		}
		if changes := dayChanges(old, d); len(changes) > 0 {
			out.DaysModified = append(out.DaysModified, DayChange{Day: d.Day, Changes: changes})
		}
	}
	for _, d := range a.Days {
		if !seen[d.Day] {
			out.DaysRemoved = append(out.DaysRemoved, d)
		}
	}
	return out, nil
}

func dayChanges(a, b DayState) map[string]FieldDelta {
	changes := map[string]FieldDelta{}
	add := func(field string, was, now json.RawMessage) {
		if string(was) != string(now) {
			changes[field] = FieldDelta{Field: field, Old: was, New: now}
		}
	}
	add("start", rawDecimal(a.Start.String()), rawDecimal(b.Start.String()))
	add("end", rawDecimal(a.End.String()), rawDecimal(b.End.String()))
	add("total_hours", rawDecimal(a.TotalHours.String()), rawDecimal(b.TotalHours.String()))
	add("is_sunday", rawBool(a.IsSunday), rawBool(b.IsSunday))
	add("is_holiday", rawBool(a.IsHoliday), rawBool(b.IsHoliday))
	return changes
}

func rawDecimal(s string) json.RawMessage { return json.RawMessage(strconv.Quote(s)) }
func rawBool(b bool) json.RawMessage      { return json.RawMessage(strconv.FormatBool(b)) }

// =============================================================================
// LIST VERSIONS
// =============================================================================

// ListVersions returns every change record of planilla id, newest first,
// annotated with the snapshot taken at that version, if any.
func (s *Service) ListVersions(ctx context.Context, id string) ([]VersionInfo, error) {
	var out []VersionInfo
	err := s.store.ReadTx(ctx, func(repo Repository) error {
		if _, err := repo.GetPlanilla(ctx, id, true); err != nil {
			return err
		}
		records, err := repo.ListChanges(ctx, id)
		if err != nil {
			return err
		}
		snaps, err := repo.ListSnapshots(ctx, id)
		if err != nil {
			return err
		}
		byVersion := make(map[int]Snapshot, len(snaps))
		for _, sn := range snaps {
			byVersion[sn.Version] = sn
		}
		out = make([]VersionInfo, 0, len(records))
		for _, r := range records {
			info := VersionInfo{Record: r}
			if sn, ok := byVersion[r.VersionAfter]; ok {
				info.HasSnapshot = true
				info.SnapshotMajor = sn.Major
				info.SnapshotReason = sn.Reason
			}
			out = append(out, info)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Record.VersionAfter > out[j].Record.VersionAfter })
		return nil
	})
	return out, err
}

// Snapshots lists the stored snapshots of planilla id, oldest first.
func (s *Service) Snapshots(ctx context.Context, id string) ([]Snapshot, error) {
	var out []Snapshot
	err := s.store.ReadTx(ctx, func(repo Repository) error {
		if _, err := repo.GetPlanilla(ctx, id, true); err != nil {
			return err
		}
		var err error
		out, err = repo.ListSnapshots(ctx, id)
		return err
	})
	return out, err
}
