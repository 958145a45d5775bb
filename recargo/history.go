package recargo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/warp/recargo-engine/generic"
)

// =============================================================================
// CHANGE HISTORY - Append-only, changed fields only
// =============================================================================

// ChangeHistory writes change records through the transaction-bound
// repository of the mutation it describes.
type ChangeHistory struct {
	Clock generic.Clock
}

// ChangeInput describes one accepted mutation.
type ChangeInput struct {
	Action Action
	Before PlanillaState
	After  PlanillaState
	Fields []string
	Actor  generic.Actor
	Reason string

	// Always lists fields recorded even when their value did not change.
	Always []string
}

// RecordChange diffs Before and After over Fields. An empty diff writes
// nothing and returns nil unless Always names a field. Otherwise one
// record is appended with version_before = Before.Version and
// version_after = After.Version.
func (h ChangeHistory) RecordChange(ctx context.Context, repo Repository, in ChangeInput) (*ChangeRecord, error) {
	cs, err := compareStates(in.Fields, in.Before, in.After)
	if err != nil {
		return nil, err
	}
	if len(in.Always) > 0 {
		if err := keepFields(&cs, in.Always, in.Before, in.After); err != nil {
			return nil, err
		}
	}
	if cs.Empty() {
		return nil, nil
	}
	rec := &ChangeRecord{
		ID:            generic.NewID(),
		PlanillaID:    in.After.ID,
		Action:        in.Action,
		VersionBefore: in.Before.Version,
		VersionAfter:  in.After.Version,
		Fields:        cs.Fields,
		Before:        cs.Old,
		After:         cs.New,
		Reason:        in.Reason,
		Actor:         in.Actor,
		At:            h.now(),
	}
	return rec, h.append(ctx, repo, rec)
}

// RecordCreation stores every compared field of the first version.
func (h ChangeHistory) RecordCreation(ctx context.Context, repo Repository, after PlanillaState, actor generic.Actor, reason string) (*ChangeRecord, error) {
	full, err := after.Generic()
	if err != nil {
		return nil, err
	}
	newValues := generic.State{}
	for _, f := range ComparedFields {
		if v, ok := full[f]; ok {
			newValues[f] = v
		}
	}
	rec := &ChangeRecord{
		ID:            generic.NewID(),
		PlanillaID:    after.ID,
		Action:        ActionCreation,
		VersionBefore: 0,
		VersionAfter:  after.Version,
		Fields:        append([]string{}, ComparedFields...),
		Before:        generic.State{},
		After:         newValues,
		Reason:        reason,
		Actor:         actor,
		At:            h.now(),
	}
	return rec, h.append(ctx, repo, rec)
}

// RecordDeletion stores the full prior state and no after values.
func (h ChangeHistory) RecordDeletion(ctx context.Context, repo Repository, before PlanillaState, versionAfter int, actor generic.Actor, reason string) (*ChangeRecord, error) {
	full, err := before.Generic()
	if err != nil {
		return nil, err
	}
	rec := &ChangeRecord{
		ID:            generic.NewID(),
		PlanillaID:    before.ID,
		Action:        ActionDeletion,
		VersionBefore: before.Version,
		VersionAfter:  versionAfter,
		Fields:        []string{},
		Before:        full,
		After:         generic.State{},
		Reason:        reason,
		Actor:         actor,
		At:            h.now(),
	}
	return rec, h.append(ctx, repo, rec)
}

// RecordRestoration appends the restoration record. Its before values name
// the restored version and the snapshot used; its after values are the
// fields that the restore changed, so later replays pass through it.
func (h ChangeHistory) RecordRestoration(ctx context.Context, repo Repository, before, after PlanillaState, restoredFrom, snapshotUsed int, actor generic.Actor, reason string) (*ChangeRecord, error) {
	cs, err := compareStates(ComparedFields, before, after)
	if err != nil {
		return nil, err
	}
	fields := cs.Fields
	if fields == nil {
		fields = []string{}
	}
	rec := &ChangeRecord{
		ID:            generic.NewID(),
		PlanillaID:    after.ID,
		Action:        ActionRestoration,
		VersionBefore: before.Version,
		VersionAfter:  after.Version,
		Fields:        fields,
		Before: generic.State{
			"restored_from": mustRaw(restoredFrom),
			"snapshot_used": mustRaw(snapshotUsed),
		},
		After:  cs.New,
		Reason: reason,
		Actor:  actor,
		At:     h.now(),
	}
	return rec, h.append(ctx, repo, rec)
}

// keepFields adds unchanged fields to cs with equal old and new values.
func keepFields(cs *generic.ChangeSet, fields []string, before, after PlanillaState) error {
	b, err := before.Generic()
	if err != nil {
		return err
	}
	a, err := after.Generic()
	if err != nil {
		return err
	}
	for _, f := range fields {
		if cs.Has(f) {
			continue
		}
		cs.Fields = append(cs.Fields, f)
		if v, ok := b[f]; ok {
			cs.Old[f] = v
		}
		if v, ok := a[f]; ok {
			cs.New[f] = v
		}
	}
	return nil
}

func (h ChangeHistory) append(ctx context.Context, repo Repository, rec *ChangeRecord) error {
	if err := repo.AppendChange(ctx, rec); err != nil {
		return &generic.IntegrityError{Op: "append change record", Err: err}
	}
	return nil
}

func (h ChangeHistory) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return generic.UTCNow()
}

func mustRaw(v int) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}
