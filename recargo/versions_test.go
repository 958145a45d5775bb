package recargo_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/recargo-engine/generic"
	"github.com/warp/recargo-engine/recargo"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func liveState(t *testing.T, svc *recargo.Service, id string) recargo.PlanillaState {
	t.Helper()
	ctx := context.Background()
	p, err := svc.GetByID(ctx, id)
	require.NoError(t, err)
	types, err := svc.SurchargeTypes(ctx)
	require.NoError(t, err)
	cat := recargo.Catalog{}
	for _, st := range types {
		cat[st.Code] = st
	}
	return recargo.StateOf(p, cat)
}

func jsonOf(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func dayEnd(s recargo.PlanillaState, day int) string {
	for _, d := range s.Days {
		if d.Day == day {
			return d.End.String()
		}
	}
	return ""
}

// =============================================================================
// RECONSTRUCT
// =============================================================================

func TestReconstruct_CurrentVersionEqualsLiveState(t *testing.T) {
	// GIVEN: A planilla moved to version 13
	svc, _ := newService(t)
	ctx := context.Background()
	p := mustCreate(t, svc)
	ends := map[int]string{1: "19"}
	for v := 2; v <= 13; v++ {
		end := []string{"12", "13", "14", "15", "16", "17", "18", "20", "21"}[v%9]
		if ends[v-1] == end {
			end = "11"
		}
		mustUpdateEnd(t, svc, p.ID, end)
		ends[v] = end
	}

	// WHEN: Reconstructing the current version
	rec, err := svc.Reconstruct(ctx, p.ID, 13)
	require.NoError(t, err)

	// THEN: It matches the live planilla exactly, starting from the v10 snapshot
	assert.JSONEq(t, jsonOf(t, liveState(t, svc, p.ID)), jsonOf(t, rec.State))
	assert.Equal(t, 10, rec.SnapshotVersion)
	assert.Equal(t, 3, rec.DeltasApplied)

	// AND: Every earlier version is rebuilt within the delta bound
	for v := 1; v <= 13; v++ {
		r, err := svc.Reconstruct(ctx, p.ID, v)
		require.NoError(t, err, "version %d", v)
		assert.Equal(t, v, r.State.Version)
		assert.Equal(t, ends[v], dayEnd(r.State, 3), "version %d", v)
		assert.LessOrEqual(t, r.DeltasApplied, generic.SnapshotInterval-1)
		assert.LessOrEqual(t, r.SnapshotVersion, v)
	}
}

func TestReconstruct_OutOfRange(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p := mustCreate(t, svc)

	_, err := svc.Reconstruct(ctx, p.ID, 2)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	_, err = svc.Reconstruct(ctx, p.ID, 0)
	assert.ErrorIs(t, err, generic.ErrNotFound)

	_, err = svc.Reconstruct(ctx, "missing", 1)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestReconstruct_DeletedPlanilla(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p := mustCreate(t, svc)
	mustUpdateEnd(t, svc, p.ID, "20")
	require.NoError(t, svc.Delete(ctx, batch(p.ID)))

	rec, err := svc.Reconstruct(ctx, p.ID, 2)

	require.NoError(t, err)
	assert.Equal(t, "20", dayEnd(rec.State, 3))
	assert.Len(t, rec.State.Days, 3)
}

func TestReplay_IsPureFold(t *testing.T) {
	// GIVEN: A base state and two records, one carrying an unknown field
	base := recargo.PlanillaState{ID: "p-1", Version: 1}
	base.Notes = "a"
	records := []recargo.ChangeRecord{
		{VersionAfter: 3, After: generic.State{"notes": json.RawMessage(`"c"`)}},
		{VersionAfter: 2, After: generic.State{"notes": json.RawMessage(`"b"`), "bogus": json.RawMessage(`1`)}},
	}

	// WHEN: Replaying up to version 2
	got, applied, err := recargo.Replay(base, records, 2)

	// THEN: Only the record for version 2 is applied; the base is untouched
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "b", got.Notes)
	assert.Equal(t, "a", base.Notes)

	all, applied, err := recargo.Replay(base, records, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Equal(t, "c", all.Notes)
}

// =============================================================================
// RESTORE
// =============================================================================

func TestRestore_BringsBackOldVersionAndMovesForward(t *testing.T) {
	// GIVEN: A planilla whose day and notes changed after version 1
	svc, _ := newService(t)
	ctx := context.Background()
	p := mustCreate(t, svc)
	mustUpdateEnd(t, svc, p.ID, "20")
	_, err := svc.Update(ctx, p.ID, recargo.UpdateInput{Notes: ptr("ajustada"), Days: withEnd("20"), Actor: actor})
	require.NoError(t, err)

	// WHEN: Restoring version 1
	restored, err := svc.Restore(ctx, p.ID, recargo.RestoreInput{Version: 1, Actor: actor, Reason: "error de digitación"})
	require.NoError(t, err)

	// THEN: The planilla is at version 4 with version 1's content
	assert.Equal(t, 4, restored.Version)
	live := liveState(t, svc, p.ID)
	assert.Equal(t, "19", dayEnd(live, 3))
	assert.Equal(t, "", live.Notes)
	assert.Equal(t, "36", live.Totals.Hours.String())

	v1, err := svc.Reconstruct(ctx, p.ID, 1)
	require.NoError(t, err)
	assert.JSONEq(t, jsonOf(t, v1.State.Days), jsonOf(t, live.Days))

	// AND: The restoration is recorded with its source and a manual snapshot
	versions, err := svc.ListVersions(ctx, p.ID)
	require.NoError(t, err)
	rec := versions[0].Record
	assert.Equal(t, recargo.ActionRestoration, rec.Action)
	assert.Equal(t, 3, rec.VersionBefore)
	assert.Equal(t, 4, rec.VersionAfter)
	assert.JSONEq(t, `1`, string(rec.Before["restored_from"]))
	assert.JSONEq(t, `1`, string(rec.Before["snapshot_used"]))
	assert.ElementsMatch(t, []string{"notes", "total_hours", "total_hed", "work_days"}, rec.Fields)
	assert.True(t, versions[0].HasSnapshot)
	assert.Equal(t, generic.SnapshotManual, versions[0].SnapshotReason)

	// AND: History before the restore is intact
	v3, err := svc.Reconstruct(ctx, p.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, "ajustada", v3.State.Notes)
	assert.Equal(t, "20", dayEnd(v3.State, 3))
}

func TestRestore_TwiceYieldsSameDays(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p := mustCreate(t, svc)
	mustUpdateEnd(t, svc, p.ID, "21")

	first, err := svc.Restore(ctx, p.ID, recargo.RestoreInput{Version: 1, Actor: actor})
	require.NoError(t, err)
	daysAfterFirst := liveState(t, svc, p.ID).Days

	second, err := svc.Restore(ctx, p.ID, recargo.RestoreInput{Version: 1, Actor: actor})
	require.NoError(t, err)

	assert.Equal(t, 3, first.Version)
	assert.Equal(t, 4, second.Version)
	assert.JSONEq(t, jsonOf(t, daysAfterFirst), jsonOf(t, liveState(t, svc, p.ID).Days))

	versions, err := svc.ListVersions(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, recargo.ActionRestoration, versions[0].Record.Action)
	assert.Empty(t, versions[0].Record.Fields)
}

func TestRestore_Conflicts(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p := mustCreate(t, svc)

	_, err := svc.Restore(ctx, p.ID, recargo.RestoreInput{Version: 7, Actor: actor})
	assert.ErrorIs(t, err, generic.ErrConflict)

	_, err = svc.Restore(ctx, "missing", recargo.RestoreInput{Version: 1, Actor: actor})
	assert.ErrorIs(t, err, generic.ErrNotFound)

	_, err = svc.Settle(ctx, batch(p.ID))
	require.NoError(t, err)
	_, err = svc.Invoice(ctx, batch(p.ID))
	require.NoError(t, err)
	_, err = svc.Restore(ctx, p.ID, recargo.RestoreInput{Version: 1, Actor: actor})
	assert.ErrorIs(t, err, generic.ErrConflict)
}

// =============================================================================
// DIFF
// =============================================================================

func TestDiff_FieldsAndModifiedDays(t *testing.T) {
	// GIVEN: Version 2 extends day 3 by an hour
	svc, _ := newService(t)
	ctx := context.Background()
	p := mustCreate(t, svc)
	mustUpdateEnd(t, svc, p.ID, "20")

	// WHEN: Diffing 1 against 2
	d, err := svc.Diff(ctx, p.ID, 1, 2)
	require.NoError(t, err)

	// THEN: Totals and the day's end and hours differ
	fields := map[string]recargo.FieldDelta{}
	for _, f := range d.Fields {
		fields[f.Field] = f
	}
	assert.Len(t, fields, 2)
	assert.JSONEq(t, `"6"`, string(fields["total_hed"].Old))
	assert.JSONEq(t, `"7"`, string(fields["total_hed"].New))
	assert.Contains(t, fields, "total_hours")

	require.Len(t, d.DaysModified, 1)
	assert.Equal(t, 3, d.DaysModified[0].Day)
	assert.Len(t, d.DaysModified[0].Changes, 2)
	assert.JSONEq(t, `"19"`, string(d.DaysModified[0].Changes["end"].Old))
	assert.JSONEq(t, `"20"`, string(d.DaysModified[0].Changes["end"].New))
	assert.Empty(t, d.DaysAdded)
	assert.Empty(t, d.DaysRemoved)
}

func TestDiff_AddedAndRemovedDays(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p := mustCreate(t, svc)
	days := marchDays()
	days[1] = recargo.DayInput{Day: 5, Start: dec("6"), End: dec("23")}
	_, err := svc.Update(ctx, p.ID, recargo.UpdateInput{Days: days, Actor: actor})
	require.NoError(t, err)

	d, err := svc.Diff(ctx, p.ID, 1, 2)
	require.NoError(t, err)

	require.Len(t, d.DaysAdded, 1)
	assert.Equal(t, 5, d.DaysAdded[0].Day)
	require.Len(t, d.DaysRemoved, 1)
	assert.Equal(t, 4, d.DaysRemoved[0].Day)
	assert.Empty(t, d.DaysModified)
	assert.Empty(t, d.Fields)
}

func TestDiff_UnknownVersion(t *testing.T) {
	svc, _ := newService(t)
	p := mustCreate(t, svc)

	_, err := svc.Diff(context.Background(), p.ID, 1, 5)

	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// MANUAL SNAPSHOTS
// =============================================================================

func TestCreateManualSnapshot_OncePerVersion(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p := mustCreate(t, svc)
	mustUpdateEnd(t, svc, p.ID, "20")

	snap, err := svc.CreateManualSnapshot(ctx, p.ID, actor, "")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Version)
	assert.Equal(t, generic.SnapshotManual, snap.Reason)
	assert.False(t, snap.Major)
	assert.Positive(t, snap.SizeBytes)
	assert.Len(t, snap.Payload.Days, 3)

	again, err := svc.CreateManualSnapshot(ctx, p.ID, actor, "")
	require.NoError(t, err)
	assert.Equal(t, snap.ID, again.ID)

	rec, err := svc.Reconstruct(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.SnapshotVersion)
	assert.Zero(t, rec.DeltasApplied)
}

func TestCreateManualSnapshot_Reason(t *testing.T) {
	m := &countingMetrics{snapshots: map[string]int{}, mutations: map[string]int{}}
	svc, _ := newService(t, recargo.WithMetrics(m))
	ctx := context.Background()
	p := mustCreate(t, svc)
	mustUpdateEnd(t, svc, p.ID, "20")

	_, err := svc.CreateManualSnapshot(ctx, p.ID, actor, "weekly")
	assert.ErrorIs(t, err, generic.ErrValidation)

	snap, err := svc.CreateManualSnapshot(ctx, p.ID, actor, generic.SnapshotPreInvoicing)
	require.NoError(t, err)
	assert.Equal(t, generic.SnapshotPreInvoicing, snap.Reason)
	assert.Equal(t, 1, m.snapshots[string(generic.SnapshotPreInvoicing)])

	// The version is already captured; nothing new is written or counted
	again, err := svc.CreateManualSnapshot(ctx, p.ID, actor, generic.SnapshotManual)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, again.ID)
	assert.Equal(t, generic.SnapshotPreInvoicing, again.Reason)
	assert.Zero(t, m.snapshots[string(generic.SnapshotManual)])
}
