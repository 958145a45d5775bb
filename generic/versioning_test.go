package generic_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/recargo-engine/generic"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type sheet struct {
	Number string  `json:"number"`
	Notes  string  `json:"notes"`
	Hours  string  `json:"hours"`
	Days   []int   `json:"days"`
	Extra  *string `json:"extra,omitempty"`
}

var sheetFields = []string{"number", "notes", "hours"}

func mustState(t *testing.T, v any) generic.State {
	t.Helper()
	s, err := generic.ToState(v)
	require.NoError(t, err)
	return s
}

// =============================================================================
// DIFF TESTS
// =============================================================================

func TestDiff_OnlyListedFieldsCompared(t *testing.T) {
	// GIVEN: Two states differing in a listed field and an unlisted one
	before := mustState(t, sheet{Number: "A-1", Notes: "x", Hours: "8", Days: []int{1}})
	after := mustState(t, sheet{Number: "A-1", Notes: "y", Hours: "8", Days: []int{1, 2}})

	// WHEN: Diffing over the explicit field list
	cs := generic.Diff(sheetFields, before, after)

	// THEN: Only the listed field that changed is reported
	assert.Equal(t, []string{"notes"}, cs.Fields)
	assert.JSONEq(t, `"x"`, string(cs.Old["notes"]))
	assert.JSONEq(t, `"y"`, string(cs.New["notes"]))
	assert.NotContains(t, cs.New, "days")
}

func TestDiff_IdenticalStatesIsEmpty(t *testing.T) {
	s := mustState(t, sheet{Number: "A-1", Notes: "x", Hours: "8"})
	cs := generic.Diff(sheetFields, s, s.Clone())
	assert.True(t, cs.Empty())
}

func TestDiff_WhitespaceInEncodingIsIgnored(t *testing.T) {
	before := generic.State{"days": json.RawMessage(`[1, 2]`)}
	after := generic.State{"days": json.RawMessage(`[1,2]`)}
	assert.True(t, generic.Diff([]string{"days"}, before, after).Empty())
}

func TestDiff_FieldAppearingCountsAsChange(t *testing.T) {
	extra := "e"
	before := mustState(t, sheet{})
	after := mustState(t, sheet{Extra: &extra})

	cs := generic.Diff([]string{"extra"}, before, after)

	require.True(t, cs.Has("extra"))
	assert.NotContains(t, cs.Old, "extra")
	assert.JSONEq(t, `"e"`, string(cs.New["extra"]))
	assert.True(t, cs.HasAny("number", "extra"))
}

func TestFromState_RoundTrip(t *testing.T) {
	in := sheet{Number: "B-7", Notes: "n", Hours: "10.5", Days: []int{3}}
	var out sheet
	require.NoError(t, generic.FromState(mustState(t, in), &out))
	assert.Equal(t, in, out)
}

// =============================================================================
// REPLAY TESTS
// =============================================================================

func TestApplyDelta_OverwritesOnlyReplayableFields(t *testing.T) {
	// GIVEN: A base state and a delta that also carries a non-replayable field
	base := mustState(t, sheet{Number: "A-1", Notes: "old", Hours: "8", Days: []int{1}})
	delta := generic.Delta{Version: 2, New: generic.State{
		"notes": json.RawMessage(`"new"`),
		"days":  json.RawMessage(`[9]`),
	}}

	// WHEN: Applying the delta
	out := generic.ApplyDelta(base, delta, sheetFields)

	// THEN: notes is replaced, days is untouched, the input is not mutated
	var got sheet
	require.NoError(t, generic.FromState(out, &got))
	assert.Equal(t, "new", got.Notes)
	assert.Equal(t, []int{1}, got.Days)
	assert.JSONEq(t, `"old"`, string(base["notes"]))
}

func TestReplay_AppliesWindowInOrder(t *testing.T) {
	// GIVEN: Snapshot at v3 and deltas v2..v7 (v2 is before the snapshot)
	base := mustState(t, sheet{Notes: "v3"})
	var deltas []generic.Delta
	for v := 2; v <= 7; v++ {
		deltas = append(deltas, generic.Delta{
			Version: v,
			New:     generic.State{"notes": json.RawMessage(fmt.Sprintf(`"v%d"`, v))},
		})
	}

	// WHEN: Reconstructing v6
	out, applied := generic.Replay(base, 3, 6, deltas, sheetFields)

	// THEN: v4, v5, v6 were applied and v6 wins
	var got sheet
	require.NoError(t, generic.FromState(out, &got))
	assert.Equal(t, "v6", got.Notes)
	assert.Equal(t, 3, applied)
}

func TestReplay_TargetEqualsBaseAppliesNothing(t *testing.T) {
	base := mustState(t, sheet{Notes: "v5"})
	deltas := []generic.Delta{{Version: 5, New: generic.State{"notes": json.RawMessage(`"other"`)}}}

	out, applied := generic.Replay(base, 5, 5, deltas, sheetFields)

	assert.Equal(t, 0, applied)
	assert.JSONEq(t, `"v5"`, string(out["notes"]))
}

// =============================================================================
// SNAPSHOT POLICY TESTS
// =============================================================================

func TestShouldSnapshot(t *testing.T) {
	tests := []struct {
		prev     int
		critical bool
		want     bool
	}{
		{prev: 1, critical: false, want: false},
		{prev: 8, critical: false, want: false},
		{prev: 9, critical: false, want: true},
		{prev: 19, critical: false, want: true},
		{prev: 4, critical: true, want: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("prev=%d critical=%v", tt.prev, tt.critical), func(t *testing.T) {
			assert.Equal(t, tt.want, generic.ShouldSnapshot(tt.prev, tt.critical))
		})
	}
}

func TestShouldSnapshot_DensityBound(t *testing.T) {
	// Walking versions 1..100 with no critical changes, the gap between
	// consecutive snapshot versions never exceeds the interval.
	last := 1
	for prev := 1; prev < 100; prev++ {
		if generic.ShouldSnapshot(prev, false) {
			assert.LessOrEqual(t, prev+1-last, generic.SnapshotInterval)
			last = prev + 1
		}
	}
	assert.Equal(t, 100, last)
}

func TestIsMajor(t *testing.T) {
	assert.True(t, generic.IsMajor(1))
	assert.True(t, generic.IsMajor(10))
	assert.True(t, generic.IsMajor(30))
	assert.False(t, generic.IsMajor(11))
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestErrors_Classification(t *testing.T) {
	v := generic.Invalid("day", "must be between 1 and 31")
	assert.True(t, generic.IsClientError(v))
	assert.Contains(t, v.Error(), "day")

	nf := fmt.Errorf("load: %w", &generic.NotFoundError{Kind: "planilla", ID: "p1"})
	assert.True(t, generic.IsNotFound(nf))
	assert.False(t, generic.IsClientError(nf))

	assert.True(t, generic.IsConflict(&generic.ConflictError{ID: "p1", Reason: "invoiced"}))

	cause := errors.New("disk full")
	ie := &generic.IntegrityError{Op: "snapshot", Err: cause}
	assert.ErrorIs(t, ie, generic.ErrIntegrity)
	assert.ErrorIs(t, ie, cause)
}
