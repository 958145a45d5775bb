package generic

import "encoding/json"

// =============================================================================
// REPLAY - Pure fold of deltas onto a snapshot
// =============================================================================

// Delta is the replayable part of one history record: the version it
// produced and the new values of the fields it changed.
type Delta struct {
	Version int
	New     State
}

// ApplyDelta overwrites on state every field of delta that is listed in
// replayable. Other fields in the delta are ignored. The input state is not
// modified.
func ApplyDelta(state State, delta Delta, replayable []string) State {
	out := state.Clone()
	for _, f := range replayable {
		v, ok := delta.New[f]
		if !ok {
			continue
		}
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		out[f] = cp
	}
	return out
}

// Replay folds deltas in ascending version order onto base, skipping any
// delta at or below baseVersion or above target. It returns the resulting
// state and how many deltas were applied.
func Replay(base State, baseVersion, target int, deltas []Delta, replayable []string) (State, int) {
	state := base.Clone()
	applied := 0
	last := baseVersion
	for _, d := range deltas {
		if d.Version <= last || d.Version > target {
			continue
		}
		state = ApplyDelta(state, d, replayable)
		last = d.Version
		applied++
	}
	return state, applied
}
