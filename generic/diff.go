/*
diff.go - Field-level change detection over an explicit field list

PURPOSE:
  Computes what changed between two states of a versioned entity. Only the
  fields named by the caller are compared, so adding a column to an entity
  never silently changes what the history records. The field list is part
  of the entity's contract and lives next to the entity (see
  recargo/fields.go).

STATE REPRESENTATION:
  A State is the entity's JSON object decoded one level deep:
  field name -> raw JSON value. Two values are equal when their compacted
  JSON encodings are byte-equal. Entities marshal deterministically
  (decimals as trimmed strings, no maps), so this is exact.

EXAMPLE:
  before := State{"notes": `"a"`, "state": `"pending"`}
  after  := State{"notes": `"b"`, "state": `"pending"`}
  cs := Diff([]string{"notes", "state"}, before, after)
  // cs.Fields == ["notes"], cs.Old["notes"] == `"a"`, cs.New["notes"] == `"b"`

SEE ALSO:
  - replay.go: Applies ChangeSet.New onto a base state
  - recargo/history.go: Persists ChangeSets as change records
*/
package generic

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// State is a shallow JSON decoding of an entity: field -> raw value.
type State map[string]json.RawMessage

// ToState marshals v and splits it into its top-level fields.
func ToState(v any) (State, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("split state: %w", err)
	}
	return s, nil
}

// FromState decodes a State back into v.
func FromState(s State, v any) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	return nil
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// ChangeSet holds the fields that differ and their old and new values.
type ChangeSet struct {
	Fields []string
	Old    State
	New    State
}

// Empty reports whether nothing changed.
func (c ChangeSet) Empty() bool { return len(c.Fields) == 0 }

// Has reports whether field is part of the change set.
func (c ChangeSet) Has(field string) bool {
	for _, f := range c.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// HasAny reports whether any of the given fields changed.
func (c ChangeSet) HasAny(fields ...string) bool {
	for _, f := range fields {
		if c.Has(f) {
			return true
		}
	}
	return false
}

// Diff compares before and after on the given fields, in order.
// A field missing on one side and present on the other counts as a change.
func Diff(fields []string, before, after State) ChangeSet {
	cs := ChangeSet{Old: State{}, New: State{}}
	for _, f := range fields {
		b, inBefore := before[f]
		a, inAfter := after[f]
		if inBefore == inAfter && jsonEqual(b, a) {
			continue
		}
		cs.Fields = append(cs.Fields, f)
		if inBefore {
			cs.Old[f] = b
		}
		if inAfter {
			cs.New[f] = a
		}
	}
	return cs
}

func jsonEqual(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
