package generic

// =============================================================================
// SNAPSHOT POLICY - When a full-state capture is taken
// =============================================================================

// SnapshotInterval is the version spacing of periodic snapshots. It bounds
// reconstruction to at most SnapshotInterval-1 delta replays.
const SnapshotInterval = 10

// SnapshotReason tags why a snapshot exists.
type SnapshotReason string

const (
	SnapshotAutomatic    SnapshotReason = "automatic"     // Periodic or critical-field change
	SnapshotManual       SnapshotReason = "manual"        // Operator or restore triggered
	SnapshotPreApproval  SnapshotReason = "pre_approval"  // Taken before settling
	SnapshotPreInvoicing SnapshotReason = "pre_invoicing" // Taken before invoicing
)

// Valid reports whether r is a known reason.
func (r SnapshotReason) Valid() bool {
	switch r {
	case SnapshotAutomatic, SnapshotManual, SnapshotPreApproval, SnapshotPreInvoicing:
		return true
	}
	return false
}

// ShouldSnapshot decides whether the mutation that moves an entity off
// previousVersion must be captured: the next version lands on the interval,
// or a critical field changed.
func ShouldSnapshot(previousVersion int, criticalChanged bool) bool {
	return (previousVersion+1)%SnapshotInterval == 0 || criticalChanged
}

// IsMajor marks snapshots that sit on the interval. Version 1 is also major
// because it is the base every entity is reconstructed from.
func IsMajor(version int) bool {
	return version == 1 || version%SnapshotInterval == 0
}
