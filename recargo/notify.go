package recargo

import "context"

// =============================================================================
// OUTBOUND COLLABORATORS
// =============================================================================

// Event names published after a mutation commits.
const (
	EventCreated  = "planilla.created"
	EventUpdated  = "planilla.updated"
	EventDeleted  = "planilla.deleted"
	EventSettled  = "planilla.settled"
	EventInvoiced = "planilla.invoiced"
	EventRestored = "planilla.restored"
)

// Notifier broadcasts committed mutations. It is called after commit and
// its errors are logged, never returned to the caller.
type Notifier interface {
	Notify(ctx context.Context, event string, payload any) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, any) error { return nil }

// Metrics receives domain counters.
type Metrics interface {
	SnapshotWritten(reason string, sizeBytes int)
	MutationCommitted(action string)
	DeltasReplayed(n int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) SnapshotWritten(string, int) {}
func (NopMetrics) MutationCommitted(string)    {}
func (NopMetrics) DeltasReplayed(int)          {}
