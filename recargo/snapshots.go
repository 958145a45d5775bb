package recargo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/warp/recargo-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// SNAPSHOT STORE - Periodic full-state captures
// =============================================================================

// SnapshotStore decides when to capture and writes snapshots through the
// transaction-bound repository.
type SnapshotStore struct {
	Clock generic.Clock
	Log   *zap.Logger
}

// MaybeSnapshot captures state when the mutation that moved the planilla
// off previousVersion lands on the snapshot interval or changed a critical
// field. It returns nil when no snapshot was due.
func (s SnapshotStore) MaybeSnapshot(ctx context.Context, repo Repository, state PlanillaState, previousVersion int, criticalChanged bool, actor generic.Actor) (*Snapshot, error) {
	if !generic.ShouldSnapshot(previousVersion, criticalChanged) {
		return nil, nil
	}
	return s.Capture(ctx, repo, state, generic.SnapshotAutomatic, actor)
}

// Capture writes a snapshot of state at state.Version unconditionally.
func (s SnapshotStore) Capture(ctx context.Context, repo Repository, state PlanillaState, reason generic.SnapshotReason, actor generic.Actor) (*Snapshot, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, &generic.IntegrityError{Op: "encode snapshot", Err: err}
	}
	snap := &Snapshot{
		ID:         generic.NewID(),
		PlanillaID: state.ID,
		Version:    state.Version,
		Payload:    state,
		Major:      generic.IsMajor(state.Version),
		Reason:     reason,
		SizeBytes:  len(raw),
		Actor:      actor,
		CreatedAt:  s.now(),
	}
	if err := repo.InsertSnapshot(ctx, snap); err != nil {
		return nil, &generic.IntegrityError{Op: "write snapshot", Err: err}
	}

	s.logger().Info("snapshot written",
		zap.String("planilla_id", snap.PlanillaID),
		zap.Int("version", snap.Version),
		zap.String("reason", string(snap.Reason)),
		zap.Bool("major", snap.Major),
		zap.Int("size_bytes", snap.SizeBytes),
		zap.Int("days", len(state.Days)),
	)
	return snap, nil
}

// CaptureOnce writes a snapshot at state.Version unless one already exists
// there, in which case the existing one is returned with written false.
func (s SnapshotStore) CaptureOnce(ctx context.Context, repo Repository, state PlanillaState, reason generic.SnapshotReason, actor generic.Actor) (snap *Snapshot, written bool, err error) {
	existing, err := repo.GetSnapshot(ctx, state.ID, state.Version)
	if err == nil {
		return existing, false, nil
	}
	if !generic.IsNotFound(err) {
		return nil, false, err
	}
	snap, err = s.Capture(ctx, repo, state, reason, actor)
	return snap, err == nil, err
}

func (s SnapshotStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return generic.UTCNow()
}

func (s SnapshotStore) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
