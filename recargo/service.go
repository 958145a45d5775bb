package recargo

import (
	"context"
	"errors"

	"github.com/warp/recargo-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// SERVICE - Entry point wiring the ledger, history and snapshots to a Store
// =============================================================================

// Service exposes the planilla lifecycle and version operations. Every
// mutating method runs in exactly one Store transaction.
type Service struct {
	store     Store
	ledger    DayLedger
	history   ChangeHistory
	snapshots SnapshotStore
	notifier  Notifier
	metrics   Metrics
	log       *zap.Logger
	clock     generic.Clock
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Child loggers are named from it.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithNotifier sets the post-commit notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock pins the time source.
func WithClock(c generic.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// NewService creates a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: NopNotifier{},
		metrics:  NopMetrics{},
		log:      zap.NewNop(),
		clock:    generic.UTCNow,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = DayLedger{Clock: s.clock}
	s.history = ChangeHistory{Clock: s.clock}
	s.snapshots = SnapshotStore{
		Clock: s.clock,
		Log:   s.log.Named("recargo.snapshots"),
	}
	s.log = s.log.Named("recargo.lifecycle")
	return s
}

// errNoChange aborts a transaction whose mutation turned out to be a no-op.
var errNoChange = errors.New("no change")

// effects collects what a transaction wrote. It is reported only once
// the transaction has committed.
type effects struct {
	snapshots []*Snapshot
	replayed  []int
}

func (e *effects) snapshot(snap *Snapshot) {
	if snap != nil {
		e.snapshots = append(e.snapshots, snap)
	}
}

func (e *effects) replay(r *Reconstruction) {
	if r != nil {
		e.replayed = append(e.replayed, r.DeltasApplied)
	}
}

// report feeds committed effects to metrics.
func (s *Service) report(fx *effects) {
	if fx == nil {
		return
	}
	for _, snap := range fx.snapshots {
		s.metrics.SnapshotWritten(string(snap.Reason), snap.SizeBytes)
	}
	for _, n := range fx.replayed {
		s.metrics.DeltasReplayed(n)
	}
}

// committed runs after a successful commit: reports effects, counts the
// mutation and notifies. Notifier failures are logged only.
func (s *Service) committed(ctx context.Context, fx *effects, action Action, event string, payload any) {
	s.report(fx)
	s.metrics.MutationCommitted(string(action))
	if err := s.notifier.Notify(ctx, event, payload); err != nil {
		s.log.Warn("notify failed",
			zap.String("event", event),
			zap.Error(err),
		)
	}
}
