package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/recargo-engine/recargo"
)

var _ recargo.Metrics = (*Recorder)(nil)

func TestRecorder_CountsDomainEvents(t *testing.T) {
	// GIVEN: A fresh recorder
	r := New(Config{ServiceName: "test", Environment: "ci"})

	// WHEN: Recording snapshots, mutations and a replay
	r.SnapshotWritten("automatic", 2048)
	r.SnapshotWritten("automatic", 1024)
	r.SnapshotWritten("manual", 900)
	r.MutationCommitted("creation")
	r.MutationCommitted("modification")
	r.MutationCommitted("modification")
	r.DeltasReplayed(3)

	// THEN: Counters track labels independently
	assert.Equal(t, 2.0, testutil.ToFloat64(r.snapshots.WithLabelValues("automatic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.snapshots.WithLabelValues("manual")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.mutations.WithLabelValues("modification")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.replayed))
}

func TestRecorder_Handler(t *testing.T) {
	r := New(Config{})
	r.MutationCommitted("deletion")
	r.ObserveRequest(http.MethodGet, "/api/planillas/{id}", http.StatusOK, 15*time.Millisecond)
	r.ObserveRequest(http.MethodGet, "", http.StatusNotFound, time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `recargo_mutations_committed_total{action="deletion",env="unknown",service="recargo-engine"} 1`)
	assert.Contains(t, body, `route="/api/planillas/{id}"`)
	assert.Contains(t, body, `route="unmatched"`)
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
