/*
scenarios_test.go - Tests for the demo scenarios

Each scenario is loaded through the API and the resulting history is
checked, so the scenarios double as end-to-end tests of the service.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/recargo-engine/generic"
	"github.com/warp/recargo-engine/recargo"
)

func loadScenario(t *testing.T, s *testServer, id string) PlanillaDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id}, "ops")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	planillas := decode[struct {
		Planillas []PlanillaDTO `json:"planillas"`
	}](t, rec).Planillas
	require.Len(t, planillas, 1)
	return planillas[0]
}

func TestScenario_MarchWalkthroughReachesVersionTen(t *testing.T) {
	// GIVEN: The walkthrough scenario
	s := newTestServer(t, nil)

	// WHEN: Loading it
	p := loadScenario(t, s, "march-walkthrough")

	// THEN: The planilla sits at version 10 with a major snapshot there
	assert.Equal(t, 10, p.Version)
	assert.Equal(t, "settled", p.State)
	assert.Equal(t, "Reviewed by operations", p.Notes)

	versions, err := s.handler.Service.ListVersions(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, versions, 10)
	assert.Equal(t, 10, versions[0].Record.VersionAfter)
	assert.True(t, versions[0].HasSnapshot)
	assert.True(t, versions[0].SnapshotMajor)
	assert.Equal(t, generic.SnapshotAutomatic, versions[0].SnapshotReason)

	// Version 6 is the last edit before the settle.
	rec, err := s.handler.Service.Reconstruct(context.Background(), p.ID, 6)
	require.NoError(t, err)
	assert.Equal(t, recargo.StatePending, rec.State.State)
	assert.Equal(t, "21", rec.State.Days[0].End.String())
}

func TestScenario_HolidayCalendarClassifiesDays(t *testing.T) {
	s := newTestServer(t, nil)

	p := loadScenario(t, s, "holiday-calendar")

	full, err := s.handler.Service.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	byDay := map[int]recargo.WorkDay{}
	for _, d := range full.Days {
		byDay[d.Day] = d
	}
	assert.False(t, byDay[21].IsSunday || byDay[21].IsHoliday)
	assert.True(t, byDay[23].IsSunday)
	assert.False(t, byDay[23].IsHoliday)
	assert.True(t, byDay[24].IsHoliday)
	// 10 to 23 on a holiday: RD 10, RN 2, HEFD 1, HEFN 2
	assert.Equal(t, "1", full.Totals.HEFD.String())
	assert.Equal(t, "2", full.Totals.HEFN.String())
}

func TestScenario_RestoreBringsBackVersionOne(t *testing.T) {
	s := newTestServer(t, nil)

	p := loadScenario(t, s, "restore")

	assert.Equal(t, 4, p.Version)
	assert.Equal(t, 2, p.Days)
	assert.Equal(t, "20", p.Hours.String())

	versions, err := s.handler.Service.ListVersions(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, recargo.ActionRestoration, versions[0].Record.Action)
}

func TestScenario_UnknownAndReset(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"}, "ops")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	loadScenario(t, s, "restore")
	rec = s.do(t, http.MethodGet, "/api/scenarios/current", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "restore", decode[ScenarioDTO](t, rec).ID)

	rec = s.do(t, http.MethodPost, "/api/scenarios/reset", nil, "ops")
	require.Equal(t, http.StatusOK, rec.Code)
	planillas, err := s.handler.Service.List(context.Background(), recargo.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, planillas)
}
