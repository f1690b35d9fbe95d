// Copyright (C) 2025 Strategio Ltd. (engineering@strategio.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assistant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strategio/navigator/services/store"
)

func newTestStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.InsertTenant(context.Background(), &store.Tenant{
		ID: "t-1", Name: "Acme Consulting", OwnerUserID: "u-owner",
	}))
	return s
}

func TestBuildNeverFailsForEmptyTenant(t *testing.T) {
	s := newTestStore(t)
	builder := NewStrategyBuilder(s, nil, nil)

	sc, err := builder.Build(context.Background(), BuildInput{
		TenantID: "t-1", PersonaRole: PersonaOwner,
	})
	require.NoError(t, err)

	assert.Empty(t, sc.RoadmapSignals.Pains)
	assert.Empty(t, sc.RoadmapSignals.LeveragePoints)
	assert.Empty(t, sc.RoadmapSignals.WorkflowGaps)
	assert.Empty(t, sc.RoadmapSignals.QuickWins)
	assert.Nil(t, sc.TacticalFrame.PrimaryConstraint)
	assert.Nil(t, sc.TacticalFrame.SystemInFocus)
	assert.Nil(t, sc.TacticalFrame.LeveragePlay)
	assert.Empty(t, sc.Objectives)
}

func TestBuildAssemblesSignalsFrameAndObjectives(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRoadmap(ctx, &store.Roadmap{ID: "r-1", TenantID: "t-1", Status: "delivered"}))
	require.NoError(t, s.InsertRoadmapSection(ctx, &store.RoadmapSection{
		ID: "sec-1", RoadmapID: "r-1", Number: 1, Key: "pipeline", Title: "Sales Pipeline",
		Status: "pending", Body: "Proposal templating is a quick win here.",
	}))
	require.NoError(t, s.InsertRoadmapSection(ctx, &store.RoadmapSection{
		ID: "sec-2", RoadmapID: "r-1", Number: 2, Key: "ops", Title: "Operations",
		Status: "implemented", Body: "Already shipped.",
	}))
	require.NoError(t, s.InsertIntake(ctx, &store.Intake{
		ID: "in-1", TenantID: "t-1",
		Answers: map[string]any{"sales_pain": float64(9), "ops_pain": float64(6)},
	}))

	builder := NewStrategyBuilder(s, nil, nil)
	sc, err := builder.Build(ctx, BuildInput{TenantID: "t-1", PersonaRole: PersonaOwner})
	require.NoError(t, err)

	assert.NotEmpty(t, sc.RoadmapSignals.QuickWins)
	require.NotNil(t, sc.TacticalFrame.PrimaryConstraint)
	assert.Contains(t, *sc.TacticalFrame.PrimaryConstraint, "sales")
	assert.Contains(t, *sc.TacticalFrame.PrimaryConstraint, "9/10")

	// Implemented sections are excluded from objectives; pains append.
	assert.Equal(t, []string{"Sales Pipeline", "address sales pain", "address ops pain"}, sc.Objectives)

	// The audit copy is persisted keyed by tenant id.
	rec, err := s.GetStrategyContext(ctx, "t-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Contains(t, string(rec.Payload), `"tenantId":"t-1"`)
}

func TestBuildObjectivesOverrideSkipsInference(t *testing.T) {
	s := newTestStore(t)
	builder := NewStrategyBuilder(s, nil, nil)

	sc, err := builder.Build(context.Background(), BuildInput{
		TenantID:           "t-1",
		PersonaRole:        PersonaAdvisor,
		ObjectivesOverride: []string{"ship the Q3 plan"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ship the Q3 plan"}, sc.Objectives)
}

func TestParseIntakeAnswers(t *testing.T) {
	longText := "We keep losing track of client follow-ups because every account manager " +
		"uses a different spreadsheet and nothing rolls up to a single view of the pipeline."

	diag, notes := parseIntakeAnswers(map[string]any{
		"sales_pain":       float64(9),
		"finance_maturity": float64(2),
		"hr_pain":          "7", // numeric strings count
		"team_size":        float64(12),
		"biggest_issue":    longText,
		"short_note":       "fine",
	})

	require.NotNil(t, diag)
	assert.Equal(t, 9.0, diag.Pains["sales"])
	assert.Equal(t, 7.0, diag.Pains["hr"])
	assert.Equal(t, 2.0, diag.Maturity["finance"])
	assert.NotContains(t, diag.Pains, "team_size")
	assert.Equal(t, []string{longText}, notes)
}

func TestParseIntakeAnswersEmptyYieldsNilDiagnostics(t *testing.T) {
	diag, notes := parseIntakeAnswers(map[string]any{"company": "Acme"})
	assert.Nil(t, diag)
	assert.Empty(t, notes)
}

func TestDomainFromKey(t *testing.T) {
	assert.Equal(t, "sales", domainFromKey("sales_pain", "pain"))
	assert.Equal(t, "ops", domainFromKey("pain.ops", "pain"))
	assert.Equal(t, "general", domainFromKey("pain", "pain"))
}

func TestPromptBlockWrapsJSON(t *testing.T) {
	sc := &StrategyContext{TenantID: "t-1", PersonaRole: PersonaOwner, RoadmapSignals: emptySignals()}
	block := sc.PromptBlock()
	assert.Contains(t, block, "[strategy context]")
	assert.Contains(t, block, `"tenantId": "t-1"`)
	assert.Contains(t, block, "[end strategy context]")
}
