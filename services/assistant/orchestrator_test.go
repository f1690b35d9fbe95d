// Copyright (C) 2025 Strategio Ltd. (engineering@strategio.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strategio/navigator/services/store"
)

func newTestOrchestrator(t *testing.T, s *store.SQLite, runtime Runtime) (*Orchestrator, *recordingSleeper) {
	t.Helper()
	sleeper := &recordingSleeper{}
	builder := NewStrategyBuilder(s, nil, nil)
	threads := NewThreadResolver(s, runtime, nil)
	return NewOrchestrator(s, builder, threads, runtime, nil, sleeper), sleeper
}

func TestClassifyRun(t *testing.T) {
	tests := []struct {
		name   string
		result RunResult
		err    error
		want   OutcomeKind
	}{
		{"completed", RunResult{ID: "r", Status: RunStatusCompleted}, nil, OutcomeCompleted},
		{"failed is retryable", RunResult{ID: "r", Status: RunStatusFailed}, nil, OutcomeRetryable},
		{"expired is retryable", RunResult{ID: "r", Status: RunStatusExpired}, nil, OutcomeRetryable},
		{"submission error is retryable", RunResult{}, errors.New("boom"), OutcomeRetryable},
		{"cancelled is terminal", RunResult{ID: "r", Status: "cancelled"}, nil, OutcomeTerminal},
		{"requires_action is terminal", RunResult{ID: "r", Status: "requires_action"}, nil, OutcomeTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyRun(tt.result, tt.err).Kind)
		})
	}
}

func TestNextAction(t *testing.T) {
	retryable := RunOutcome{Kind: OutcomeRetryable}

	first := nextAction(retryable, 1)
	assert.True(t, first.Retry)
	assert.Equal(t, time.Second, first.Delay)

	second := nextAction(retryable, 2)
	assert.True(t, second.Retry)
	assert.Equal(t, 2*time.Second, second.Delay, "backoff is linear in the attempt index")

	assert.False(t, nextAction(retryable, maxRunAttempts).Retry, "the cap ends retrying")
	assert.False(t, nextAction(RunOutcome{Kind: OutcomeTerminal}, 1).Retry)
	assert.False(t, nextAction(RunOutcome{Kind: OutcomeCompleted}, 1).Retry)
}

func TestQuerySuccessPersistsAuditTrail(t *testing.T) {
	s := newTestStore(t)
	provisionTenant(t, s, "t-1")
	runtime := newFakeRuntime()
	orch, _ := newTestOrchestrator(t, s, runtime)
	ctx := context.Background()

	result, err := orch.Query(ctx, QueryInput{
		TenantID: "t-1", Message: "What should I do first?",
		ActorUserID: "u-1", ActorRole: RoleOwner,
	})
	require.NoError(t, err)
	assert.Equal(t, "Focus on the sales pipeline first.", result.Reply)
	assert.NotEmpty(t, result.RunID)
	assert.NotEmpty(t, result.ThreadID)

	// The external thread got the wrapped payload; the store keeps only
	// the original user text.
	thread, err := s.GetAgentThread(ctx, store.ThreadKey{
		TenantID: "t-1", RoleType: RoleTypeOwner, ActorUserID: "u-1", ActorRole: string(RoleOwner),
	})
	require.NoError(t, err)
	require.NotNil(t, thread)
	external := runtime.threadMessages(thread.ExternalThreadID)
	require.NotEmpty(t, external)
	assert.Contains(t, external[0].Text, "[strategy context]")
	assert.Contains(t, external[0].Text, "What should I do first?")

	logs, err := s.ListAgentLogs(ctx, "t-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "assistant_query", logs[0].EventType)
	assert.Equal(t, "owner", logs[0].Metadata["actor_role"])
	assert.Equal(t, result.RunID, logs[0].Metadata["run_id"])
	assert.EqualValues(t, len("What should I do first?"), logs[0].Metadata["message_length"])
}

func TestQueryRetryBound(t *testing.T) {
	s := newTestStore(t)
	provisionTenant(t, s, "t-1")
	runtime := newFakeRuntime()
	runtime.runStatuses = []string{RunStatusFailed}
	orch, sleeper := newTestOrchestrator(t, s, runtime)

	_, err := orch.Query(context.Background(), QueryInput{
		TenantID: "t-1", Message: "hello", ActorUserID: "u-1", ActorRole: RoleOwner,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.Equal(t, 3, runtime.runsSubmitted(), "exactly three attempts")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.recorded())
}

func TestQueryExpiredExhaustionIsDistinctFromFailed(t *testing.T) {
	s := newTestStore(t)
	provisionTenant(t, s, "t-1")
	runtime := newFakeRuntime()
	runtime.runStatuses = []string{RunStatusExpired}
	orch, _ := newTestOrchestrator(t, s, runtime)

	_, err := orch.Query(context.Background(), QueryInput{
		TenantID: "t-1", Message: "hello", ActorUserID: "u-1", ActorRole: RoleOwner,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunIncomplete)
	assert.NotErrorIs(t, err, ErrRunFailed)
	assert.Equal(t, 3, runtime.runsSubmitted())
}

func TestQueryRecoversOnSecondAttempt(t *testing.T) {
	s := newTestStore(t)
	provisionTenant(t, s, "t-1")
	runtime := newFakeRuntime()
	runtime.runStatuses = []string{RunStatusFailed, RunStatusCompleted}
	orch, sleeper := newTestOrchestrator(t, s, runtime)

	result, err := orch.Query(context.Background(), QueryInput{
		TenantID: "t-1", Message: "hello", ActorUserID: "u-1", ActorRole: RoleOwner,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Reply)
	assert.Equal(t, 2, runtime.runsSubmitted())
	assert.Equal(t, []time.Duration{time.Second}, sleeper.recorded())
}

func TestQueryTerminalStatusDoesNotRetry(t *testing.T) {
	s := newTestStore(t)
	provisionTenant(t, s, "t-1")
	runtime := newFakeRuntime()
	runtime.runStatuses = []string{"cancelled"}
	orch, sleeper := newTestOrchestrator(t, s, runtime)

	_, err := orch.Query(context.Background(), QueryInput{
		TenantID: "t-1", Message: "hello", ActorUserID: "u-1", ActorRole: RoleOwner,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunIncomplete)
	assert.Equal(t, 1, runtime.runsSubmitted())
	assert.Empty(t, sleeper.recorded())
}

func TestQueryNoReplyIsDistinctErrorClass(t *testing.T) {
	s := newTestStore(t)
	provisionTenant(t, s, "t-1")
	runtime := newFakeRuntime()
	runtime.noReply = true
	orch, _ := newTestOrchestrator(t, s, runtime)

	_, err := orch.Query(context.Background(), QueryInput{
		TenantID: "t-1", Message: "hello", ActorUserID: "u-1", ActorRole: RoleOwner,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoReply)
	assert.NotErrorIs(t, err, ErrRunFailed)
	assert.NotErrorIs(t, err, ErrRunIncomplete)
}

func TestQueryProceedsUngroundedWhenContextBuildFails(t *testing.T) {
	s := newTestStore(t)
	provisionTenant(t, s, "t-1")
	runtime := newFakeRuntime()
	sleeper := &recordingSleeper{}
	// A builder over a closed store fails every read.
	broken, err := store.OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, broken.Close())
	builder := NewStrategyBuilder(broken, nil, nil)
	threads := NewThreadResolver(s, runtime, nil)
	orch := NewOrchestrator(s, builder, threads, runtime, nil, sleeper)

	result, err := orch.Query(context.Background(), QueryInput{
		TenantID: "t-1", Message: "hello", ActorUserID: "u-1", ActorRole: RoleOwner,
	})
	require.NoError(t, err, "context derivation failures never fail the query")
	assert.NotEmpty(t, result.Reply)

	thread, err := s.GetAgentThread(context.Background(), store.ThreadKey{
		TenantID: "t-1", RoleType: RoleTypeOwner, ActorUserID: "u-1", ActorRole: string(RoleOwner),
	})
	require.NoError(t, err)
	external := runtime.threadMessages(thread.ExternalThreadID)
	require.NotEmpty(t, external)
	assert.NotContains(t, external[0].Text, "[strategy context]", "ungrounded message is sent bare")
}

// End-to-end: a delivered roadmap with a quick-win section plus a 9/10
// sales pain yields quick-win signals and a sales-constrained frame inside
// the payload sent to the runtime.
func TestQueryScenarioQuickWinWithSalesPain(t *testing.T) {
	s := newTestStore(t)
	provisionTenant(t, s, "t-1")
	ctx := context.Background()

	require.NoError(t, s.InsertRoadmap(ctx, &store.Roadmap{ID: "r-1", TenantID: "t-1", Status: "delivered"}))
	require.NoError(t, s.InsertRoadmapSection(ctx, &store.RoadmapSection{
		ID: "sec-1", RoadmapID: "r-1", Number: 1, Key: "pipeline", Title: "Sales Pipeline",
		Status: "pending", Body: "Templating proposals is a quick win.",
	}))
	require.NoError(t, s.InsertIntake(ctx, &store.Intake{
		ID: "in-1", TenantID: "t-1", Answers: map[string]any{"sales_pain": float64(9)},
	}))

	runtime := newFakeRuntime()
	orch, _ := newTestOrchestrator(t, s, runtime)
	_, err := orch.Query(ctx, QueryInput{
		TenantID: "t-1", Message: "where do I start?", ActorUserID: "u-1", ActorRole: RoleOwner,
	})
	require.NoError(t, err)

	thread, err := s.GetAgentThread(ctx, store.ThreadKey{
		TenantID: "t-1", RoleType: RoleTypeOwner, ActorUserID: "u-1", ActorRole: string(RoleOwner),
	})
	require.NoError(t, err)
	external := runtime.threadMessages(thread.ExternalThreadID)
	require.NotEmpty(t, external)
	payload := external[0].Text
	assert.Contains(t, payload, "quick win available")
	assert.Contains(t, payload, "sales is the primary constraint")
	assert.Contains(t, payload, "9/10")
}

// End-to-end: superadmin visibility defaults to superadmin_only; a shared
// override on a fresh tenant yields a shared thread.
func TestQueryScenarioSuperadminVisibility(t *testing.T) {
	s := newTestStore(t)
	provisionTenant(t, s, "t-1")
	require.NoError(t, s.InsertTenant(context.Background(), &store.Tenant{
		ID: "t-2", Name: "Beta LLC", OwnerUserID: "u-beta",
	}))
	provisionTenant(t, s, "t-2")

	runtime := newFakeRuntime()
	orch, _ := newTestOrchestrator(t, s, runtime)
	ctx := context.Background()

	_, err := orch.Query(ctx, QueryInput{
		TenantID: "t-1", Message: "status?", ActorUserID: "u-admin", ActorRole: RoleSuperadmin,
	})
	require.NoError(t, err)
	thread, err := s.GetAgentThread(ctx, store.ThreadKey{
		TenantID: "t-1", RoleType: RoleTypeOwner, ActorUserID: "u-admin", ActorRole: string(RoleSuperadmin),
	})
	require.NoError(t, err)
	assert.Equal(t, string(VisibilitySuperadminOnly), thread.Visibility)

	_, err = orch.Query(ctx, QueryInput{
		TenantID: "t-2", Message: "status?", ActorUserID: "u-admin", ActorRole: RoleSuperadmin,
		VisibilityOverride: VisibilityShared,
	})
	require.NoError(t, err)
	shared, err := s.GetAgentThread(ctx, store.ThreadKey{
		TenantID: "t-2", RoleType: RoleTypeOwner, ActorUserID: "u-admin", ActorRole: string(RoleSuperadmin),
	})
	require.NoError(t, err)
	assert.Equal(t, string(VisibilityShared), shared.Visibility)
}

// End-to-end: a tenant whose agent config lacks an assistant id fails
// before any message is appended or any run submitted.
func TestQueryScenarioUnprovisionedTenantHasNoSideEffects(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertAgentConfig(context.Background(), &store.AgentConfig{
		ID: "cfg-1", TenantID: "t-1", AgentType: string(AgentTypeRoadmapCoach), AssistantID: "",
	}))
	runtime := newFakeRuntime()
	orch, _ := newTestOrchestrator(t, s, runtime)

	_, err := orch.Query(context.Background(), QueryInput{
		TenantID: "t-1", Message: "hello", ActorUserID: "u-1", ActorRole: RoleOwner,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTenantNotProvisioned)
	assert.Equal(t, 0, runtime.threadsCreated())
	assert.Equal(t, 0, runtime.runsSubmitted())

	logs, logErr := s.ListAgentLogs(context.Background(), "t-1", 10)
	require.NoError(t, logErr)
	assert.Empty(t, logs, "no partial audit state")
}

func TestQueryTapInEscalationIsLogged(t *testing.T) {
	s := newTestStore(t)
	provisionTenant(t, s, "t-1")
	require.NoError(t, s.InsertUser(context.Background(), &store.User{
		ID: "u-admin", TenantID: "t-0", DisplayName: "Dana Ops", Role: "superadmin",
	}))
	runtime := newFakeRuntime()
	orch, _ := newTestOrchestrator(t, s, runtime)

	_, err := orch.Query(context.Background(), QueryInput{
		TenantID: "t-1", Message: "how are margins?", ActorUserID: "u-admin",
		ActorRole: RoleSuperadmin, TapIn: true,
	})
	require.NoError(t, err)

	logs, err := s.ListAgentLogs(context.Background(), "t-1", 10)
	require.NoError(t, err)
	var escalations []store.AgentLog
	for _, l := range logs {
		if l.EventType == "capability_escalation" {
			escalations = append(escalations, l)
		}
	}
	require.Len(t, escalations, 1)
	assert.Equal(t, "Dana Ops", escalations[0].Metadata["admin_name"])
	assert.Equal(t, "owner", escalations[0].Metadata["persona"])
}

func TestQueryTapInIgnoredForNonSuperadmin(t *testing.T) {
	s := newTestStore(t)
	provisionTenant(t, s, "t-1")
	runtime := newFakeRuntime()
	orch, _ := newTestOrchestrator(t, s, runtime)

	_, err := orch.Query(context.Background(), QueryInput{
		TenantID: "t-1", Message: "hello", ActorUserID: "u-1",
		ActorRole: RoleOwner, TapIn: true,
	})
	require.NoError(t, err)

	logs, err := s.ListAgentLogs(context.Background(), "t-1", 10)
	require.NoError(t, err)
	for _, l := range logs {
		assert.NotEqual(t, "capability_escalation", l.EventType)
	}
}
