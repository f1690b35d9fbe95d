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
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/strategio/navigator/pkg/logging"
	"github.com/strategio/navigator/services/assistant/observability"
	"github.com/strategio/navigator/services/store"
)

// Sentinel errors for the caller-visible failure classes. Handlers map
// these to status codes and plain-language messages with errors.Is.
var (
	// ErrRunFailed means every run attempt ended with "failed" status.
	// The user should rephrase the message.
	ErrRunFailed = errors.New("assistant run failed")

	// ErrRunIncomplete means the final attempt ended in a non-completed,
	// non-failed status. The user should simply try again.
	ErrRunIncomplete = errors.New("assistant run did not complete")

	// ErrNoReply means the run completed but no assistant message could
	// be located. Distinct from a run failure.
	ErrNoReply = errors.New("assistant produced no reply")
)

// maxRunAttempts bounds run submission per query.
const maxRunAttempts = 3

// replyLookback is how many of the thread's newest messages are searched
// for the assistant reply, tolerating out-of-order delivery.
const replyLookback = 10

// OutcomeKind classifies one run attempt.
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeRetryable
	OutcomeTerminal
)

// String returns "completed", "retryable", or "terminal".
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRetryable:
		return "retryable"
	default:
		return "terminal"
	}
}

// RunOutcome is the typed result of one run attempt.
type RunOutcome struct {
	Kind   OutcomeKind
	RunID  string
	Status string
	Reason string
}

// classifyRun maps a run result (or submission error) to an outcome.
// Transient run-level failures ("failed", "expired") and submission or
// polling errors are retryable; every other non-completed status is
// terminal.
func classifyRun(result RunResult, err error) RunOutcome {
	if err != nil {
		return RunOutcome{Kind: OutcomeRetryable, RunID: result.ID, Status: result.Status, Reason: err.Error()}
	}
	switch result.Status {
	case RunStatusCompleted:
		return RunOutcome{Kind: OutcomeCompleted, RunID: result.ID, Status: result.Status}
	case RunStatusFailed, RunStatusExpired:
		return RunOutcome{Kind: OutcomeRetryable, RunID: result.ID, Status: result.Status,
			Reason: "run ended " + result.Status}
	default:
		return RunOutcome{Kind: OutcomeTerminal, RunID: result.ID, Status: result.Status,
			Reason: "run ended " + result.Status}
	}
}

// Action is a retry decision: either back off and resubmit, or give up.
type Action struct {
	Retry bool
	Delay time.Duration
}

// nextAction is the pure retry policy: a retryable outcome before the
// attempt cap retries after a linear backoff of attempt x 1s; anything
// else gives up.
func nextAction(outcome RunOutcome, attempt int) Action {
	if outcome.Kind == OutcomeRetryable && attempt < maxRunAttempts {
		return Action{Retry: true, Delay: time.Duration(attempt) * time.Second}
	}
	return Action{}
}

// Sleeper abstracts the backoff delay so tests never sleep.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// OrchestratorStore is the slice of the relational store the orchestrator
// itself writes through. Thread and context loading go through their own
// components.
type OrchestratorStore interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	InsertAgentMessage(ctx context.Context, m *store.AgentMessage) error
	InsertAgentLog(ctx context.Context, l *store.AgentLog) error
	TouchAgentThread(ctx context.Context, id string, at time.Time) error
}

var _ OrchestratorStore = (*store.SQLite)(nil)

// Orchestrator is the top-level entry point for assistant queries. It
// assembles grounding context, resolves the durable thread, drives a
// bounded-retry run against the external runtime, extracts the reply, and
// persists the audit trail.
//
// Concurrent queries to the same thread are not locally serialized; the
// external runtime enforces one active run per thread. Within one query,
// message append strictly precedes run submission, which strictly precedes
// reply extraction.
type Orchestrator struct {
	store    OrchestratorStore
	builder  *StrategyBuilder
	threads  *ThreadResolver
	runtime  Runtime
	logger   *logging.Logger
	sleeper  Sleeper
	agentCfg func(ctx context.Context, tenantID string) (*store.AgentConfig, error)
}

// NewOrchestrator wires the query pipeline. The runtime is injected, never
// a package singleton, so tests can substitute a fake.
func NewOrchestrator(
	st *store.SQLite,
	builder *StrategyBuilder,
	threads *ThreadResolver,
	runtime Runtime,
	logger *logging.Logger,
	sleeper Sleeper,
) *Orchestrator {
	if logger == nil {
		logger = logging.Default()
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	return &Orchestrator{
		store:   st,
		builder: builder,
		threads: threads,
		runtime: runtime,
		logger:  logger,
		sleeper: sleeper,
		agentCfg: func(ctx context.Context, tenantID string) (*store.AgentConfig, error) {
			return st.GetAgentConfig(ctx, tenantID, string(AgentTypeRoadmapCoach))
		},
	}
}

// QueryInput is one inbound assistant query.
type QueryInput struct {
	TenantID    string
	Message     string
	ActorUserID string
	ActorRole   ActorRole

	// VisibilityOverride requests shared visibility at thread creation.
	VisibilityOverride Visibility

	// CurrentView is the roadmap section key the user is looking at.
	CurrentView string

	// TapIn requests the superadmin owner-persona escalation. Ignored and
	// logged for any other role.
	TapIn bool
}

// QueryResult is the successful outcome of one query.
type QueryResult struct {
	Reply    string
	RunID    string
	ThreadID string
}

// Query runs the full pipeline: CONTEXT_BUILD, THREAD_RESOLVE,
// MESSAGE_APPEND, RUN (up to 3 attempts), REPLY_EXTRACT, PERSIST.
//
// Context-derivation failures are swallowed and the query proceeds
// ungrounded. ErrTenantNotProvisioned surfaces before any message is
// appended or run submitted. Exhausted retries surface ErrRunFailed or
// ErrRunIncomplete depending on the terminal status; a completed run with
// no locatable reply surfaces ErrNoReply.
func (o *Orchestrator) Query(ctx context.Context, input QueryInput) (result *QueryResult, err error) {
	start := time.Now()
	defer func() {
		observability.DefaultMetrics.RecordQuery(queryStatus(err), time.Since(start).Seconds())
	}()

	profile := ResolveCapabilities(input.ActorRole)
	if input.TapIn {
		profile = o.applyTapIn(ctx, input, profile)
	}

	// CONTEXT_BUILD. Failures degrade groundedness, never the query.
	strategyCtx, buildErr := o.builder.Build(ctx, BuildInput{
		TenantID:    input.TenantID,
		PersonaRole: profile.Persona,
		CurrentView: input.CurrentView,
	})
	if buildErr != nil {
		o.logger.Warn("strategy context build failed, proceeding ungrounded",
			"tenant_id", input.TenantID, "error", buildErr)
		strategyCtx = nil
	}

	// THREAD_RESOLVE. Provisioning is checked here, before any message
	// append or run, so a misconfigured tenant leaves no partial state.
	thread, err := o.threads.Resolve(ctx, ResolveThreadInput{
		TenantID:           input.TenantID,
		ActorUserID:        input.ActorUserID,
		ActorRole:          input.ActorRole,
		VisibilityOverride: input.VisibilityOverride,
	})
	if err != nil {
		return nil, err
	}

	config, err := o.agentCfg(ctx, input.TenantID)
	if err != nil {
		return nil, err
	}
	if config == nil || config.AssistantID == "" {
		return nil, fmt.Errorf("tenant %s: %w", input.TenantID, ErrTenantNotProvisioned)
	}

	// MESSAGE_APPEND. The wrapped payload goes to the external thread;
	// only the original user text is persisted locally.
	if err := o.runtime.AddMessage(ctx, thread.ExternalThreadID, MessageRoleUser,
		wrapMessage(strategyCtx, input.Message)); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	// RUN with bounded retry and linear backoff.
	outcome, err := o.runWithRetry(ctx, thread.ExternalThreadID, config.AssistantID)
	if err != nil {
		return nil, err
	}

	// REPLY_EXTRACT among the newest messages, tolerating out-of-order
	// delivery.
	reply, err := o.extractReply(ctx, thread.ExternalThreadID)
	if err != nil {
		o.logger.Error("no assistant reply located after completed run",
			"tenant_id", input.TenantID, "thread_id", thread.ID, "run_id", outcome.RunID)
		return nil, err
	}

	// PERSIST. The audit trail is a hard requirement; persistence errors
	// fail the query.
	if err := o.persist(ctx, input, profile, thread, outcome.RunID, reply); err != nil {
		return nil, err
	}

	return &QueryResult{Reply: reply, RunID: outcome.RunID, ThreadID: thread.ID}, nil
}

// applyTapIn escalates a superadmin profile to the owner persona and logs
// the escalation. Non-superadmin tap-in requests are logged and ignored.
func (o *Orchestrator) applyTapIn(ctx context.Context, input QueryInput, profile CapabilityProfile) CapabilityProfile {
	if !profile.CanSeeCrossTenant {
		o.logger.Warn("tap-in requested by non-superadmin, ignored",
			"tenant_id", input.TenantID, "actor_user_id", input.ActorUserID,
			"actor_role", input.ActorRole)
		return profile
	}

	adminName := input.ActorUserID
	if user, err := o.store.GetUser(ctx, input.ActorUserID); err == nil {
		adminName = user.DisplayName
	}

	escalated := TapInProfile(profile)
	o.logger.Info("superadmin tap-in escalation",
		"tenant_id", input.TenantID, "actor_user_id", input.ActorUserID,
		"admin_name", adminName, "persona", escalated.Persona)
	if err := o.store.InsertAgentLog(ctx, &store.AgentLog{
		ID:        uuid.NewString(),
		TenantID:  input.TenantID,
		EventType: "capability_escalation",
		Metadata: map[string]any{
			"actor_user_id": input.ActorUserID,
			"actor_role":    string(input.ActorRole),
			"admin_name":    adminName,
			"persona":       string(escalated.Persona),
		},
	}); err != nil {
		o.logger.Error("failed to record tap-in escalation", "error", err)
	}
	return escalated
}

func (o *Orchestrator) runWithRetry(ctx context.Context, externalThreadID, assistantID string) (RunOutcome, error) {
	var outcome RunOutcome
	for attempt := 1; attempt <= maxRunAttempts; attempt++ {
		result, runErr := o.runtime.CreateAndPollRun(ctx, externalThreadID, assistantID)
		outcome = classifyRun(result, runErr)
		observability.DefaultMetrics.RecordRunAttempt(outcome.Kind.String())

		if outcome.Kind == OutcomeCompleted {
			return outcome, nil
		}

		action := nextAction(outcome, attempt)
		if !action.Retry {
			break
		}
		o.logger.Warn("run attempt failed, backing off",
			"attempt", attempt, "status", outcome.Status, "reason", outcome.Reason,
			"delay", action.Delay.String())
		observability.DefaultMetrics.RecordRetry()
		if err := o.sleeper.Sleep(ctx, action.Delay); err != nil {
			return outcome, err
		}
	}

	if outcome.Status == RunStatusFailed {
		return outcome, fmt.Errorf("run %s ended failed after %d attempts: %w",
			outcome.RunID, maxRunAttempts, ErrRunFailed)
	}
	return outcome, fmt.Errorf("run %s ended %s: %w", outcome.RunID, outcome.Status, ErrRunIncomplete)
}

// extractReply finds the newest assistant-authored message among the last
// replyLookback messages and returns its text.
func (o *Orchestrator) extractReply(ctx context.Context, externalThreadID string) (string, error) {
	messages, err := o.runtime.ListMessages(ctx, externalThreadID, replyLookback)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	for _, msg := range messages {
		if msg.Role == MessageRoleAssistant && msg.Text != "" {
			return msg.Text, nil
		}
	}
	return "", ErrNoReply
}

func (o *Orchestrator) persist(
	ctx context.Context,
	input QueryInput,
	profile CapabilityProfile,
	thread *store.AgentThread,
	runID, reply string,
) error {
	now := time.Now().UTC()

	if err := o.store.InsertAgentMessage(ctx, &store.AgentMessage{
		ID: uuid.NewString(), ThreadID: thread.ID, Role: MessageRoleUser, Content: input.Message,
	}); err != nil {
		return err
	}
	if err := o.store.InsertAgentMessage(ctx, &store.AgentMessage{
		ID: uuid.NewString(), ThreadID: thread.ID, Role: MessageRoleAssistant, Content: reply,
	}); err != nil {
		return err
	}
	if err := o.store.TouchAgentThread(ctx, thread.ID, now); err != nil {
		return err
	}
	return o.store.InsertAgentLog(ctx, &store.AgentLog{
		ID:        uuid.NewString(),
		TenantID:  input.TenantID,
		EventType: "assistant_query",
		Metadata: map[string]any{
			"actor_user_id":  input.ActorUserID,
			"actor_role":     string(input.ActorRole),
			"capabilities":   profile,
			"run_id":         runID,
			"thread_id":      thread.ID,
			"message_length": len(input.Message),
			"reply_length":   len(reply),
			"tap_in":         input.TapIn,
		},
	})
}

// wrapMessage prepends the strategy context block to the user's message.
// A nil context sends the message bare.
func wrapMessage(sc *StrategyContext, message string) string {
	if sc == nil {
		return message
	}
	return sc.PromptBlock() + "\n\n" + message
}

func queryStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTenantNotProvisioned):
		return "not_provisioned"
	case errors.Is(err, ErrRunFailed), errors.Is(err, ErrRunIncomplete):
		return "run_exhausted"
	case errors.Is(err, ErrNoReply):
		return "no_reply"
	default:
		return "error"
	}
}
