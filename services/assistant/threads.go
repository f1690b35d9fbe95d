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
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/strategio/navigator/pkg/logging"
	"github.com/strategio/navigator/services/assistant/observability"
	"github.com/strategio/navigator/services/store"
)

// ErrTenantNotProvisioned is returned when a tenant has no agent config
// with an external assistant id. A tenant must be onboarded before any
// thread can exist; this is a configuration error, never retried.
var ErrTenantNotProvisioned = errors.New("tenant has no provisioned assistant")

// RoleTypeOwner is the only role type in use today. The thread key keeps
// the slot so future agent flavors can hold separate threads per actor.
const RoleTypeOwner = "owner"

// ThreadStore is the slice of the relational store the resolver needs.
type ThreadStore interface {
	GetAgentConfig(ctx context.Context, tenantID, agentType string) (*store.AgentConfig, error)
	GetAgentThread(ctx context.Context, key store.ThreadKey) (*store.AgentThread, error)
	InsertAgentThread(ctx context.Context, t *store.AgentThread) error
}

var _ ThreadStore = (*store.SQLite)(nil)

// ThreadResolver maps (tenant, roleType, actor, actorRole) to one durable
// conversation thread, creating the backing external thread on first use.
type ThreadResolver struct {
	store   ThreadStore
	runtime Runtime
	logger  *logging.Logger

	// group coalesces concurrent first queries for the same key inside
	// this process. The unique index over the thread key remains the real
	// correctness backstop across processes.
	group singleflight.Group
}

// NewThreadResolver creates a resolver.
func NewThreadResolver(st ThreadStore, runtime Runtime, logger *logging.Logger) *ThreadResolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &ThreadResolver{store: st, runtime: runtime, logger: logger}
}

// ResolveThreadInput identifies the actor asking and their visibility wish.
type ResolveThreadInput struct {
	TenantID    string
	RoleType    string
	ActorUserID string
	ActorRole   ActorRole

	// VisibilityOverride requests "shared" visibility. Honored only for
	// superadmin actors, and only at thread creation.
	VisibilityOverride Visibility
}

// Resolve returns the actor's durable thread, creating it on first use.
//
// Reuse is idempotent: an existing row is returned unchanged, so
// conversation history persists across calls and a later call with a
// different visibility override never rewrites the stored visibility.
// Creation requires the tenant's agent config to carry an external
// assistant id; otherwise ErrTenantNotProvisioned is returned before any
// external call is made.
func (r *ThreadResolver) Resolve(ctx context.Context, input ResolveThreadInput) (*store.AgentThread, error) {
	if input.RoleType == "" {
		input.RoleType = RoleTypeOwner
	}
	key := store.ThreadKey{
		TenantID:    input.TenantID,
		RoleType:    input.RoleType,
		ActorUserID: input.ActorUserID,
		ActorRole:   string(input.ActorRole),
	}

	flightKey := strings.Join([]string{key.TenantID, key.RoleType, key.ActorUserID, key.ActorRole}, "|")
	result, err, _ := r.group.Do(flightKey, func() (any, error) {
		return r.resolve(ctx, key, input)
	})
	if err != nil {
		return nil, err
	}
	return result.(*store.AgentThread), nil
}

func (r *ThreadResolver) resolve(ctx context.Context, key store.ThreadKey, input ResolveThreadInput) (*store.AgentThread, error) {
	existing, err := r.store.GetAgentThread(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	config, err := r.store.GetAgentConfig(ctx, key.TenantID, string(AgentTypeRoadmapCoach))
	if err != nil {
		return nil, err
	}
	if config == nil || config.AssistantID == "" {
		return nil, fmt.Errorf("tenant %s: %w", key.TenantID, ErrTenantNotProvisioned)
	}

	visibility := resolveVisibility(input.ActorRole, input.VisibilityOverride)

	externalID, err := r.runtime.CreateThread(ctx, map[string]string{
		"tenant_id":     key.TenantID,
		"role_type":     key.RoleType,
		"actor_user_id": key.ActorUserID,
		"actor_role":    key.ActorRole,
	}, config.VectorStoreID)
	if err != nil {
		return nil, fmt.Errorf("create external thread: %w", err)
	}

	thread := &store.AgentThread{
		ID:               uuid.NewString(),
		TenantID:         key.TenantID,
		RoleType:         key.RoleType,
		ActorUserID:      key.ActorUserID,
		ActorRole:        key.ActorRole,
		ExternalThreadID: externalID,
		AgentConfigID:    config.ID,
		Visibility:       string(visibility),
		LastActivityAt:   time.Now().UTC(),
	}
	if err := r.store.InsertAgentThread(ctx, thread); err != nil {
		// Another process won the race; the unique index rejected us and
		// the winner's row is the thread. The orphaned external thread is
		// logged, not reaped.
		if winner, lookupErr := r.store.GetAgentThread(ctx, key); lookupErr == nil && winner != nil {
			r.logger.Warn("lost thread creation race, reusing winner",
				"tenant_id", key.TenantID, "actor_user_id", key.ActorUserID,
				"orphaned_external_thread_id", externalID)
			return winner, nil
		}
		return nil, err
	}

	r.logger.Info("created assistant thread",
		"tenant_id", key.TenantID, "actor_user_id", key.ActorUserID,
		"actor_role", key.ActorRole, "visibility", thread.Visibility,
		"external_thread_id", externalID)
	observability.DefaultMetrics.RecordThreadCreated(thread.Visibility)
	return thread, nil
}

// resolveVisibility derives the creation-time visibility tag from the
// actor role. Non-superadmin actors always get owner visibility; a
// superadmin defaults to superadmin_only unless the override asks for
// shared.
func resolveVisibility(role ActorRole, override Visibility) Visibility {
	if role != RoleSuperadmin {
		return VisibilityOwner
	}
	if override == VisibilityShared {
		return VisibilityShared
	}
	return VisibilitySuperadminOnly
}
