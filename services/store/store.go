// Copyright (C) 2025 Strategio Ltd. (engineering@strategio.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store provides the relational persistence layer for Navigator.
//
// The schema covers tenants, their delivery artifacts (roadmaps, sections,
// intakes) and the assistant subsystem's own tables (agent configs, threads,
// messages, logs, strategy contexts). The assistant package consumes this
// package through its own narrow interfaces, so tests can substitute
// in-memory fakes without touching SQL.
//
// Absence of delivery data is a valid state: lookups for a tenant's
// delivered roadmap or latest intake return (nil, nil) when no row exists,
// not an error.
package store

import (
	"time"
)

// Tenant is one client firm. Tenants are the unit of data isolation.
type Tenant struct {
	ID          string
	Name        string
	OwnerUserID string
	CreatedAt   time.Time
}

// User is a platform user belonging to a tenant. Superadmin users carry
// the "superadmin" role and may tap into any tenant's assistant.
type User struct {
	ID          string
	TenantID    string
	DisplayName string
	Role        string
}

// AgentConfig is the per-tenant assistant provisioning record. A tenant
// without a config (or with an empty AssistantID) is not onboarded and
// cannot hold conversation threads.
type AgentConfig struct {
	ID            string
	TenantID      string
	AgentType     string
	AssistantID   string
	VectorStoreID string
	CreatedAt     time.Time
}

// Roadmap is a strategic roadmap deliverable. Only roadmaps with status
// "delivered" ground the assistant.
type Roadmap struct {
	ID        string
	TenantID  string
	Title     string
	Status    string
	CreatedAt time.Time
}

// RoadmapSection is one ordered section of a roadmap. Key identifies the
// section for "current view" matching; Body is markdown.
type RoadmapSection struct {
	ID        string
	RoadmapID string
	Number    int
	Key       string
	Title     string
	Status    string
	Body      string
}

// Intake is a role-based intake submission. Answers is a free-form map of
// question key to answer value, stored as JSON.
type Intake struct {
	ID        string
	TenantID  string
	Answers   map[string]any
	CreatedAt time.Time
}

// ThreadKey identifies one durable conversation thread. The storage layer
// enforces uniqueness over the full key; that constraint is the correctness
// backstop against duplicate-thread creation under concurrent first use.
type ThreadKey struct {
	TenantID    string
	RoleType    string
	ActorUserID string
	ActorRole   string
}

// AgentThread maps a ThreadKey to its external-runtime thread. Visibility
// is set once at creation and never retroactively changed.
type AgentThread struct {
	ID               string
	TenantID         string
	RoleType         string
	ActorUserID      string
	ActorRole        string
	ExternalThreadID string
	AgentConfigID    string
	Visibility       string
	LastActivityAt   time.Time
	CreatedAt        time.Time
}

// AgentMessage is one persisted conversation message. The user's original,
// unwrapped text is stored, never the context-wrapped payload.
type AgentMessage struct {
	ID        string
	ThreadID  string
	Role      string
	Content   string
	CreatedAt time.Time
}

// AgentLog is one structured audit event. Metadata is stored as JSON.
type AgentLog struct {
	ID        string
	TenantID  string
	EventType string
	Metadata  map[string]any
	CreatedAt time.Time
}

// StrategyContextRecord is the audit copy of the last assembled strategy
// context for a tenant. It is upserted on every query and never read back
// to influence future derivations.
type StrategyContextRecord struct {
	TenantID  string
	Payload   []byte
	UpdatedAt time.Time
}
