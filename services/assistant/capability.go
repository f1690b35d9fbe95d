// Copyright (C) 2025 Strategio Ltd. (engineering@strategio.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package assistant implements Navigator's tenant-scoped assistant
// orchestration engine: capability resolution, grounding-context
// derivation, durable thread identity, and retryable run execution
// against the external conversational runtime.
package assistant

import "strings"

// ActorRole is the closed set of platform roles an actor can hold.
// Adding a role means editing the mapping table in ResolveCapabilities,
// not relying on a silent fallthrough.
type ActorRole string

const (
	RoleOwner      ActorRole = "owner"
	RoleSuperadmin ActorRole = "superadmin"
	RoleStaff      ActorRole = "staff"
	RoleTeam       ActorRole = "team"
)

// ParseActorRole normalizes a raw role string from transport (trimmed,
// lowercased). Anything outside the known set passes through and is treated
// by ResolveCapabilities as fully restricted.
func ParseActorRole(raw string) ActorRole {
	return ActorRole(strings.ToLower(strings.TrimSpace(raw)))
}

// Persona is the voice the assistant adopts toward the actor.
type Persona string

const (
	PersonaOwner   Persona = "owner"
	PersonaStaff   Persona = "staff"
	PersonaAdvisor Persona = "advisor"
)

// AgentType distinguishes assistant flavors per tenant. Only the roadmap
// coach exists today; the thread key reserves the slot.
type AgentType string

const AgentTypeRoadmapCoach AgentType = "roadmap_coach"

// Visibility tags who may read a thread's history.
type Visibility string

const (
	VisibilityOwner          Visibility = "owner"
	VisibilitySuperadminOnly Visibility = "superadmin_only"
	VisibilityShared         Visibility = "shared"
)

// CapabilityProfile is what the assistant is told it may do and how it
// should speak. It is derived per request from the actor's role and is
// never persisted as authorization truth.
type CapabilityProfile struct {
	CanWriteTickets   bool    `json:"canWriteTickets"`
	CanChangeRoadmap  bool    `json:"canChangeRoadmap"`
	CanSeeCrossTenant bool    `json:"canSeeCrossTenant"`
	Persona           Persona `json:"persona"`
}

// ResolveCapabilities maps an actor role to its capability profile.
//
// The function is pure and total: every input, including the empty string
// and roles the platform has never heard of, yields a well-formed profile.
// Unrecognized roles fall through to the most restrictive profile.
// CanSeeCrossTenant is true for exactly one role: superadmin.
//
// Client-supplied capability claims must never shortcut this function;
// the one sanctioned escalation path is TapInProfile.
func ResolveCapabilities(role ActorRole) CapabilityProfile {
	switch role {
	case RoleOwner:
		return CapabilityProfile{
			CanWriteTickets:  true,
			CanChangeRoadmap: true,
			Persona:          PersonaOwner,
		}
	case RoleSuperadmin:
		return CapabilityProfile{
			CanWriteTickets:   true,
			CanChangeRoadmap:  true,
			CanSeeCrossTenant: true,
			Persona:           PersonaAdvisor,
		}
	case RoleStaff, RoleTeam:
		return CapabilityProfile{
			CanWriteTickets: true,
			Persona:         PersonaStaff,
		}
	default:
		return CapabilityProfile{Persona: PersonaStaff}
	}
}

// TapInProfile returns the profile a superadmin assumes when tapping into
// a tenant's assistant under an owner-like persona. This is an intentional
// capability escalation, not identity spoofing: cross-tenant access is
// retained so the audit trail reflects who is really asking. Callers must
// log the escalation; the orchestrator does so via the
// capability_escalation audit event.
//
// For any non-superadmin profile the input is returned unchanged.
func TapInProfile(profile CapabilityProfile) CapabilityProfile {
	if !profile.CanSeeCrossTenant {
		return profile
	}
	escalated := profile
	escalated.Persona = PersonaOwner
	return escalated
}
