// Copyright (C) 2025 Strategio Ltd. (engineering@strategio.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/strategio/navigator/pkg/logging"
	"github.com/strategio/navigator/services/store"
)

// StrategyContext is the per-query grounding blob injected ahead of the
// user's message. One logical instance per (tenant, query); the upserted
// copy exists for audit only and is never read back into derivation.
type StrategyContext struct {
	TenantID       string         `json:"tenantId"`
	PersonaRole    Persona        `json:"personaRole"`
	RoadmapSignals RoadmapSignals `json:"roadmapSignals"`
	TacticalFrame  TacticalFrame  `json:"tacticalFrame"`
	Objectives     []string       `json:"objectives"`
	IntakeNotes    []string       `json:"intakeNotes,omitempty"`
}

// StrategyStore is the slice of the relational store the builder needs.
type StrategyStore interface {
	GetDeliveredRoadmap(ctx context.Context, tenantID string) (*store.Roadmap, error)
	ListRoadmapSections(ctx context.Context, roadmapID string) ([]store.RoadmapSection, error)
	GetLatestIntake(ctx context.Context, tenantID string) (*store.Intake, error)
	UpsertStrategyContext(ctx context.Context, tenantID string, payload []byte) error
}

var _ StrategyStore = (*store.SQLite)(nil)

// StrategyBuilder assembles one StrategyContext per query from a tenant's
// delivered roadmap, diagnostics, and latest intake.
type StrategyBuilder struct {
	store     StrategyStore
	extractor *SignalExtractor
	logger    *logging.Logger
}

// NewStrategyBuilder creates a builder. A nil extractor selects the lexical
// default; a nil logger selects the package default.
func NewStrategyBuilder(st StrategyStore, extractor *SignalExtractor, logger *logging.Logger) *StrategyBuilder {
	if extractor == nil {
		extractor = NewSignalExtractor(nil)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StrategyBuilder{store: st, extractor: extractor, logger: logger}
}

// BuildInput carries the per-query parameters for context assembly.
type BuildInput struct {
	TenantID    string
	PersonaRole Persona

	// CurrentView is the roadmap section key the user is looking at, if
	// the client reports one.
	CurrentView string

	// ObjectivesOverride replaces objective inference entirely when
	// non-nil. Test hook.
	ObjectivesOverride []string
}

// Build assembles the strategy context for one query.
//
// Absence of data is a valid state: a tenant with no delivered roadmap, no
// sections, and no intake yields a well-formed context with empty signal
// lists and an all-null frame, never an error. Store read failures do
// return an error; the orchestrator swallows it and proceeds ungrounded.
//
// The assembled context is upserted keyed by tenant id for audit. Upsert
// failure is logged and otherwise ignored so audit plumbing can never fail
// a user query.
func (b *StrategyBuilder) Build(ctx context.Context, input BuildInput) (*StrategyContext, error) {
	var sections []Section

	roadmap, err := b.store.GetDeliveredRoadmap(ctx, input.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load delivered roadmap: %w", err)
	}
	if roadmap != nil {
		rows, err := b.store.ListRoadmapSections(ctx, roadmap.ID)
		if err != nil {
			return nil, fmt.Errorf("load roadmap sections: %w", err)
		}
		sections = make([]Section, 0, len(rows))
		for _, row := range rows {
			sections = append(sections, Section{
				ID: row.ID, Key: row.Key, Title: row.Title, Status: row.Status, Body: row.Body,
			})
		}
	}

	var (
		diag  *Diagnostics
		notes []string
	)
	intake, err := b.store.GetLatestIntake(ctx, input.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load latest intake: %w", err)
	}
	if intake != nil {
		diag, notes = parseIntakeAnswers(intake.Answers)
	}

	signals := b.extractor.Extract(sections, diag)
	frame := ResolveFrame(signals, diag, input.CurrentView)

	objectives := input.ObjectivesOverride
	if objectives == nil {
		objectives = inferObjectives(sections, diag)
	}

	sc := &StrategyContext{
		TenantID:       input.TenantID,
		PersonaRole:    input.PersonaRole,
		RoadmapSignals: signals,
		TacticalFrame:  frame,
		Objectives:     objectives,
		IntakeNotes:    notes,
	}

	if payload, err := json.Marshal(sc); err == nil {
		if err := b.store.UpsertStrategyContext(ctx, input.TenantID, payload); err != nil {
			b.logger.Warn("strategy context audit upsert failed",
				"tenant_id", input.TenantID, "error", err)
		}
	}

	return sc, nil
}

// PromptBlock renders the context as the text block prepended to the
// user's message inside the external thread.
func (sc *StrategyContext) PromptBlock() string {
	payload, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("[strategy context]\n")
	b.Write(payload)
	b.WriteString("\n[end strategy context]")
	return b.String()
}

// parseIntakeAnswers applies the intake-specific heuristic: answer keys
// naming "pain" or "maturity" with numeric values become diagnostic
// scores, and long free-text answers become notes. This is deliberately a
// second, separate heuristic from the section-text classifier.
func parseIntakeAnswers(answers map[string]any) (*Diagnostics, []string) {
	const noteThreshold = 120

	diag := &Diagnostics{
		Pains:    make(map[string]float64),
		Maturity: make(map[string]float64),
	}
	var notes []string

	for _, key := range sortedAnswerKeys(answers) {
		value := answers[key]
		lower := strings.ToLower(key)

		if score, ok := numericAnswer(value); ok {
			switch {
			case strings.Contains(lower, "pain"):
				diag.Pains[domainFromKey(lower, "pain")] = score
			case strings.Contains(lower, "maturity"):
				diag.Maturity[domainFromKey(lower, "maturity")] = score
			}
			continue
		}

		if text, ok := value.(string); ok && len(text) > noteThreshold {
			notes = append(notes, text)
		}
	}

	if len(diag.Pains) == 0 && len(diag.Maturity) == 0 {
		diag = nil
	}
	return diag, notes
}

func sortedAnswerKeys(answers map[string]any) []string {
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func numericAnswer(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// domainFromKey strips the marker word and separators from an answer key,
// so "sales_pain" and "pain.sales" both yield "sales".
func domainFromKey(key, marker string) string {
	domain := strings.ReplaceAll(key, marker, "")
	domain = strings.Trim(domain, "_-. ")
	if domain == "" {
		return "general"
	}
	return domain
}

// inferObjectives derives top-level objectives: the first five sections not
// yet implemented, then up to three "address {domain} pain" entries from
// the top-3 highest-pain domains.
func inferObjectives(sections []Section, diag *Diagnostics) []string {
	objectives := []string{}

	for _, section := range sections {
		if len(objectives) >= 5 {
			break
		}
		if section.Status == "implemented" {
			continue
		}
		objectives = append(objectives, sectionName(section))
	}

	if diag != nil {
		for i, domain := range topPainDomains(diag.Pains) {
			if i >= 3 {
				break
			}
			objectives = append(objectives, fmt.Sprintf("address %s pain", domain))
		}
	}
	return objectives
}

// topPainDomains orders domains by descending pain, ties broken by name.
func topPainDomains(pains map[string]float64) []string {
	domains := sortedKeys(pains)
	sort.SliceStable(domains, func(i, j int) bool {
		return pains[domains[i]] > pains[domains[j]]
	})
	return domains
}
