// Copyright (C) 2025 Strategio Ltd. (engineering@strategio.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assistant

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Section is one roadmap section as seen by the signal pipeline.
type Section struct {
	ID     string
	Key    string
	Title  string
	Status string
	Body   string
}

// Diagnostics carries per-domain scores on a 0 to 10 scale.
type Diagnostics struct {
	Pains    map[string]float64
	Maturity map[string]float64
}

// RoadmapSignals is the derived, ephemeral signal set for one query. It is
// rebuilt from current roadmap and diagnostic state every time, never
// mutated in place.
type RoadmapSignals struct {
	Pains          []string `json:"pains"`
	LeveragePoints []string `json:"leveragePoints"`
	WorkflowGaps   []string `json:"workflowGaps"`
	QuickWins      []string `json:"quickWins"`
}

// SectionClassifier turns one roadmap section into per-category signal
// strings. The production implementation is a fixed lexical heuristic; the
// interface exists so a model-based classifier could replace it without
// touching the pipeline around it.
type SectionClassifier interface {
	Classify(section Section) RoadmapSignals
}

// LexicalClassifier scans lowercased section bodies for fixed trigger
// phrases and emits at most one signal per category per section. This is a
// deliberate substring heuristic, not NLP.
type LexicalClassifier struct{}

var _ SectionClassifier = LexicalClassifier{}

var (
	painTriggers        = []string{"bottleneck", "pain point", "firefighting"}
	quickWinTriggers    = []string{"quick win", "low hanging"}
	workflowGapTriggers = []string{"no defined process", "ad hoc", "undocumented"}
	leverageTriggers    = []string{"leverage", "automation opportunity", "multiplier"}
)

// Classify emits one human-readable signal per trigger category whose
// trigger appears in the section body. Leverage signals carry an effort
// suffix so the frame resolver can rank plays; "(low effort)" is emitted
// only when the body itself says so.
func (LexicalClassifier) Classify(section Section) RoadmapSignals {
	signals := emptySignals()
	body := strings.ToLower(section.Body)
	name := sectionName(section)

	if containsAny(body, painTriggers) {
		signals.Pains = append(signals.Pains, fmt.Sprintf("%s: recurring operational pain", name))
	}
	if containsAny(body, quickWinTriggers) {
		signals.QuickWins = append(signals.QuickWins, fmt.Sprintf("%s: quick win available", name))
	}
	if containsAny(body, workflowGapTriggers) {
		signals.WorkflowGaps = append(signals.WorkflowGaps, fmt.Sprintf("%s: workflow not standardized", name))
	}
	if containsAny(body, leverageTriggers) {
		effort := "medium effort"
		if strings.Contains(body, "low effort") {
			effort = "low effort"
		}
		signals.LeveragePoints = append(signals.LeveragePoints,
			fmt.Sprintf("%s: automation leverage (%s)", name, effort))
	}
	return signals
}

// SignalExtractor derives RoadmapSignals from roadmap sections and
// diagnostic scores. Extraction is deterministic, idempotent, and total:
// absent diagnostics yield a valid signal set with no pain-derived entries.
type SignalExtractor struct {
	classifier SectionClassifier
}

// NewSignalExtractor creates an extractor. A nil classifier selects the
// lexical default.
func NewSignalExtractor(classifier SectionClassifier) *SignalExtractor {
	if classifier == nil {
		classifier = LexicalClassifier{}
	}
	return &SignalExtractor{classifier: classifier}
}

// Extract scans every section through the classifier, folds diagnostic
// scores in, and deduplicates each list with set semantics (first
// occurrence wins, its position preserved).
func (e *SignalExtractor) Extract(sections []Section, diag *Diagnostics) RoadmapSignals {
	signals := emptySignals()

	for _, section := range sections {
		classified := e.classifier.Classify(section)
		signals.Pains = append(signals.Pains, classified.Pains...)
		signals.LeveragePoints = append(signals.LeveragePoints, classified.LeveragePoints...)
		signals.WorkflowGaps = append(signals.WorkflowGaps, classified.WorkflowGaps...)
		signals.QuickWins = append(signals.QuickWins, classified.QuickWins...)
	}

	if diag != nil {
		for _, domain := range sortedKeys(diag.Pains) {
			score := diag.Pains[domain]
			switch {
			case score >= 8:
				signals.Pains = append(signals.Pains,
					fmt.Sprintf("high pain in %s (%s/10)", domain, formatScore(score)))
			case score >= 6:
				signals.Pains = append(signals.Pains,
					fmt.Sprintf("moderate pain in %s (%s/10)", domain, formatScore(score)))
			}
		}
		for _, domain := range sortedKeys(diag.Maturity) {
			if score := diag.Maturity[domain]; score <= 3 {
				signals.WorkflowGaps = append(signals.WorkflowGaps,
					fmt.Sprintf("%s: low process maturity (%s/10)", domain, formatScore(score)))
			}
		}
	}

	signals.Pains = dedupe(signals.Pains)
	signals.LeveragePoints = dedupe(signals.LeveragePoints)
	signals.WorkflowGaps = dedupe(signals.WorkflowGaps)
	signals.QuickWins = dedupe(signals.QuickWins)
	return signals
}

// emptySignals returns a signal set with four empty, non-nil lists so the
// JSON form is always four arrays.
func emptySignals() RoadmapSignals {
	return RoadmapSignals{
		Pains:          []string{},
		LeveragePoints: []string{},
		WorkflowGaps:   []string{},
		QuickWins:      []string{},
	}
}

func sectionName(section Section) string {
	if section.Title != "" {
		return section.Title
	}
	if section.Key != "" {
		return section.Key
	}
	return section.ID
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

// formatScore renders a 0 to 10 score without a trailing ".0" for whole
// numbers, so a pain of 9 reads "9/10" rather than "9.0/10".
func formatScore(score float64) string {
	if score == float64(int64(score)) {
		return strconv.FormatInt(int64(score), 10)
	}
	return strconv.FormatFloat(score, 'f', 1, 64)
}

// sortedKeys makes diagnostic folding independent of map iteration order.
func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
