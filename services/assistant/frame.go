// Copyright (C) 2025 Strategio Ltd. (engineering@strategio.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assistant

import (
	"fmt"
	"strings"
)

// TacticalFrame is the single "what to focus on right now" conclusion for
// one query. Nullable fields are pointers so the JSON form carries explicit
// nulls when nothing was resolved.
type TacticalFrame struct {
	PrimaryConstraint     *string  `json:"primaryConstraint"`
	LeveragePlay          *string  `json:"leveragePlay"`
	RecommendedMicroSteps []string `json:"recommendedMicroSteps"`
	SystemInFocus         *string  `json:"systemInFocus"`
}

// ResolveFrame chooses exactly one tactical frame by strict priority.
//
// The ordering is a deliberate tie-break policy and determines what the
// assistant believes is the blocker on every query:
//
//  1. The highest diagnostic pain at 8 or above wins constraint and focus.
//     Ties break by score, then by domain name, never by map order.
//  2. Otherwise a supplied currentView becomes the focus with a generic
//     constraint message.
//  3. Independently, a leverage play is picked preferring low effort over
//     medium; if no focus was set yet and the play names a system, that
//     system is adopted as focus.
//  4. Micro-steps follow the focus system's recorded signals: workflow gap
//     beats quick win beats generic diagnose-then-fix. With no focus at
//     all, the steps are fully generic triage.
func ResolveFrame(signals RoadmapSignals, diag *Diagnostics, currentView string) TacticalFrame {
	frame := TacticalFrame{RecommendedMicroSteps: []string{}}

	if diag != nil {
		if domain, score, ok := dominantPain(diag.Pains); ok {
			constraint := fmt.Sprintf("%s is the primary constraint (pain rated %s/10)", domain, formatScore(score))
			frame.PrimaryConstraint = &constraint
			focus := domain
			frame.SystemInFocus = &focus
		}
	}

	if frame.PrimaryConstraint == nil && currentView != "" {
		focus := currentView
		frame.SystemInFocus = &focus
		constraint := fmt.Sprintf("no dominant pain on record; working within %s", currentView)
		frame.PrimaryConstraint = &constraint
	}

	if play, ok := pickLeveragePlay(signals.LeveragePoints); ok {
		frame.LeveragePlay = &play
		if frame.SystemInFocus == nil {
			if system := systemFromSignal(play); system != "" {
				frame.SystemInFocus = &system
			}
		}
	}

	frame.RecommendedMicroSteps = microSteps(signals, frame.SystemInFocus)
	return frame
}

// dominantPain returns the domain with the highest pain at 8 or above.
// Equal scores break lexicographically so the winner never depends on map
// iteration order.
func dominantPain(pains map[string]float64) (string, float64, bool) {
	var (
		bestDomain string
		bestScore  float64
		found      bool
	)
	for _, domain := range sortedKeys(pains) {
		score := pains[domain]
		if score < 8 {
			continue
		}
		if !found || score > bestScore {
			bestDomain, bestScore, found = domain, score, true
		}
	}
	return bestDomain, bestScore, found
}

// pickLeveragePlay prefers a low-effort play over a medium one. Plays
// carry their effort as a suffix emitted by the classifier.
func pickLeveragePlay(plays []string) (string, bool) {
	for _, play := range plays {
		if strings.Contains(play, "(low effort)") {
			return play, true
		}
	}
	if len(plays) > 0 {
		return plays[0], true
	}
	return "", false
}

// systemFromSignal recovers the system name from a "<system>: ..." signal.
func systemFromSignal(signal string) string {
	if idx := strings.Index(signal, ":"); idx > 0 {
		return strings.TrimSpace(signal[:idx])
	}
	return ""
}

func microSteps(signals RoadmapSignals, focus *string) []string {
	if focus == nil {
		return []string{
			"List the top three operational frictions",
			"Score each by pain and effort",
			"Commit to the highest pain, lowest effort item",
		}
	}
	system := *focus
	switch {
	case signalMentions(signals.WorkflowGaps, system):
		return []string{
			fmt.Sprintf("Map the current %s workflow end to end", system),
			fmt.Sprintf("Name a single owner for %s", system),
			"Write the minimal standard process and socialize it",
		}
	case signalMentions(signals.QuickWins, system):
		return []string{
			fmt.Sprintf("Scope the quick win in %s to one week of work", system),
			"Ship it and measure the time saved",
			"Report the result back to the team",
		}
	default:
		return []string{
			fmt.Sprintf("Diagnose the biggest friction in %s", system),
			"Pick one fix with visible impact",
			"Review the result in two weeks",
		}
	}
}

func signalMentions(signals []string, system string) bool {
	needle := strings.ToLower(system)
	for _, signal := range signals {
		if strings.Contains(strings.ToLower(signal), needle) {
			return true
		}
	}
	return false
}
