// Copyright (C) 2026 SEALMit Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package resolve computes derived traceability views over a project
// state: transitive hazard/cause relationships and verification
// coverage. Nothing here is stored; every result is recomputed from the
// snapshot it is given.
//
// All traversals carry visited sets. The cause/hazard and requirement
// graphs are not expected to cycle, but a cycle must terminate cleanly
// rather than hang the caller.
package resolve

import (
	"slices"

	"github.com/sealmit/sealmit/services/registry/model"
)

// HazardsFor returns the ids of hazards the requirement mitigates,
// directly or transitively, sorted for determinism.
//
// A hazard is included when the requirement:
//   - mitigates it directly,
//   - mitigates it as a (cause, hazard) combination, or
//   - mitigates a cause, through that cause's outgoing Causes edges.
func HazardsFor(s *model.ProjectState, requirementID string) []string {
	hazards := make(map[string]bool)
	causes := make(map[string]bool)

	for _, t := range s.Traces {
		if t.Type != model.TraceMitigates || t.SourceID != requirementID {
			continue
		}
		target, ok := s.Artifacts[t.TargetID]
		if !ok {
			continue
		}
		switch target.Kind {
		case model.KindRiskHazard:
			hazards[t.TargetID] = true
		case model.KindRiskCause:
			causes[t.TargetID] = true
		}
	}

	// One hop of Causes expansion: hazards reachable from mitigated
	// causes. The visited set doubles as the cause map.
	for _, t := range s.Traces {
		if t.Type != model.TraceCauses || !causes[t.SourceID] {
			continue
		}
		if a, ok := s.Artifacts[t.TargetID]; ok && a.Kind == model.KindRiskHazard {
			hazards[t.TargetID] = true
		}
	}

	return sortedKeys(hazards)
}

// CausesFor returns the ids of causes the requirement mitigates,
// directly or by implication, sorted for determinism.
//
// A cause is included when the requirement:
//   - mitigates it directly,
//   - mitigates a specific (cause, hazard) combination naming it, or
//   - mitigates a hazard as a whole, for every cause of that hazard.
func CausesFor(s *model.ProjectState, requirementID string) []string {
	causes := make(map[string]bool)
	wholeHazards := make(map[string]bool)

	for _, t := range s.Traces {
		if t.Type != model.TraceMitigates || t.SourceID != requirementID {
			continue
		}
		target, ok := s.Artifacts[t.TargetID]
		if !ok {
			continue
		}
		switch target.Kind {
		case model.KindRiskCause:
			causes[t.TargetID] = true
		case model.KindRiskHazard:
			if t.CauseID != "" {
				causes[t.CauseID] = true
			} else {
				wholeHazards[t.TargetID] = true
			}
		}
	}

	for _, t := range s.Traces {
		if t.Type != model.TraceCauses || !wholeHazards[t.TargetID] {
			continue
		}
		if a, ok := s.Artifacts[t.SourceID]; ok && a.Kind == model.KindRiskCause {
			causes[t.SourceID] = true
		}
	}

	return sortedKeys(causes)
}

// VerificationCoverage returns the requirement's coverage ratio in [0,1].
//
// A leaf requirement is covered (1) when at least one passing
// verification activity has a Verifies trace pointing at it, else 0. A
// requirement with children is covered by the fraction of children whose
// own coverage is exactly 1. A requirement id that does not exist, or is
// not a requirement, has coverage 0.
func VerificationCoverage(s *model.ProjectState, requirementID string) float64 {
	return coverage(s, requirementID, make(map[string]bool))
}

func coverage(s *model.ProjectState, id string, visiting map[string]bool) float64 {
	a, ok := s.Artifacts[id]
	if !ok || a.Kind != model.KindRequirement {
		return 0
	}
	if visiting[id] {
		// Parent cycle. Treat the back edge as uncovered so the
		// recursion terminates.
		return 0
	}
	visiting[id] = true
	defer delete(visiting, id)

	children := s.ChildrenOf(id)
	if len(children) == 0 {
		if directlyVerified(s, id) {
			return 1
		}
		return 0
	}

	covered := 0
	for _, child := range children {
		if coverage(s, child, visiting) == 1 {
			covered++
		}
	}
	return float64(covered) / float64(len(children))
}

// directlyVerified reports whether any passing verification activity
// verifies the requirement. Failing activities and non-activity sources
// never contribute.
func directlyVerified(s *model.ProjectState, requirementID string) bool {
	for _, t := range s.Traces {
		if t.Type != model.TraceVerifies || t.TargetID != requirementID {
			continue
		}
		src, ok := s.Artifacts[t.SourceID]
		if !ok || src.Kind != model.KindVerificationActivity || src.Verification == nil {
			continue
		}
		if src.Verification.Passed {
			return true
		}
	}
	return false
}

// CoverageReport computes VerificationCoverage for every requirement in
// the state, keyed by requirement id.
func CoverageReport(s *model.ProjectState) map[string]float64 {
	out := make(map[string]float64)
	for id, a := range s.Artifacts {
		if a.Kind == model.KindRequirement {
			out[id] = VerificationCoverage(s, id)
		}
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
