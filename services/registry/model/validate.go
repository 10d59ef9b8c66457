// Copyright (C) 2026 SEALMit Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package model

import (
	"fmt"
	"regexp"
)

// projectNamePattern matches valid project names: 1-100 characters,
// letters, digits, underscores, and hyphens only. Project names become
// storage key components, so anything fancier is rejected outright.
var projectNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,100}$`)

// ValidProjectName reports whether name is acceptable as a project id.
func ValidProjectName(name string) bool {
	return projectNamePattern.MatchString(name)
}

// ValidateArtifact checks the tagged-union shape of a single artifact:
// known kind, non-empty id and title, and exactly one variant payload
// matching the kind.
func ValidateArtifact(a Artifact) []RuleViolation {
	var out []RuleViolation
	add := func(detail string) {
		out = append(out, RuleViolation{ArtifactID: a.ID, Rule: RuleArtifactShape, Detail: detail})
	}

	if a.ID == "" {
		add("artifact id is empty")
	}
	if a.Title == "" {
		add("title is empty")
	}
	if !a.Kind.Valid() {
		add(fmt.Sprintf("unknown kind %q", a.Kind))
		return out
	}

	variants := 0
	if a.Requirement != nil {
		variants++
	}
	if a.Hazard != nil {
		variants++
	}
	if a.Cause != nil {
		variants++
	}
	if a.Verification != nil {
		variants++
	}
	if variants != 1 {
		add(fmt.Sprintf("expected exactly one variant payload, found %d", variants))
		return out
	}

	switch a.Kind {
	case KindRequirement:
		if a.Requirement == nil {
			add("requirement payload missing")
		}
	case KindRiskHazard:
		if a.Hazard == nil {
			add("risk hazard payload missing")
		}
	case KindRiskCause:
		if a.Cause == nil {
			add("risk cause payload missing")
		}
	case KindVerificationActivity:
		if a.Verification == nil {
			add("verification activity payload missing")
		} else if !a.Verification.Method.Valid() {
			add(fmt.Sprintf("unknown verification method %q", a.Verification.Method))
		}
	}
	return out
}

// ValidateTrace checks one trace against the state it belongs to:
// endpoints exist, the type is known, and the type-to-endpoint
// compatibility rules hold.
//
// Compatibility:
//   - Causes: RiskCause -> RiskHazard.
//   - Mitigates: targets a RiskHazard (optionally qualified by CauseID,
//     which must name an existing RiskCause) or a RiskCause.
//   - Verifies: targets a Requirement or a VerificationActivity.
//   - Satisfies: targets a Requirement.
func ValidateTrace(s *ProjectState, t Trace) []RuleViolation {
	id := t.Key().String()
	var out []RuleViolation
	add := func(rule, detail string) {
		out = append(out, RuleViolation{ArtifactID: id, Rule: rule, Detail: detail})
	}

	if !t.Type.Valid() {
		add(RuleTraceCompat, fmt.Sprintf("unknown trace type %q", t.Type))
		return out
	}

	src, srcOK := s.Artifacts[t.SourceID]
	if !srcOK {
		add(RuleTraceEndpoint, fmt.Sprintf("source artifact %q does not exist", t.SourceID))
	}
	dst, dstOK := s.Artifacts[t.TargetID]
	if !dstOK {
		add(RuleTraceEndpoint, fmt.Sprintf("target artifact %q does not exist", t.TargetID))
	}
	if !srcOK || !dstOK {
		return out
	}

	if t.CauseID != "" && t.Type != TraceMitigates {
		add(RuleTraceCompat, "cause qualifier is only valid on mitigates traces")
	}

	switch t.Type {
	case TraceCauses:
		if src.Kind != KindRiskCause {
			add(RuleTraceCompat, "causes trace must originate at a risk cause")
		}
		if dst.Kind != KindRiskHazard {
			add(RuleTraceCompat, "causes trace must terminate at a risk hazard")
		}
	case TraceMitigates:
		switch dst.Kind {
		case KindRiskHazard:
			if t.CauseID != "" {
				cause, ok := s.Artifacts[t.CauseID]
				if !ok {
					add(RuleTraceEndpoint, fmt.Sprintf("qualifying cause %q does not exist", t.CauseID))
				} else if cause.Kind != KindRiskCause {
					add(RuleTraceCompat, "cause qualifier must name a risk cause")
				}
			}
		case KindRiskCause:
			if t.CauseID != "" {
				add(RuleTraceCompat, "cause qualifier is redundant when the target is a risk cause")
			}
		default:
			add(RuleTraceCompat, "mitigates trace must terminate at a risk hazard or risk cause")
		}
	case TraceVerifies:
		if dst.Kind != KindRequirement && dst.Kind != KindVerificationActivity {
			add(RuleTraceCompat, "verifies trace must terminate at a requirement or verification activity")
		}
	case TraceSatisfies:
		if dst.Kind != KindRequirement {
			add(RuleTraceCompat, "satisfies trace must terminate at a requirement")
		}
	}
	return out
}

// ValidateState checks the whole state for structural consistency:
// every artifact well-formed with its map key matching its id, every
// requirement parent referencing an existing requirement, and every
// trace valid and unique.
//
// Settings-dependent rules (single parent, orphan prevention, level
// existence) live in the settings package, not here.
func ValidateState(s *ProjectState) []RuleViolation {
	var out []RuleViolation

	for id, a := range s.Artifacts {
		if a.ID != id {
			out = append(out, RuleViolation{
				ArtifactID: id,
				Rule:       RuleArtifactShape,
				Detail:     fmt.Sprintf("map key %q does not match artifact id %q", id, a.ID),
			})
		}
		out = append(out, ValidateArtifact(a)...)

		if a.Kind == KindRequirement && a.Requirement != nil {
			for _, pid := range a.Requirement.ParentIDs {
				parent, ok := s.Artifacts[pid]
				if !ok {
					out = append(out, RuleViolation{
						ArtifactID: id,
						Rule:       RuleParentRef,
						Detail:     fmt.Sprintf("parent %q does not exist", pid),
					})
				} else if parent.Kind != KindRequirement {
					out = append(out, RuleViolation{
						ArtifactID: id,
						Rule:       RuleParentRef,
						Detail:     fmt.Sprintf("parent %q is not a requirement", pid),
					})
				}
			}
		}
	}

	seen := make(map[TraceKey]bool, len(s.Traces))
	for _, t := range s.Traces {
		key := t.Key()
		if seen[key] {
			out = append(out, RuleViolation{
				ArtifactID: key.String(),
				Rule:       RuleTraceDuplicate,
				Detail:     "duplicate trace",
			})
			continue
		}
		seen[key] = true
		out = append(out, ValidateTrace(s, t)...)
	}
	return out
}
