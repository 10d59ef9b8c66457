// Copyright (C) 2026 SEALMit Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package settings enforces project-level structural rules before a
// mutation is accepted.
//
// # Description
//
// The enforcer runs on every SaveDraft and Commit, after model-level
// validation. It checks the proposed state against the project
// configuration:
//
//   - single_parent: with EnforceSingleParent, every requirement has at
//     most one parent.
//   - orphan_prevention: with PreventOrphans, every requirement below
//     the top level has at least one parent.
//   - level_exists: every requirement's level is currently configured;
//     requirements left pointing at a renamed or removed level fail with
//     a dangling level reference until remapped.
//   - kind_immutable: an artifact id present in the prior state keeps
//     its kind in the proposed state.
//
// "Top level" means the first entry of the configured level list. The
// source material leaves this ambiguous; list order was chosen over an
// explicit flag and is recorded in DESIGN.md.
//
// Violations are reported together and the mutation is rejected as a
// whole; the enforcer never partially applies anything.
package settings

import (
	"fmt"

	"github.com/sealmit/sealmit/services/registry/model"
)

// ValidateMutation checks proposed against cfg and against prior.
//
// prior may be nil for the initial state of a project. The returned
// slice is empty when the mutation is acceptable.
func ValidateMutation(cfg model.ProjectConfig, prior, proposed *model.ProjectState) []model.RuleViolation {
	var out []model.RuleViolation

	top := cfg.TopLevel()
	for id, a := range proposed.Artifacts {
		if prior != nil {
			if old, ok := prior.Artifacts[id]; ok && old.Kind != a.Kind {
				out = append(out, model.RuleViolation{
					ArtifactID: id,
					Rule:       model.RuleKindImmutable,
					Detail:     fmt.Sprintf("kind cannot change from %q to %q", old.Kind, a.Kind),
				})
			}
		}

		if a.Kind != model.KindRequirement || a.Requirement == nil {
			continue
		}
		req := a.Requirement

		if cfg.EnforceSingleParent && len(req.ParentIDs) > 1 {
			out = append(out, model.RuleViolation{
				ArtifactID: id,
				Rule:       model.RuleSingleParent,
				Detail:     fmt.Sprintf("requirement has %d parents, at most 1 allowed", len(req.ParentIDs)),
			})
		}

		if !cfg.HasLevel(req.Level) {
			out = append(out, model.RuleViolation{
				ArtifactID: id,
				Rule:       model.RuleLevelExists,
				Detail:     fmt.Sprintf("level %q is not configured", req.Level),
			})
			continue
		}

		if cfg.PreventOrphans && req.Level != top && len(req.ParentIDs) == 0 {
			out = append(out, model.RuleViolation{
				ArtifactID: id,
				Rule:       model.RuleOrphanPrevention,
				Detail:     fmt.Sprintf("requirement at level %q has no parent", req.Level),
			})
		}
	}
	return out
}

// Check runs model validation and ValidateMutation together and folds
// the result into a single error, nil when the mutation is acceptable.
// This is the store's entry point on the mutation path.
func Check(cfg model.ProjectConfig, prior, proposed *model.ProjectState) error {
	violations := model.ValidateState(proposed)
	violations = append(violations, ValidateMutation(cfg, prior, proposed)...)
	return model.NewValidationError(violations)
}
