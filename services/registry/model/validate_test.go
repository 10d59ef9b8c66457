// Copyright (C) 2026 SEALMit Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestValidProjectName covers the accepted character set and length
// bounds.
func TestValidProjectName(t *testing.T) {
	assert.True(t, ValidProjectName("flight-control_v2"))
	assert.False(t, ValidProjectName(""))
	assert.False(t, ValidProjectName("has space"))
	assert.False(t, ValidProjectName("path/../escape"))

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}
	assert.False(t, ValidProjectName(string(long)))
}

// TestValidateArtifactShape rejects malformed tagged unions.
func TestValidateArtifactShape(t *testing.T) {
	good := NewArtifact(KindRiskCause, "C1")
	assert.Empty(t, ValidateArtifact(good))

	noTitle := NewArtifact(KindRiskCause, "")
	assert.NotEmpty(t, ValidateArtifact(noTitle))

	wrongVariant := NewArtifact(KindRequirement, "R1")
	wrongVariant.Requirement = nil
	wrongVariant.Hazard = &RiskHazard{}
	violations := ValidateArtifact(wrongVariant)
	require.NotEmpty(t, violations)
	assert.Equal(t, RuleArtifactShape, violations[0].Rule)

	twoVariants := NewArtifact(KindRequirement, "R1")
	twoVariants.Hazard = &RiskHazard{}
	assert.NotEmpty(t, ValidateArtifact(twoVariants))

	badMethod := NewArtifact(KindVerificationActivity, "V1")
	badMethod.Verification.Method = "inspection"
	assert.NotEmpty(t, ValidateArtifact(badMethod))
}

// TestValidateTraceCompatibility exercises the type-to-endpoint rules.
func TestValidateTraceCompatibility(t *testing.T) {
	s := NewProjectState(DefaultProjectConfig("demo"))
	req := NewArtifact(KindRequirement, "R1")
	req.Requirement.Level = "User"
	hazard := NewArtifact(KindRiskHazard, "H1")
	cause := NewArtifact(KindRiskCause, "C1")
	va := NewArtifact(KindVerificationActivity, "V1")
	for _, a := range []Artifact{req, hazard, cause, va} {
		s.Artifacts[a.ID] = a
	}

	cases := []struct {
		name  string
		trace Trace
		valid bool
	}{
		{"causes ok", Trace{SourceID: cause.ID, TargetID: hazard.ID, Type: TraceCauses}, true},
		{"causes wrong source", Trace{SourceID: req.ID, TargetID: hazard.ID, Type: TraceCauses}, false},
		{"causes wrong target", Trace{SourceID: cause.ID, TargetID: req.ID, Type: TraceCauses}, false},
		{"mitigates hazard", Trace{SourceID: req.ID, TargetID: hazard.ID, Type: TraceMitigates}, true},
		{"mitigates pair", Trace{SourceID: req.ID, TargetID: hazard.ID, Type: TraceMitigates, CauseID: cause.ID}, true},
		{"mitigates pair bad cause", Trace{SourceID: req.ID, TargetID: hazard.ID, Type: TraceMitigates, CauseID: "nope"}, false},
		{"mitigates cause", Trace{SourceID: req.ID, TargetID: cause.ID, Type: TraceMitigates}, true},
		{"mitigates requirement", Trace{SourceID: req.ID, TargetID: req.ID, Type: TraceMitigates}, false},
		{"verifies requirement", Trace{SourceID: va.ID, TargetID: req.ID, Type: TraceVerifies}, true},
		{"verifies activity", Trace{SourceID: va.ID, TargetID: va.ID, Type: TraceVerifies}, true},
		{"verifies hazard", Trace{SourceID: va.ID, TargetID: hazard.ID, Type: TraceVerifies}, false},
		{"satisfies requirement", Trace{SourceID: req.ID, TargetID: req.ID, Type: TraceSatisfies}, true},
		{"satisfies cause", Trace{SourceID: req.ID, TargetID: cause.ID, Type: TraceSatisfies}, false},
		{"missing endpoint", Trace{SourceID: "ghost", TargetID: req.ID, Type: TraceSatisfies}, false},
		{"unknown type", Trace{SourceID: req.ID, TargetID: req.ID, Type: "depends"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			violations := ValidateTrace(s, tc.trace)
			if tc.valid {
				assert.Empty(t, violations)
			} else {
				assert.NotEmpty(t, violations)
			}
		})
	}
}

// TestValidateStateFindsDuplicatesAndDanglingParents covers the
// whole-state structural checks.
func TestValidateStateFindsDuplicatesAndDanglingParents(t *testing.T) {
	s := NewProjectState(DefaultProjectConfig("demo"))
	req := NewArtifact(KindRequirement, "R1")
	req.Requirement.Level = "User"
	req.Requirement.ParentIDs = []string{"gone"}
	s.Artifacts[req.ID] = req

	hazard := NewArtifact(KindRiskHazard, "H1")
	s.Artifacts[hazard.ID] = hazard

	tr := Trace{SourceID: req.ID, TargetID: hazard.ID, Type: TraceMitigates}
	s.Traces = []Trace{tr, tr}

	violations := ValidateState(s)
	rules := make(map[string]int)
	for _, v := range violations {
		rules[v.Rule]++
	}
	assert.Equal(t, 1, rules[RuleParentRef])
	assert.Equal(t, 1, rules[RuleTraceDuplicate])
}

// TestValidationErrorKinds verifies the error wrapping contract the
// adapter layer depends on.
func TestValidationErrorKinds(t *testing.T) {
	assert.NoError(t, NewValidationError(nil))

	err := NewValidationError([]RuleViolation{
		{ArtifactID: "a1", Rule: RuleSingleParent, Detail: "two parents"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))
	assert.False(t, errors.Is(err, ErrDanglingLevelReference))

	var valErr *ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Equal(t, "a1", valErr.Violations[0].ArtifactID)

	dangling := NewValidationError([]RuleViolation{
		{ArtifactID: "a2", Rule: RuleLevelExists, Detail: "level removed"},
	})
	assert.True(t, errors.Is(dangling, ErrDanglingLevelReference))
	assert.True(t, errors.Is(dangling, ErrValidationFailed))
}
