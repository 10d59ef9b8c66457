// Copyright (C) 2026 SEALMit Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package merge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealmit/sealmit/services/registry/model"
)

// baseState builds a common ancestor with one requirement, one hazard,
// and one trace between them.
func baseState(t *testing.T) (*model.ProjectState, model.Artifact, model.Artifact) {
	t.Helper()
	s := model.NewProjectState(model.DefaultProjectConfig("demo"))
	req := model.NewArtifact(model.KindRequirement, "R1")
	req.Requirement.Level = "User"
	hazard := model.NewArtifact(model.KindRiskHazard, "H1")
	s.Artifacts[req.ID] = req
	s.Artifacts[hazard.ID] = hazard
	s.Traces = []model.Trace{{SourceID: req.ID, TargetID: hazard.ID, Type: model.TraceMitigates}}
	return s, req, hazard
}

func setTitle(s *model.ProjectState, id, title string) {
	a := s.Artifacts[id].Clone()
	a.Title = title
	a.Touch()
	s.Artifacts[id] = a
}

// TestDetectAutoMergesSingleSidedChanges verifies non-overlapping edits
// from both sides land in the merged state without conflicts.
func TestDetectAutoMergesSingleSidedChanges(t *testing.T) {
	base, req, hazard := baseState(t)

	theirs := base.Clone()
	setTitle(theirs, req.ID, "R1 revised")

	ours := base.Clone()
	setTitle(ours, hazard.ID, "H1 revised")
	added := model.NewArtifact(model.KindRiskCause, "C1")
	ours.Artifacts[added.ID] = added

	det := Detect(base, theirs, ours)
	assert.Empty(t, det.Conflicts)
	assert.Equal(t, "R1 revised", det.Merged.Artifacts[req.ID].Title)
	assert.Equal(t, "H1 revised", det.Merged.Artifacts[hazard.ID].Title)
	assert.Contains(t, det.Merged.Artifacts, added.ID)
}

// TestDetectIdenticalChangesMergeSilently verifies both sides making the
// same edit is not a conflict.
func TestDetectIdenticalChangesMergeSilently(t *testing.T) {
	base, req, _ := baseState(t)

	theirs := base.Clone()
	setTitle(theirs, req.ID, "same title")
	ours := base.Clone()
	setTitle(ours, req.ID, "same title")

	det := Detect(base, theirs, ours)
	assert.Empty(t, det.Conflicts)
	assert.Equal(t, "same title", det.Merged.Artifacts[req.ID].Title)
}

// TestDetectBothModified verifies divergent edits to one artifact
// surface as a conflict carrying all three versions, while the merged
// state keeps the base value.
func TestDetectBothModified(t *testing.T) {
	base, req, _ := baseState(t)

	theirs := base.Clone()
	setTitle(theirs, req.ID, "their title")
	ours := base.Clone()
	setTitle(ours, req.ID, "our title")

	det := Detect(base, theirs, ours)
	require.Len(t, det.Conflicts, 1)
	c := det.Conflicts[0]
	assert.Equal(t, req.ID, c.ID)
	assert.Equal(t, BothModified, c.Kind)
	assert.Equal(t, "R1", c.Base.Artifact.Title)
	assert.Equal(t, "their title", c.Theirs.Artifact.Title)
	assert.Equal(t, "our title", c.Ours.Artifact.Title)
	assert.Equal(t, "R1", det.Merged.Artifacts[req.ID].Title)
}

// TestDetectDeleteEditConflicts verifies a deletion on one side against
// an edit on the other is classified by which side deleted.
func TestDetectDeleteEditConflicts(t *testing.T) {
	base, req, hazard := baseState(t)

	theirs := base.Clone()
	theirs.RemoveArtifact(req.ID)
	setTitle(theirs, hazard.ID, "their hazard")

	ours := base.Clone()
	setTitle(ours, req.ID, "our req")
	ours.RemoveArtifact(hazard.ID)

	det := Detect(base, theirs, ours)
	kinds := make(map[string]ConflictKind)
	for _, c := range det.Conflicts {
		kinds[c.ID] = c.Kind
	}
	assert.Equal(t, TheirsDeletedOursModified, kinds[req.ID])
	assert.Equal(t, OursDeletedTheirsModified, kinds[hazard.ID])

	for _, c := range det.Conflicts {
		switch c.Kind {
		case TheirsDeletedOursModified:
			assert.Nil(t, c.Theirs)
			assert.NotNil(t, c.Ours)
		case OursDeletedTheirsModified:
			assert.NotNil(t, c.Theirs)
			assert.Nil(t, c.Ours)
		}
	}
}

// TestDetectTraceConflicts verifies traces are compared as atomic
// records keyed by their identity triple.
func TestDetectTraceConflicts(t *testing.T) {
	base, req, hazard := baseState(t)
	key := base.Traces[0].Key()

	theirs := base.Clone()
	theirs.RemoveTrace(key)

	ours := base.Clone()
	ours.Traces[0].Description = "annotated"

	det := Detect(base, theirs, ours)
	require.Len(t, det.Conflicts, 1)
	c := det.Conflicts[0]
	assert.Equal(t, key.String(), c.ID)
	assert.Equal(t, TheirsDeletedOursModified, c.Kind)
	require.NotNil(t, c.Ours)
	assert.Equal(t, "annotated", c.Ours.Trace.Description)

	// A brand-new trace on one side auto-merges.
	ours2 := base.Clone()
	ours2.Traces = append(ours2.Traces, model.Trace{
		SourceID: req.ID, TargetID: hazard.ID, Type: model.TraceVerifies,
	})
	det2 := Detect(base, base.Clone(), ours2)
	assert.Empty(t, det2.Conflicts)
	assert.Len(t, det2.Merged.Traces, 2)
}

// TestDetectConfigConflict verifies the configuration is one atomic
// record: divergent edits conflict under ConfigID, single-sided edits
// auto-merge.
func TestDetectConfigConflict(t *testing.T) {
	base, _, _ := baseState(t)

	theirs := base.Clone()
	theirs.Config.PreventOrphans = true
	ours := base.Clone()
	ours.Config.EnforceSingleParent = true

	det := Detect(base, theirs, ours)
	require.Len(t, det.Conflicts, 1)
	assert.Equal(t, ConfigID, det.Conflicts[0].ID)
	assert.Equal(t, BothModified, det.Conflicts[0].Kind)

	det2 := Detect(base, theirs, base.Clone())
	assert.Empty(t, det2.Conflicts)
	assert.True(t, det2.Merged.Config.PreventOrphans)
}

// TestDetectDoesNotMutateInputs verifies purity.
func TestDetectDoesNotMutateInputs(t *testing.T) {
	base, req, _ := baseState(t)
	theirs := base.Clone()
	setTitle(theirs, req.ID, "their title")
	ours := base.Clone()
	ours.RemoveArtifact(req.ID)

	baseCopy := base.Clone()
	det := Detect(base, theirs, ours)

	assert.Equal(t, baseCopy.Artifacts[req.ID].Title, base.Artifacts[req.ID].Title)
	assert.Len(t, base.Traces, len(baseCopy.Traces))

	// Mutating the detection must not reach back into the inputs.
	det.Merged.Config.Name = "hijacked"
	assert.Equal(t, "demo", base.Config.Name)
}

// TestResolveAcceptTheirsAppliesDeletion verifies accepting the head's
// side of a delete/edit conflict removes the artifact.
func TestResolveAcceptTheirsAppliesDeletion(t *testing.T) {
	base, req, _ := baseState(t)
	theirs := base.Clone()
	theirs.RemoveArtifact(req.ID)
	ours := base.Clone()
	setTitle(ours, req.ID, "our req")

	det := Detect(base, theirs, ours)
	require.Len(t, det.Conflicts, 1)

	resolved, err := Resolve(det, AcceptTheirs, nil)
	require.NoError(t, err)
	assert.NotContains(t, resolved.Artifacts, req.ID)

	kept, err := Resolve(det, AcceptOurs, nil)
	require.NoError(t, err)
	assert.Equal(t, "our req", kept.Artifacts[req.ID].Title)
}

// TestResolveManualRequiresEveryDecision verifies the manual strategy
// fails with ErrIncompleteResolution on missing or empty decisions.
func TestResolveManualRequiresEveryDecision(t *testing.T) {
	base, req, hazard := baseState(t)
	theirs := base.Clone()
	setTitle(theirs, req.ID, "their req")
	setTitle(theirs, hazard.ID, "their hazard")
	ours := base.Clone()
	setTitle(ours, req.ID, "our req")
	setTitle(ours, hazard.ID, "our hazard")

	det := Detect(base, theirs, ours)
	require.Len(t, det.Conflicts, 2)

	_, err := Resolve(det, Manual, map[string]Decision{
		req.ID: {Side: SideTheirs},
	})
	assert.True(t, errors.Is(err, model.ErrIncompleteResolution))

	_, err = Resolve(det, Manual, map[string]Decision{
		req.ID:    {Side: SideTheirs},
		hazard.ID: {},
	})
	assert.True(t, errors.Is(err, model.ErrIncompleteResolution))

	resolved, err := Resolve(det, Manual, map[string]Decision{
		req.ID:    {Side: SideTheirs},
		hazard.ID: {Side: SideOurs},
	})
	require.NoError(t, err)
	assert.Equal(t, "their req", resolved.Artifacts[req.ID].Title)
	assert.Equal(t, "our hazard", resolved.Artifacts[hazard.ID].Title)
}

// TestResolveManualReplacement verifies a manual decision may substitute
// a third version, and the replacement id must match the conflict.
func TestResolveManualReplacement(t *testing.T) {
	base, req, _ := baseState(t)
	theirs := base.Clone()
	setTitle(theirs, req.ID, "their req")
	ours := base.Clone()
	setTitle(ours, req.ID, "our req")

	det := Detect(base, theirs, ours)
	require.Len(t, det.Conflicts, 1)

	replacement := base.Artifacts[req.ID].Clone()
	replacement.Title = "hand merged"
	resolved, err := Resolve(det, Manual, map[string]Decision{
		req.ID: {Replace: &Record{Artifact: &replacement}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hand merged", resolved.Artifacts[req.ID].Title)

	wrong := model.NewArtifact(model.KindRequirement, "other")
	_, err = Resolve(det, Manual, map[string]Decision{
		req.ID: {Replace: &Record{Artifact: &wrong}},
	})
	assert.Error(t, err)
}

// TestResolveConfigCannotBeDeleted verifies a configuration conflict
// never resolves to a deletion.
func TestResolveConfigCannotBeDeleted(t *testing.T) {
	base, _, _ := baseState(t)
	theirs := base.Clone()
	theirs.Config.PreventOrphans = true
	ours := base.Clone()
	ours.Config.EnforceSingleParent = true

	det := Detect(base, theirs, ours)
	require.Len(t, det.Conflicts, 1)

	_, err := Resolve(det, Manual, map[string]Decision{
		ConfigID: {Replace: &Record{}},
	})
	assert.Error(t, err)

	resolved, err := Resolve(det, AcceptOurs, nil)
	require.NoError(t, err)
	assert.True(t, resolved.Config.EnforceSingleParent)
	assert.False(t, resolved.Config.PreventOrphans)
}

// TestResolveUnknownStrategy rejects strategies outside the enum.
func TestResolveUnknownStrategy(t *testing.T) {
	base, _, _ := baseState(t)
	det := Detect(base, base.Clone(), base.Clone())
	_, err := Resolve(det, Strategy("theirs-ish"), nil)
	assert.Error(t, err)
}

// TestResolveTraceConflict verifies trace conflicts resolve by identity
// triple, including resolution to a deletion.
func TestResolveTraceConflict(t *testing.T) {
	base, _, _ := baseState(t)
	key := base.Traces[0].Key()

	theirs := base.Clone()
	theirs.RemoveTrace(key)
	ours := base.Clone()
	ours.Traces[0].Description = "annotated"

	det := Detect(base, theirs, ours)
	require.Len(t, det.Conflicts, 1)

	dropped, err := Resolve(det, AcceptTheirs, nil)
	require.NoError(t, err)
	assert.False(t, dropped.HasTrace(key))

	kept, err := Resolve(det, AcceptOurs, nil)
	require.NoError(t, err)
	found, ok := kept.FindTrace(key)
	require.True(t, ok)
	assert.Equal(t, "annotated", found.Description)
}
