// Copyright (C) 2026 SEALMit Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package model defines the artifact and trace data model for SEALMit.
//
// # Description
//
// The model is a tagged union: every record is an Artifact whose Kind
// discriminator selects exactly one variant payload (Requirement,
// RiskHazard, RiskCause, VerificationActivity). Traces are typed, directed
// edges between artifact identifiers. ProjectState aggregates the project
// configuration, the artifact map, and the trace list, and is the unit of
// snapshotting, committing, and merging.
//
// # Ownership Model
//
// ProjectState values are plain data. The store hands callers their own
// copy; callers mutate it freely and hand it back via SaveDraft. Use
// Clone() whenever a snapshot must not alias a state that is still being
// mutated (the merge package relies on this).
//
// # Invariants
//
//   - Artifact IDs are unique within a project and never reused.
//   - An artifact's Kind never changes after creation.
//   - A (source, target, type) trace triple is unique within a project.
package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// ArtifactKind discriminates the artifact variants.
type ArtifactKind string

const (
	KindRequirement          ArtifactKind = "requirement"
	KindRiskHazard           ArtifactKind = "risk_hazard"
	KindRiskCause            ArtifactKind = "risk_cause"
	KindVerificationActivity ArtifactKind = "verification_activity"
)

// Valid reports whether k is a known artifact kind.
func (k ArtifactKind) Valid() bool {
	switch k {
	case KindRequirement, KindRiskHazard, KindRiskCause, KindVerificationActivity:
		return true
	default:
		return false
	}
}

// TraceType identifies the relationship a trace expresses.
type TraceType string

const (
	TraceSatisfies TraceType = "satisfies"
	TraceVerifies  TraceType = "verifies"
	TraceMitigates TraceType = "mitigates"
	TraceCauses    TraceType = "causes"
)

// Valid reports whether t is a known trace type.
func (t TraceType) Valid() bool {
	switch t {
	case TraceSatisfies, TraceVerifies, TraceMitigates, TraceCauses:
		return true
	default:
		return false
	}
}

// VerificationMethod is how a verification activity is performed.
type VerificationMethod string

const (
	MethodTest     VerificationMethod = "test"
	MethodAnalysis VerificationMethod = "analysis"
	MethodReview   VerificationMethod = "review"
)

// Valid reports whether m is a known verification method.
func (m VerificationMethod) Valid() bool {
	switch m {
	case MethodTest, MethodAnalysis, MethodReview:
		return true
	default:
		return false
	}
}

// Requirement is the variant payload for KindRequirement.
type Requirement struct {
	// Level is one of the project's configured level names.
	Level string `json:"level"`

	// ParentIDs is the ordered set of parent requirement identifiers.
	// Empty is only permitted at the top level or when orphan
	// prevention is disabled; the settings package enforces this.
	ParentIDs []string `json:"parent_ids,omitempty"`
}

// RiskHazard is the variant payload for KindRiskHazard.
type RiskHazard struct {
	// Severity is a classification on the project-defined scale.
	Severity string `json:"severity,omitempty"`
}

// RiskCause is the variant payload for KindRiskCause.
type RiskCause struct {
	// Probability is a classification on the project-defined scale.
	Probability string `json:"probability,omitempty"`
}

// VerificationActivity is the variant payload for KindVerificationActivity.
type VerificationActivity struct {
	Method    VerificationMethod `json:"method"`
	Procedure string             `json:"procedure,omitempty"`
	Setup     string             `json:"setup,omitempty"`
	Passed    bool               `json:"passed"`
}

// Artifact is a uniquely identified engineering record.
//
// Exactly one variant pointer must be non-nil, and it must match Kind.
// The validate functions in this package enforce that shape.
type Artifact struct {
	ID          string       `json:"id"`
	Kind        ArtifactKind `json:"kind"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Rationale   string       `json:"rationale,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`

	Requirement  *Requirement          `json:"requirement,omitempty"`
	Hazard       *RiskHazard           `json:"risk_hazard,omitempty"`
	Cause        *RiskCause            `json:"risk_cause,omitempty"`
	Verification *VerificationActivity `json:"verification_activity,omitempty"`
}

// NewArtifact creates an artifact of the given kind with a fresh UUID,
// creation timestamps, and an empty variant payload matching the kind.
func NewArtifact(kind ArtifactKind, title string) Artifact {
	now := time.Now().UTC()
	a := Artifact{
		ID:        uuid.New().String(),
		Kind:      kind,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch kind {
	case KindRequirement:
		a.Requirement = &Requirement{}
	case KindRiskHazard:
		a.Hazard = &RiskHazard{}
	case KindRiskCause:
		a.Cause = &RiskCause{}
	case KindVerificationActivity:
		a.Verification = &VerificationActivity{Method: MethodTest}
	}
	return a
}

// Clone returns a deep copy of the artifact.
func (a Artifact) Clone() Artifact {
	c := a
	if a.Requirement != nil {
		r := *a.Requirement
		r.ParentIDs = slices.Clone(a.Requirement.ParentIDs)
		c.Requirement = &r
	}
	if a.Hazard != nil {
		h := *a.Hazard
		c.Hazard = &h
	}
	if a.Cause != nil {
		rc := *a.Cause
		c.Cause = &rc
	}
	if a.Verification != nil {
		v := *a.Verification
		c.Verification = &v
	}
	return c
}

// Equal reports whether two artifacts carry the same content.
//
// Timestamps are ignored: two edits that produce the same record are the
// same modification even when they were saved at different times. The
// merge package depends on this when classifying conflicts.
func (a Artifact) Equal(b Artifact) bool {
	if a.ID != b.ID || a.Kind != b.Kind || a.Title != b.Title ||
		a.Description != b.Description || a.Rationale != b.Rationale {
		return false
	}
	if (a.Requirement == nil) != (b.Requirement == nil) {
		return false
	}
	if a.Requirement != nil {
		if a.Requirement.Level != b.Requirement.Level ||
			!slices.Equal(a.Requirement.ParentIDs, b.Requirement.ParentIDs) {
			return false
		}
	}
	if (a.Hazard == nil) != (b.Hazard == nil) {
		return false
	}
	if a.Hazard != nil && *a.Hazard != *b.Hazard {
		return false
	}
	if (a.Cause == nil) != (b.Cause == nil) {
		return false
	}
	if a.Cause != nil && *a.Cause != *b.Cause {
		return false
	}
	if (a.Verification == nil) != (b.Verification == nil) {
		return false
	}
	if a.Verification != nil && *a.Verification != *b.Verification {
		return false
	}
	return true
}

// Touch updates the modification timestamp.
func (a *Artifact) Touch() {
	a.UpdatedAt = time.Now().UTC()
}

// TraceKey is the identity triple of a trace. Two traces with the same
// key are the same edge; duplicates are rejected at validation.
type TraceKey struct {
	SourceID string
	TargetID string
	Type     TraceType
}

// String renders the key for logs and conflict ids.
func (k TraceKey) String() string {
	return k.SourceID + "->" + k.TargetID + ":" + string(k.Type)
}

// Trace is a directed, typed edge between two artifact identifiers.
type Trace struct {
	SourceID string    `json:"source_id"`
	TargetID string    `json:"target_id"`
	Type     TraceType `json:"type"`

	// CauseID qualifies a Mitigates trace that targets a hazard: the
	// requirement mitigates this specific cause of that hazard rather
	// than the hazard as a whole. Empty for every other trace type.
	CauseID string `json:"cause_id,omitempty"`

	Description string `json:"description,omitempty"`
}

// Key returns the identity triple of the trace.
func (t Trace) Key() TraceKey {
	return TraceKey{SourceID: t.SourceID, TargetID: t.TargetID, Type: t.Type}
}

// Equal reports whether two traces carry the same content.
func (t Trace) Equal(o Trace) bool {
	return t == o
}

// LevelDef is one entry in the project's ordered requirement level list.
type LevelDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ProjectConfig is the project-level configuration.
//
// The first entry of Levels is the top level: requirements at any other
// level need a parent when PreventOrphans is set.
type ProjectConfig struct {
	Name string `json:"name"`

	// Levels is the ordered list of requirement levels, topmost first.
	Levels []LevelDef `json:"levels"`

	// RiskMatrix maps severity -> probability -> classification.
	RiskMatrix map[string]map[string]string `json:"risk_matrix,omitempty"`

	// EnforceSingleParent limits every requirement to at most one parent.
	EnforceSingleParent bool `json:"enforce_single_parent"`

	// PreventOrphans requires a parent on every requirement below the
	// top level.
	PreventOrphans bool `json:"prevent_orphans"`
}

// DefaultProjectConfig returns the configuration a fresh project starts
// with: User and System levels, no risk matrix, both settings off.
func DefaultProjectConfig(name string) ProjectConfig {
	return ProjectConfig{
		Name: name,
		Levels: []LevelDef{
			{Name: "User"},
			{Name: "System"},
		},
	}
}

// TopLevel returns the name of the first configured level, or "" when no
// levels are configured.
func (c ProjectConfig) TopLevel() string {
	if len(c.Levels) == 0 {
		return ""
	}
	return c.Levels[0].Name
}

// HasLevel reports whether name is a currently configured level.
func (c ProjectConfig) HasLevel(name string) bool {
	for _, l := range c.Levels {
		if l.Name == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the configuration.
func (c ProjectConfig) Clone() ProjectConfig {
	out := c
	out.Levels = slices.Clone(c.Levels)
	if c.RiskMatrix != nil {
		out.RiskMatrix = make(map[string]map[string]string, len(c.RiskMatrix))
		for sev, row := range c.RiskMatrix {
			cp := make(map[string]string, len(row))
			for prob, class := range row {
				cp[prob] = class
			}
			out.RiskMatrix[sev] = cp
		}
	}
	return out
}

// Equal reports whether two configurations are identical.
func (c ProjectConfig) Equal(o ProjectConfig) bool {
	if c.Name != o.Name || c.EnforceSingleParent != o.EnforceSingleParent ||
		c.PreventOrphans != o.PreventOrphans {
		return false
	}
	if !slices.Equal(c.Levels, o.Levels) {
		return false
	}
	if len(c.RiskMatrix) != len(o.RiskMatrix) {
		return false
	}
	for sev, row := range c.RiskMatrix {
		other, ok := o.RiskMatrix[sev]
		if !ok || len(row) != len(other) {
			return false
		}
		for prob, class := range row {
			if other[prob] != class {
				return false
			}
		}
	}
	return true
}

// ProjectState is the aggregate unit of snapshotting and committing.
type ProjectState struct {
	Config    ProjectConfig       `json:"config"`
	Artifacts map[string]Artifact `json:"artifacts"`
	Traces    []Trace             `json:"traces"`
}

// NewProjectState creates an empty state with the given configuration.
func NewProjectState(cfg ProjectConfig) *ProjectState {
	return &ProjectState{
		Config:    cfg,
		Artifacts: make(map[string]Artifact),
		Traces:    nil,
	}
}

// Clone returns a deep copy of the state.
func (s *ProjectState) Clone() *ProjectState {
	out := &ProjectState{
		Config:    s.Config.Clone(),
		Artifacts: make(map[string]Artifact, len(s.Artifacts)),
	}
	for id, a := range s.Artifacts {
		out.Artifacts[id] = a.Clone()
	}
	out.Traces = slices.Clone(s.Traces)
	return out
}

// HasTrace reports whether a trace with the given identity triple exists.
func (s *ProjectState) HasTrace(key TraceKey) bool {
	for _, t := range s.Traces {
		if t.Key() == key {
			return true
		}
	}
	return false
}

// FindTrace returns the trace with the given identity triple.
func (s *ProjectState) FindTrace(key TraceKey) (Trace, bool) {
	for _, t := range s.Traces {
		if t.Key() == key {
			return t, true
		}
	}
	return Trace{}, false
}

// RemoveTrace deletes the trace with the given identity triple and
// reports whether it was present.
func (s *ProjectState) RemoveTrace(key TraceKey) bool {
	for i, t := range s.Traces {
		if t.Key() == key {
			s.Traces = slices.Delete(s.Traces, i, i+1)
			return true
		}
	}
	return false
}

// ChildrenOf returns the ids of requirements that list id as a parent,
// in artifact-id order for determinism.
func (s *ProjectState) ChildrenOf(id string) []string {
	var out []string
	for cid, a := range s.Artifacts {
		if a.Kind != KindRequirement || a.Requirement == nil {
			continue
		}
		if slices.Contains(a.Requirement.ParentIDs, id) {
			out = append(out, cid)
		}
	}
	slices.Sort(out)
	return out
}

// RemoveArtifact deletes an artifact together with every trace touching
// it, and strips it from the parent lists of other requirements. It
// returns the number of traces removed, and false when the artifact does
// not exist.
func (s *ProjectState) RemoveArtifact(id string) (int, bool) {
	if _, ok := s.Artifacts[id]; !ok {
		return 0, false
	}
	delete(s.Artifacts, id)

	removed := 0
	kept := s.Traces[:0]
	for _, t := range s.Traces {
		if t.SourceID == id || t.TargetID == id || t.CauseID == id {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	s.Traces = kept

	for aid, a := range s.Artifacts {
		if a.Kind != KindRequirement || a.Requirement == nil {
			continue
		}
		if slices.Contains(a.Requirement.ParentIDs, id) {
			c := a.Clone()
			c.Requirement.ParentIDs = slices.DeleteFunc(
				c.Requirement.ParentIDs,
				func(p string) bool { return p == id },
			)
			s.Artifacts[aid] = c
		}
	}
	return removed, true
}
