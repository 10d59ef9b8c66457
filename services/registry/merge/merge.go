// Copyright (C) 2026 SEALMit Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package merge implements three-way structural conflict detection and
// resolution over project states.
//
// # Description
//
// Detect compares two divergent states ("theirs" is the committed head,
// "ours" is the caller's draft) against their common ancestor ("base"),
// per artifact id. Traces take part as atomic records keyed by their
// identity triple, and the project configuration as a single record.
// An id conflicts iff both sides changed it relative to base and the
// two changes differ; single-sided changes are auto-merged.
//
// # Purity
//
// Detect and Resolve are pure: inputs are never mutated, outputs are
// deep copies. Detection is therefore testable with no storage attached,
// and the store can call it while holding its commit lock without
// aliasing the snapshots it just loaded.
package merge

import (
	"fmt"
	"slices"

	"github.com/sealmit/sealmit/services/registry/model"
)

// ConfigID is the conflict id used for the project configuration, which
// is diffed as one atomic record.
const ConfigID = "project_config"

// ConflictKind classifies a per-id conflict.
type ConflictKind string

const (
	// BothModified: both sides changed the record and disagree.
	BothModified ConflictKind = "both_modified"

	// TheirsDeletedOursModified: the head deleted the record while the
	// draft changed it.
	TheirsDeletedOursModified ConflictKind = "theirs_deleted_ours_modified"

	// OursDeletedTheirsModified: the draft deleted the record while the
	// head changed it.
	OursDeletedTheirsModified ConflictKind = "ours_deleted_theirs_modified"
)

// Record is one side's value for a conflicting id. Exactly one of the
// pointers is set for artifact and trace conflicts; a nil Record value
// in a Conflict means that side deleted the id.
type Record struct {
	Artifact *model.Artifact      `json:"artifact,omitempty"`
	Trace    *model.Trace         `json:"trace,omitempty"`
	Config   *model.ProjectConfig `json:"config,omitempty"`
}

// Conflict is a per-id disagreement between the two sides.
type Conflict struct {
	// ID is the artifact id, the trace key string, or ConfigID.
	ID     string       `json:"id"`
	Kind   ConflictKind `json:"kind"`
	Base   *Record      `json:"base,omitempty"`
	Theirs *Record      `json:"theirs,omitempty"`
	Ours   *Record      `json:"ours,omitempty"`
}

// Detection is the result of a three-way comparison: the auto-merged
// state with every single-sided change applied (conflicting ids keep
// their base value) plus the conflicts still to be decided.
type Detection struct {
	Merged    *model.ProjectState `json:"merged"`
	Conflicts []Conflict          `json:"conflicts"`
}

// Strategy selects how Resolve decides conflicting ids.
type Strategy string

const (
	AcceptTheirs Strategy = "accept_theirs"
	AcceptOurs   Strategy = "accept_ours"
	Manual       Strategy = "manual"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case AcceptTheirs, AcceptOurs, Manual:
		return true
	default:
		return false
	}
}

// Side names one side of a three-way comparison in a manual decision.
type Side string

const (
	SideTheirs Side = "theirs"
	SideOurs   Side = "ours"
)

// Decision is a manual resolution for one conflicting id: keep a side
// (including its deletion) or substitute a replacement record.
type Decision struct {
	Side    Side    `json:"side,omitempty"`
	Replace *Record `json:"replace,omitempty"`
}

// Detect performs the three-way comparison. See the package doc for the
// conflict rule. The returned Detection aliases none of the inputs.
func Detect(base, theirs, ours *model.ProjectState) Detection {
	merged := base.Clone()
	var conflicts []Conflict

	// Configuration, as one atomic record.
	theirsChanged := !theirs.Config.Equal(base.Config)
	oursChanged := !ours.Config.Equal(base.Config)
	switch {
	case theirsChanged && oursChanged && !theirs.Config.Equal(ours.Config):
		conflicts = append(conflicts, Conflict{
			ID:     ConfigID,
			Kind:   BothModified,
			Base:   &Record{Config: ptr(base.Config.Clone())},
			Theirs: &Record{Config: ptr(theirs.Config.Clone())},
			Ours:   &Record{Config: ptr(ours.Config.Clone())},
		})
	case theirsChanged:
		merged.Config = theirs.Config.Clone()
	case oursChanged:
		merged.Config = ours.Config.Clone()
	}

	conflicts = append(conflicts, detectArtifacts(base, theirs, ours, merged)...)
	conflicts = append(conflicts, detectTraces(base, theirs, ours, merged)...)

	slices.SortFunc(conflicts, func(a, b Conflict) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return Detection{Merged: merged, Conflicts: conflicts}
}

func detectArtifacts(base, theirs, ours, merged *model.ProjectState) []Conflict {
	ids := make(map[string]bool)
	for id := range base.Artifacts {
		ids[id] = true
	}
	for id := range theirs.Artifacts {
		ids[id] = true
	}
	for id := range ours.Artifacts {
		ids[id] = true
	}

	var conflicts []Conflict
	for id := range ids {
		b, inBase := base.Artifacts[id]
		t, inTheirs := theirs.Artifacts[id]
		o, inOurs := ours.Artifacts[id]

		theirsChanged := inBase != inTheirs || (inBase && !b.Equal(t))
		oursChanged := inBase != inOurs || (inBase && !o.Equal(b))

		switch {
		case !theirsChanged && !oursChanged:
			// untouched
		case theirsChanged && !oursChanged:
			applyArtifact(merged, id, t, inTheirs)
		case oursChanged && !theirsChanged:
			applyArtifact(merged, id, o, inOurs)
		default:
			// Both changed. Identical changes merge silently.
			if inTheirs == inOurs && (!inTheirs || t.Equal(o)) {
				applyArtifact(merged, id, t, inTheirs)
				continue
			}
			c := Conflict{ID: id, Kind: classify(inTheirs, inOurs)}
			if inBase {
				c.Base = &Record{Artifact: ptr(b.Clone())}
			}
			if inTheirs {
				c.Theirs = &Record{Artifact: ptr(t.Clone())}
			}
			if inOurs {
				c.Ours = &Record{Artifact: ptr(o.Clone())}
			}
			conflicts = append(conflicts, c)
		}
	}
	return conflicts
}

func detectTraces(base, theirs, ours, merged *model.ProjectState) []Conflict {
	keys := make(map[model.TraceKey]bool)
	for _, t := range base.Traces {
		keys[t.Key()] = true
	}
	for _, t := range theirs.Traces {
		keys[t.Key()] = true
	}
	for _, t := range ours.Traces {
		keys[t.Key()] = true
	}

	var conflicts []Conflict
	for key := range keys {
		b, inBase := base.FindTrace(key)
		t, inTheirs := theirs.FindTrace(key)
		o, inOurs := ours.FindTrace(key)

		theirsChanged := inBase != inTheirs || (inBase && !b.Equal(t))
		oursChanged := inBase != inOurs || (inBase && !b.Equal(o))

		switch {
		case !theirsChanged && !oursChanged:
		case theirsChanged && !oursChanged:
			applyTrace(merged, key, t, inTheirs)
		case oursChanged && !theirsChanged:
			applyTrace(merged, key, o, inOurs)
		default:
			if inTheirs == inOurs && (!inTheirs || t.Equal(o)) {
				applyTrace(merged, key, t, inTheirs)
				continue
			}
			c := Conflict{ID: key.String(), Kind: classify(inTheirs, inOurs)}
			if inBase {
				c.Base = &Record{Trace: &b}
			}
			if inTheirs {
				c.Theirs = &Record{Trace: &t}
			}
			if inOurs {
				c.Ours = &Record{Trace: &o}
			}
			conflicts = append(conflicts, c)
		}
	}
	return conflicts
}

func classify(inTheirs, inOurs bool) ConflictKind {
	switch {
	case !inTheirs:
		return TheirsDeletedOursModified
	case !inOurs:
		return OursDeletedTheirsModified
	default:
		return BothModified
	}
}

func applyArtifact(s *model.ProjectState, id string, a model.Artifact, present bool) {
	if present {
		s.Artifacts[id] = a.Clone()
	} else {
		delete(s.Artifacts, id)
	}
}

func applyTrace(s *model.ProjectState, key model.TraceKey, t model.Trace, present bool) {
	s.RemoveTrace(key)
	if present {
		s.Traces = append(s.Traces, t)
	}
}

// Resolve applies a strategy to a detection and returns the merged
// state, ready to become the caller's new draft.
//
// With Manual, decisions must cover every conflicting id; a missing
// decision fails with model.ErrIncompleteResolution. decisions is
// ignored for AcceptTheirs and AcceptOurs.
func Resolve(det Detection, strategy Strategy, decisions map[string]Decision) (*model.ProjectState, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("unknown merge strategy %q", strategy)
	}

	out := det.Merged.Clone()
	for _, c := range det.Conflicts {
		var rec *Record
		switch strategy {
		case AcceptTheirs:
			rec = c.Theirs
		case AcceptOurs:
			rec = c.Ours
		case Manual:
			d, ok := decisions[c.ID]
			if !ok {
				return nil, fmt.Errorf("no decision for %q: %w", c.ID, model.ErrIncompleteResolution)
			}
			switch {
			case d.Replace != nil:
				rec = d.Replace
			case d.Side == SideTheirs:
				rec = c.Theirs
			case d.Side == SideOurs:
				rec = c.Ours
			default:
				return nil, fmt.Errorf("decision for %q names neither a side nor a replacement: %w",
					c.ID, model.ErrIncompleteResolution)
			}
		}
		if err := applyResolution(out, c, rec); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// applyResolution writes one decided record into the merged state. A nil
// rec means the chosen side deleted the id.
func applyResolution(s *model.ProjectState, c Conflict, rec *Record) error {
	if c.ID == ConfigID {
		if rec == nil || rec.Config == nil {
			return fmt.Errorf("configuration conflict %q cannot resolve to a deletion", c.ID)
		}
		s.Config = rec.Config.Clone()
		return nil
	}

	// Trace conflicts carry trace records on whichever sides exist.
	isTrace := recordHasTrace(c.Base) || recordHasTrace(c.Theirs) || recordHasTrace(c.Ours)
	if isTrace {
		var key model.TraceKey
		switch {
		case recordHasTrace(c.Base):
			key = c.Base.Trace.Key()
		case recordHasTrace(c.Theirs):
			key = c.Theirs.Trace.Key()
		default:
			key = c.Ours.Trace.Key()
		}
		s.RemoveTrace(key)
		if rec != nil && rec.Trace != nil {
			s.Traces = append(s.Traces, *rec.Trace)
		}
		return nil
	}

	if rec == nil || rec.Artifact == nil {
		delete(s.Artifacts, c.ID)
		return nil
	}
	if rec.Artifact.ID != c.ID {
		return fmt.Errorf("replacement artifact id %q does not match conflict id %q",
			rec.Artifact.ID, c.ID)
	}
	s.Artifacts[c.ID] = rec.Artifact.Clone()
	return nil
}

func recordHasTrace(r *Record) bool {
	return r != nil && r.Trace != nil
}

func ptr[T any](v T) *T {
	return &v
}
