// Copyright (C) 2026 SEALMit Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package model

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds shared across the registry packages. Callers classify with
// errors.Is; the adapter layer maps each kind to a transport status.
var (
	// ErrNotFound is returned when a project, revision, or artifact
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRevisionNotFound is the revision-specific flavor of
	// ErrNotFound; errors.Is matches both.
	ErrRevisionNotFound = fmt.Errorf("revision %w", ErrNotFound)

	// ErrAlreadyExists is returned on duplicate project or artifact ids.
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidationFailed is returned when a schema or settings rule is
	// violated. The concrete error is a *ValidationError carrying the
	// offending ids and rule names.
	ErrValidationFailed = errors.New("validation failed")

	// ErrDanglingLevelReference marks a requirement whose level is no
	// longer configured. A flavor of ErrValidationFailed.
	ErrDanglingLevelReference = fmt.Errorf("dangling level reference: %w", ErrValidationFailed)

	// ErrConflictDetected is returned when a commit is rejected because
	// the project head advanced past the caller's base revision.
	ErrConflictDetected = errors.New("conflict detected")

	// ErrIncompleteResolution is returned when a manual merge leaves a
	// conflicting id without a decision.
	ErrIncompleteResolution = errors.New("incomplete conflict resolution")

	// ErrEmptyMessage is returned when a commit message is blank.
	ErrEmptyMessage = errors.New("commit message is empty")

	// ErrBusy is returned when the per-project lock cannot be acquired
	// in time. Retryable.
	ErrBusy = errors.New("project busy")

	// ErrStorageFailure wraps underlying I/O errors. Retryable.
	ErrStorageFailure = errors.New("storage failure")
)

// Rule names reported in validation violations.
const (
	RuleArtifactShape    = "artifact_shape"
	RuleTraceEndpoint    = "trace_endpoint"
	RuleTraceDuplicate   = "trace_duplicate"
	RuleTraceCompat      = "trace_compatibility"
	RuleParentRef        = "parent_reference"
	RuleSingleParent     = "single_parent"
	RuleOrphanPrevention = "orphan_prevention"
	RuleLevelExists      = "level_exists"
	RuleKindImmutable    = "kind_immutable"
)

// RuleViolation names one broken rule and the artifact that broke it.
// For trace rules, ArtifactID holds the trace key string.
type RuleViolation struct {
	ArtifactID string `json:"artifact_id"`
	Rule       string `json:"rule"`
	Detail     string `json:"detail"`
}

func (v RuleViolation) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.Rule, v.Detail, v.ArtifactID)
}

// ValidationError aggregates every violation found in one mutation so
// the caller can fix them all at once.
type ValidationError struct {
	Violations []RuleViolation
}

// NewValidationError returns nil when violations is empty, otherwise a
// *ValidationError wrapping ErrValidationFailed.
func NewValidationError(violations []RuleViolation) error {
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap makes errors.Is(err, ErrValidationFailed) hold.
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// Is additionally matches ErrDanglingLevelReference when a level_exists
// violation is present.
func (e *ValidationError) Is(target error) bool {
	if target != ErrDanglingLevelReference {
		return false
	}
	for _, v := range e.Violations {
		if v.Rule == RuleLevelExists {
			return true
		}
	}
	return false
}
