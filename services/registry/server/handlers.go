// Copyright (C) 2026 SEALMit Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server is the HTTP adapter over the registry core.
//
// # Description
//
// Handlers stay thin on purpose: decode and validate the request, call
// one core operation (store, resolve, merge), and map the error kind to
// a status code. Every rule that matters lives below this package.
//
// Routes follow the original SEALMit API surface:
//
//	GET    /api/projects
//	POST   /api/projects
//	GET    /api/projects/:project
//	POST   /api/projects/:project/artifacts
//	PUT    /api/projects/:project/artifacts/:id
//	DELETE /api/projects/:project/artifacts/:id
//	POST   /api/projects/:project/traces
//	DELETE /api/projects/:project/traces
//	POST   /api/projects/:project/commit
//	GET    /api/projects/:project/history
//	POST   /api/projects/:project/restore
//	POST   /api/projects/:project/merge
//	GET    /api/projects/:project/requirements/:id/hazards
//	GET    /api/projects/:project/requirements/:id/causes
//	GET    /api/projects/:project/requirements/:id/coverage
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/sealmit/sealmit/services/registry/merge"
	"github.com/sealmit/sealmit/services/registry/model"
	"github.com/sealmit/sealmit/services/registry/resolve"
	"github.com/sealmit/sealmit/services/registry/store"
)

// validate is the shared validator instance for request payloads.
// Initialized in init() with the project-name validator.
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("projectname", func(fl validator.FieldLevel) bool {
		return model.ValidProjectName(fl.Field().String())
	})
}

// createProjectRequest mirrors the project configuration payload of the
// original API. Name doubles as the project id.
type createProjectRequest struct {
	Name                string                       `json:"name" validate:"required,projectname"`
	Levels              []model.LevelDef             `json:"levels"`
	RiskMatrix          map[string]map[string]string `json:"risk_matrix"`
	EnforceSingleParent bool                         `json:"enforce_single_parent"`
	PreventOrphans      bool                         `json:"prevent_orphans"`
}

type commitRequest struct {
	Message      string `json:"message" binding:"required"`
	BaseRevision string `json:"base_revision" binding:"required"`
	Author       string `json:"author"`
}

type restoreRequest struct {
	RevisionID string `json:"revision_id" binding:"required"`
}

type mergeRequest struct {
	BaseRevision string                    `json:"base_revision" binding:"required"`
	Strategy     merge.Strategy            `json:"strategy" binding:"required"`
	Decisions    map[string]merge.Decision `json:"decisions"`
}

type deleteTraceRequest struct {
	SourceID string          `json:"source_id" binding:"required"`
	TargetID string          `json:"target_id" binding:"required"`
	Type     model.TraceType `json:"type" binding:"required"`
}

// ListProjects handles GET /api/projects.
func ListProjects(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		projects, err := st.ListProjects(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		if projects == nil {
			projects = []string{}
		}
		c.JSON(http.StatusOK, projects)
	}
}

// CreateProject handles POST /api/projects.
func CreateProject(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createProjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "project name must be 1-100 characters and contain only letters, numbers, underscores, and hyphens",
			})
			return
		}

		cfg := model.ProjectConfig{
			Name:                req.Name,
			Levels:              req.Levels,
			RiskMatrix:          req.RiskMatrix,
			EnforceSingleParent: req.EnforceSingleParent,
			PreventOrphans:      req.PreventOrphans,
		}
		if len(cfg.Levels) == 0 {
			cfg.Levels = model.DefaultProjectConfig(req.Name).Levels
		}

		revision, err := st.Initialize(c.Request.Context(), req.Name, cfg)
		if err != nil {
			abortWithError(c, err)
			return
		}
		slog.Info("created project", "project", req.Name)
		c.JSON(http.StatusCreated, gin.H{"config": cfg, "revision": revision})
	}
}

// GetProject handles GET /api/projects/:project. It returns the current
// draft state together with the head revision the caller should commit
// against.
func GetProject(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := c.Param("project")
		state, err := st.LoadDraft(c.Request.Context(), project)
		if err != nil {
			abortWithError(c, err)
			return
		}
		head, err := st.Head(c.Request.Context(), project)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": state, "head": head})
	}
}

// CreateArtifact handles POST /api/projects/:project/artifacts.
func CreateArtifact(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := c.Param("project")
		var artifact model.Artifact
		if err := c.ShouldBindJSON(&artifact); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid artifact body"})
			return
		}
		if artifact.ID == "" {
			artifact = withFreshIdentity(artifact)
		}

		state, err := st.LoadDraft(c.Request.Context(), project)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if _, exists := state.Artifacts[artifact.ID]; exists {
			c.JSON(http.StatusBadRequest, gin.H{"error": "artifact with this ID already exists"})
			return
		}

		artifact.Touch()
		state.Artifacts[artifact.ID] = artifact
		if err := st.SaveDraft(c.Request.Context(), project, state); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, artifact)
	}
}

// UpdateArtifact handles PUT /api/projects/:project/artifacts/:id.
func UpdateArtifact(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := c.Param("project")
		id := c.Param("id")

		var artifact model.Artifact
		if err := c.ShouldBindJSON(&artifact); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid artifact body"})
			return
		}
		if artifact.ID != id {
			c.JSON(http.StatusBadRequest, gin.H{"error": "artifact ID in URL must match ID in request body"})
			return
		}

		state, err := st.LoadDraft(c.Request.Context(), project)
		if err != nil {
			abortWithError(c, err)
			return
		}
		prior, ok := state.Artifacts[id]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
			return
		}

		// Identity fields never change after creation.
		artifact.CreatedAt = prior.CreatedAt
		artifact.Touch()
		state.Artifacts[id] = artifact
		if err := st.SaveDraft(c.Request.Context(), project, state); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, artifact)
	}
}

// DeleteArtifact handles DELETE /api/projects/:project/artifacts/:id.
// Traces touching the artifact are removed with it.
func DeleteArtifact(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := c.Param("project")
		id := c.Param("id")

		state, err := st.LoadDraft(c.Request.Context(), project)
		if err != nil {
			abortWithError(c, err)
			return
		}
		removed, ok := state.RemoveArtifact(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
			return
		}
		if err := st.SaveDraft(c.Request.Context(), project, state); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "traces_removed": removed})
	}
}

// CreateTrace handles POST /api/projects/:project/traces.
func CreateTrace(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := c.Param("project")
		var trace model.Trace
		if err := c.ShouldBindJSON(&trace); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trace body"})
			return
		}

		state, err := st.LoadDraft(c.Request.Context(), project)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if state.HasTrace(trace.Key()) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "this trace already exists"})
			return
		}

		state.Traces = append(state.Traces, trace)
		if err := st.SaveDraft(c.Request.Context(), project, state); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, trace)
	}
}

// DeleteTrace handles DELETE /api/projects/:project/traces, identified
// by the (source, target, type) triple in the body.
func DeleteTrace(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := c.Param("project")
		var req deleteTraceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trace body"})
			return
		}

		state, err := st.LoadDraft(c.Request.Context(), project)
		if err != nil {
			abortWithError(c, err)
			return
		}
		key := model.TraceKey{SourceID: req.SourceID, TargetID: req.TargetID, Type: req.Type}
		if !state.RemoveTrace(key) {
			c.JSON(http.StatusNotFound, gin.H{"error": "trace not found"})
			return
		}
		if err := st.SaveDraft(c.Request.Context(), project, state); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}

// Commit handles POST /api/projects/:project/commit. On a conflict the
// response carries the full conflict set for the resolution flow.
func Commit(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := c.Param("project")
		var req commitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message and base_revision are required"})
			return
		}

		revision, err := st.Commit(c.Request.Context(), project, req.Author, req.Message, req.BaseRevision)
		if err != nil {
			var conflict *store.ConflictError
			if errors.As(err, &conflict) {
				c.JSON(http.StatusConflict, gin.H{
					"error":     "conflict detected",
					"head":      conflict.HeadRevision,
					"base":      conflict.BaseRevision,
					"conflicts": conflict.Detection.Conflicts,
				})
				return
			}
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "committed", "revision": revision})
	}
}

// History handles GET /api/projects/:project/history with optional
// limit and before query parameters.
func History(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := c.Param("project")
		limit := intQuery(c, "limit", 0)
		revisions, err := st.History(c.Request.Context(), project, limit, c.Query("before"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		if revisions == nil {
			revisions = []store.RevisionMeta{}
		}
		c.JSON(http.StatusOK, gin.H{"revisions": revisions})
	}
}

// RestoreRevision handles POST /api/projects/:project/restore.
func RestoreRevision(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := c.Param("project")
		var req restoreRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "revision_id is required"})
			return
		}
		if err := st.Restore(c.Request.Context(), project, req.RevisionID); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "restored", "revision": req.RevisionID})
	}
}

// ResolveConflicts handles POST /api/projects/:project/merge. It
// re-runs detection against the given base, applies the strategy, and
// saves the merged state as the new draft. The caller then retries the
// commit against the returned head revision.
func ResolveConflicts(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := c.Param("project")
		var req mergeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "base_revision and strategy are required"})
			return
		}
		if !req.Strategy.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown merge strategy"})
			return
		}

		ctx := c.Request.Context()
		base, err := st.LoadRevision(ctx, project, req.BaseRevision)
		if err != nil {
			abortWithError(c, err)
			return
		}
		head, err := st.Head(ctx, project)
		if err != nil {
			abortWithError(c, err)
			return
		}
		headRev, err := st.LoadRevision(ctx, project, head)
		if err != nil {
			abortWithError(c, err)
			return
		}
		draft, err := st.LoadDraft(ctx, project)
		if err != nil {
			abortWithError(c, err)
			return
		}

		detection := merge.Detect(&base.State, &headRev.State, draft)
		merged, err := merge.Resolve(detection, req.Strategy, req.Decisions)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if err := st.SaveDraft(ctx, project, merged); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "merged", "head": head, "state": merged})
	}
}

// RequirementHazards handles
// GET /api/projects/:project/requirements/:id/hazards.
func RequirementHazards(st *store.Store) gin.HandlerFunc {
	return requirementView(st, func(state *model.ProjectState, id string) gin.H {
		hazards := resolve.HazardsFor(state, id)
		if hazards == nil {
			hazards = []string{}
		}
		return gin.H{"requirement": id, "hazards": hazards}
	})
}

// RequirementCauses handles
// GET /api/projects/:project/requirements/:id/causes.
func RequirementCauses(st *store.Store) gin.HandlerFunc {
	return requirementView(st, func(state *model.ProjectState, id string) gin.H {
		causes := resolve.CausesFor(state, id)
		if causes == nil {
			causes = []string{}
		}
		return gin.H{"requirement": id, "causes": causes}
	})
}

// RequirementCoverage handles
// GET /api/projects/:project/requirements/:id/coverage.
func RequirementCoverage(st *store.Store) gin.HandlerFunc {
	return requirementView(st, func(state *model.ProjectState, id string) gin.H {
		return gin.H{"requirement": id, "coverage": resolve.VerificationCoverage(state, id)}
	})
}

// requirementView loads the draft, checks the requirement exists, and
// renders one derived view.
func requirementView(st *store.Store, view func(*model.ProjectState, string) gin.H) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := c.Param("project")
		id := c.Param("id")
		state, err := st.LoadDraft(c.Request.Context(), project)
		if err != nil {
			abortWithError(c, err)
			return
		}
		a, ok := state.Artifacts[id]
		if !ok || a.Kind != model.KindRequirement {
			c.JSON(http.StatusNotFound, gin.H{"error": "requirement not found"})
			return
		}
		c.JSON(http.StatusOK, view(state, id))
	}
}

// withFreshIdentity assigns a new id and timestamps to an inbound
// artifact that arrived without one, preserving its payload.
func withFreshIdentity(a model.Artifact) model.Artifact {
	fresh := model.NewArtifact(a.Kind, a.Title)
	fresh.Description = a.Description
	fresh.Rationale = a.Rationale
	fresh.Requirement = a.Requirement
	fresh.Hazard = a.Hazard
	fresh.Cause = a.Cause
	fresh.Verification = a.Verification
	return fresh
}

func intQuery(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
