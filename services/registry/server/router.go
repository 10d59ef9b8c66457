// Copyright (C) 2026 SEALMit Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sealmit/sealmit/services/registry/model"
	"github.com/sealmit/sealmit/services/registry/store"
)

// NewRouter builds the gin engine with every registry route, the health
// check, and the Prometheus endpoint.
func NewRouter(st *store.Store, debug bool) *gin.Engine {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if debug {
		router.Use(gin.Logger())
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	RegisterRoutes(api, st)
	return router
}

// RegisterRoutes attaches the registry handlers under the given group.
func RegisterRoutes(g *gin.RouterGroup, st *store.Store) {
	projects := g.Group("/projects")
	projects.GET("", ListProjects(st))
	projects.POST("", CreateProject(st))
	projects.GET("/:project", GetProject(st))

	projects.POST("/:project/artifacts", CreateArtifact(st))
	projects.PUT("/:project/artifacts/:id", UpdateArtifact(st))
	projects.DELETE("/:project/artifacts/:id", DeleteArtifact(st))

	projects.POST("/:project/traces", CreateTrace(st))
	projects.DELETE("/:project/traces", DeleteTrace(st))

	projects.POST("/:project/commit", Commit(st))
	projects.GET("/:project/history", History(st))
	projects.POST("/:project/restore", RestoreRevision(st))
	projects.POST("/:project/merge", ResolveConflicts(st))

	projects.GET("/:project/requirements/:id/hazards", RequirementHazards(st))
	projects.GET("/:project/requirements/:id/causes", RequirementCauses(st))
	projects.GET("/:project/requirements/:id/coverage", RequirementCoverage(st))
}

// abortWithError maps a core error kind to a transport status. The
// body always carries the error text; validation errors additionally
// carry the structured violation list.
func abortWithError(c *gin.Context, err error) {
	var valErr *model.ValidationError
	if errors.As(err, &valErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      "validation failed",
			"violations": valErr.Violations,
		})
		return
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrAlreadyExists):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "commit message cannot be empty"})
	case errors.Is(err, model.ErrIncompleteResolution):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrConflictDetected):
		// Commit renders conflicts itself; anything else landing here
		// degrades to a bare 409.
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrBusy):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "project busy, retry shortly"})
	default:
		slog.Error("request failed", "error", err, "path", c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
