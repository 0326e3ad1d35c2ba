// Package handlers exposes the readiness engine over HTTP.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/filingworks/readiness-engine/internal/artifacts"
	"github.com/filingworks/readiness-engine/internal/audit"
	"github.com/filingworks/readiness-engine/internal/bundle"
	"github.com/filingworks/readiness-engine/internal/docstore"
	"github.com/filingworks/readiness-engine/internal/events"
	"github.com/filingworks/readiness-engine/internal/metrics"
	"github.com/filingworks/readiness-engine/internal/program"
	"github.com/filingworks/readiness-engine/internal/readiness"
	"github.com/filingworks/readiness-engine/internal/version"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler handles catalog readiness HTTP requests.
type Handler struct {
	aggregator *readiness.Aggregator
	versions   *version.Manager
	programs   *program.Engine
	bundles    *bundle.Workflow
	auditLog   *audit.Logger
	publisher  *events.Publisher
	collector  *metrics.Collector
	logger     *zap.Logger
}

// New creates the HTTP handler.
func New(
	aggregator *readiness.Aggregator,
	versions *version.Manager,
	programs *program.Engine,
	bundles *bundle.Workflow,
	auditLog *audit.Logger,
	publisher *events.Publisher,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		aggregator: aggregator,
		versions:   versions,
		programs:   programs,
		bundles:    bundles,
		auditLog:   auditLog,
		publisher:  publisher,
		collector:  collector,
		logger:     logger,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")

	products := api.Group("/orgs/:org/products/:product")
	products.GET("/readiness", h.GetReadiness)
	products.GET("/whats-missing", h.WhatsMissing)

	products.GET("/versions", h.ListVersions)
	products.POST("/versions", h.CreateDraft)
	products.PATCH("/versions/:version", h.UpdateDraft)
	products.POST("/versions/:version/publish", h.PublishVersion)
	products.POST("/versions/:version/archive", h.ArchiveVersion)

	products.GET("/versions/:version/programs", h.ListPrograms)
	products.GET("/versions/:version/programs/:state", h.GetProgram)
	products.POST("/versions/:version/programs/:state/transition", h.TransitionProgram)
	products.POST("/versions/:version/programs/:state/validate", h.ValidateProgram)
	products.PUT("/versions/:version/programs/:state/artifacts", h.SetProgramArtifacts)
	products.GET("/versions/:version/programs-summary", h.SummarizePrograms)

	bundles := api.Group("/orgs/:org/bundles")
	bundles.GET("", h.ListOpenBundles)
	bundles.POST("", h.CreateBundle)
	bundles.GET("/:bundle", h.GetBundle)
	bundles.POST("/:bundle/items", h.AddBundleItem)
	bundles.DELETE("/:bundle/items/:item", h.RemoveBundleItem)
	bundles.POST("/:bundle/submit", h.SubmitBundle)
	bundles.POST("/:bundle/return", h.ReturnBundle)
	bundles.POST("/:bundle/approve", h.ApproveBundle)
	bundles.POST("/:bundle/reject", h.RejectBundle)
	bundles.POST("/:bundle/publish", h.PublishBundle)

	api.GET("/health", h.HealthCheck)
}

// Readiness endpoints

func (h *Handler) GetReadiness(c *gin.Context) {
	req, ok := h.readinessRequest(c)
	if !ok {
		return
	}
	report, err := h.aggregator.ComputeReadiness(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Failed to compute readiness", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute readiness"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) WhatsMissing(c *gin.Context) {
	req, ok := h.readinessRequest(c)
	if !ok {
		return
	}
	blockers, err := h.aggregator.WhatsMissing(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Failed to compute blockers", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute blockers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blockers": blockers, "count": len(blockers)})
}

func (h *Handler) readinessRequest(c *gin.Context) (readiness.Request, bool) {
	req := readiness.Request{
		Org:                c.Param("org"),
		ProductID:          c.Param("product"),
		VersionID:          c.Query("version"),
		TargetJurisdiction: c.Query("state"),
	}
	if raw := c.Query("date"); raw != "" {
		date, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return req, false
		}
		req.TargetDate = &date
	}
	return req, true
}

// Version endpoints

func (h *Handler) ListVersions(c *gin.Context) {
	snapshots := h.versions.ListVersions(c.Request.Context(), c.Param("org"), c.Param("product"))
	c.JSON(http.StatusOK, gin.H{"versions": snapshots, "total": len(snapshots)})
}

func (h *Handler) CreateDraft(c *gin.Context) {
	var request struct {
		Author  string `json:"author" binding:"required"`
		Summary string `json:"summary"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	org, productID := c.Param("org"), c.Param("product")
	snapshot, err := h.versions.CreateDraft(c.Request.Context(), org, productID, request.Author, request.Summary)
	if errors.Is(err, version.ErrDraftExists) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.auditLog.Record(c.Request.Context(), audit.Event{
		Org: org, Actor: request.Author, Action: "version_draft_created",
		EntityType: "version", EntityID: snapshot.ID,
		Details: map[string]any{"product_id": productID, "version_number": snapshot.VersionNumber},
	})
	c.JSON(http.StatusCreated, snapshot)
}

func (h *Handler) UpdateDraft(c *gin.Context) {
	var request struct {
		Editor  string         `json:"editor" binding:"required"`
		Changes map[string]any `json:"changes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snapshot, err := h.versions.UpdateDraft(c.Request.Context(),
		c.Param("org"), c.Param("product"), c.Param("version"), request.Editor, request.Changes)
	if errors.Is(err, version.ErrImmutable) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *Handler) PublishVersion(c *gin.Context) {
	var request struct {
		Publisher      string `json:"publisher" binding:"required"`
		EffectiveStart string `json:"effective_start"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var effectiveStart *time.Time
	if request.EffectiveStart != "" {
		date, err := time.Parse("2006-01-02", request.EffectiveStart)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "effective_start must be YYYY-MM-DD"})
			return
		}
		effectiveStart = &date
	}

	org, productID, versionID := c.Param("org"), c.Param("product"), c.Param("version")
	snapshot, err := h.versions.Publish(c.Request.Context(), org, productID, versionID, request.Publisher, effectiveStart)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.auditLog.Record(c.Request.Context(), audit.Event{
		Org: org, Actor: request.Publisher, Action: "version_published",
		EntityType: "version", EntityID: versionID,
		Details: map[string]any{"product_id": productID},
	})
	h.publisher.Publish(c.Request.Context(), events.TypeVersionPublished, org, versionID, request.Publisher,
		map[string]any{"product_id": productID, "version_number": snapshot.VersionNumber})
	c.JSON(http.StatusOK, snapshot)
}

func (h *Handler) ArchiveVersion(c *gin.Context) {
	var request struct {
		Editor string `json:"editor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snapshot, err := h.versions.Archive(c.Request.Context(),
		c.Param("org"), c.Param("product"), c.Param("version"), request.Editor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// Program endpoints

func (h *Handler) ListPrograms(c *gin.Context) {
	records, err := h.programs.ListRecords(c.Request.Context(),
		c.Param("org"), c.Param("product"), c.Param("version"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"programs": records, "total": len(records)})
}

func (h *Handler) GetProgram(c *gin.Context) {
	record, err := h.programs.GetRecord(c.Request.Context(),
		c.Param("org"), c.Param("product"), c.Param("version"), c.Param("state"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) TransitionProgram(c *gin.Context) {
	var request struct {
		Target string `json:"target" binding:"required"`
		Actor  string `json:"actor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	org, productID, versionID, state := c.Param("org"), c.Param("product"), c.Param("version"), c.Param("state")
	target := program.Status(request.Target)
	record, err := h.programs.Transition(c.Request.Context(), org, productID, versionID, state, target, request.Actor)
	h.collector.TransitionApplied("program", request.Target, err == nil)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.auditLog.Record(c.Request.Context(), audit.Event{
		Org: org, Actor: request.Actor, Action: "program_transition",
		EntityType: "program", EntityID: record.StateCode,
		Details: map[string]any{
			"product_id": productID,
			"version_id": versionID,
			"status":     string(record.Status),
		},
	})
	h.publisher.Publish(c.Request.Context(), events.TypeProgramTransition, org, record.StateCode, request.Actor,
		map[string]any{"product_id": productID, "version_id": versionID, "status": string(record.Status)})
	c.JSON(http.StatusOK, record)
}

func (h *Handler) ValidateProgram(c *gin.Context) {
	org := c.Param("org")
	record, err := h.programs.GetRecord(c.Request.Context(),
		org, c.Param("product"), c.Param("version"), c.Param("state"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	result, err := h.programs.Validate(c.Request.Context(), org, record)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) SetProgramArtifacts(c *gin.Context) {
	var request struct {
		Category string   `json:"category" binding:"required"`
		IDs      []string `json:"ids" binding:"required"`
		Editor   string   `json:"editor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.programs.SetRequiredArtifacts(c.Request.Context(),
		c.Param("org"), c.Param("product"), c.Param("version"), c.Param("state"),
		artifacts.Category(request.Category), request.IDs, request.Editor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) SummarizePrograms(c *gin.Context) {
	org := c.Param("org")
	records, err := h.programs.ListRecords(c.Request.Context(),
		org, c.Param("product"), c.Param("version"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	summary, err := h.programs.Summarize(c.Request.Context(), org, records)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Bundle endpoints

func (h *Handler) ListOpenBundles(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	bundles, err := h.bundles.ListOpen(c.Request.Context(), c.Param("org"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bundles": bundles, "total": len(bundles)})
}

func (h *Handler) CreateBundle(c *gin.Context) {
	var request struct {
		Name    string `json:"name" binding:"required"`
		OwnerID string `json:"owner_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := h.bundles.Create(c.Request.Context(), c.Param("org"), request.Name, request.OwnerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBundle(c *gin.Context) {
	org, bundleID := c.Param("org"), c.Param("bundle")
	b, err := h.bundles.Get(c.Request.Context(), org, bundleID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	items, err := h.bundles.ListItems(c.Request.Context(), org, bundleID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	approvals, err := h.bundles.ListApprovals(c.Request.Context(), org, bundleID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	required, err := h.bundles.RequiredRoles(c.Request.Context(), org, bundleID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bundle":         b,
		"items":          items,
		"approvals":      approvals,
		"required_roles": required,
	})
}

func (h *Handler) AddBundleItem(c *gin.Context) {
	var request struct {
		ArtifactType string `json:"artifact_type" binding:"required"`
		ArtifactID   string `json:"artifact_id" binding:"required"`
		VersionID    string `json:"version_id"`
		ProductID    string `json:"product_id"`
		Action       string `json:"action" binding:"required"`
		AddedBy      string `json:"added_by" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := h.bundles.AddItem(c.Request.Context(), c.Param("org"), c.Param("bundle"), bundle.Item{
		ArtifactType: request.ArtifactType,
		ArtifactID:   request.ArtifactID,
		VersionID:    request.VersionID,
		ProductID:    request.ProductID,
		Action:       request.Action,
	}, request.AddedBy)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) RemoveBundleItem(c *gin.Context) {
	removedBy := c.Query("removed_by")
	if removedBy == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "removed_by is required"})
		return
	}
	err := h.bundles.RemoveItem(c.Request.Context(), c.Param("org"), c.Param("bundle"), c.Param("item"), removedBy)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) SubmitBundle(c *gin.Context) {
	h.bundleTransition(c, "bundle_submitted", func(org, bundleID, actor string) (*bundle.Bundle, error) {
		return h.bundles.SubmitForReview(c.Request.Context(), org, bundleID, actor)
	})
}

func (h *Handler) ReturnBundle(c *gin.Context) {
	h.bundleTransition(c, "bundle_returned", func(org, bundleID, actor string) (*bundle.Bundle, error) {
		return h.bundles.ReturnToDraft(c.Request.Context(), org, bundleID, actor)
	})
}

func (h *Handler) PublishBundle(c *gin.Context) {
	h.bundleTransition(c, "bundle_published", func(org, bundleID, actor string) (*bundle.Bundle, error) {
		return h.bundles.PublishBundle(c.Request.Context(), org, bundleID, actor)
	})
}

func (h *Handler) bundleTransition(c *gin.Context, action string, op func(org, bundleID, actor string) (*bundle.Bundle, error)) {
	var request struct {
		Actor string `json:"actor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	org, bundleID := c.Param("org"), c.Param("bundle")
	b, err := op(org, bundleID, request.Actor)
	h.collector.TransitionApplied("bundle", action, err == nil)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.auditLog.Record(c.Request.Context(), audit.Event{
		Org: org, Actor: request.Actor, Action: action,
		EntityType: "bundle", EntityID: bundleID,
		Details: map[string]any{"status": string(b.Status)},
	})
	h.publisher.Publish(c.Request.Context(), events.TypeBundleTransition, org, bundleID, request.Actor,
		map[string]any{"status": string(b.Status)})
	c.JSON(http.StatusOK, b)
}

func (h *Handler) ApproveBundle(c *gin.Context) {
	h.bundleReview(c, "bundle_approved", func(org, bundleID, role, reviewer, notes string) (*bundle.Bundle, error) {
		return h.bundles.Approve(c.Request.Context(), org, bundleID, role, reviewer, notes)
	})
}

func (h *Handler) RejectBundle(c *gin.Context) {
	h.bundleReview(c, "bundle_rejected", func(org, bundleID, role, reviewer, notes string) (*bundle.Bundle, error) {
		return h.bundles.Reject(c.Request.Context(), org, bundleID, role, reviewer, notes)
	})
}

func (h *Handler) bundleReview(c *gin.Context, action string, op func(org, bundleID, role, reviewer, notes string) (*bundle.Bundle, error)) {
	var request struct {
		Role     string `json:"role" binding:"required"`
		Reviewer string `json:"reviewer" binding:"required"`
		Notes    string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	org, bundleID := c.Param("org"), c.Param("bundle")
	b, err := op(org, bundleID, request.Role, request.Reviewer, request.Notes)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.auditLog.Record(c.Request.Context(), audit.Event{
		Org: org, Actor: request.Reviewer, Action: action,
		EntityType: "bundle", EntityID: bundleID,
		Details: map[string]any{"role": request.Role, "status": string(b.Status)},
	})
	h.publisher.Publish(c.Request.Context(), events.TypeBundleTransition, org, bundleID, request.Reviewer,
		map[string]any{"role": request.Role, "status": string(b.Status)})
	c.JSON(http.StatusOK, b)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC()})
}

// writeError maps the engine's error taxonomy to HTTP status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	var programTransition *program.TransitionError
	var bundleTransition *bundle.TransitionError
	var approvalsIncomplete *bundle.ApprovalsIncompleteError
	var validation *program.ValidationError

	switch {
	case errors.As(err, &programTransition), errors.As(err, &bundleTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &approvalsIncomplete):
		c.JSON(http.StatusConflict, gin.H{
			"error":         err.Error(),
			"missing_roles": approvalsIncomplete.Missing,
		})
	case errors.As(err, &validation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  err.Error(),
			"issues": validation.Issues,
		})
	case docstore.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case docstore.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case docstore.IsUnavailable(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		h.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
