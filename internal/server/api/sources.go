package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/hlog"

	"reddot-watch/breakingnews/internal/discovery"
	"reddot-watch/breakingnews/internal/models"
	"reddot-watch/breakingnews/internal/registry"
)

// sourceRequest is the body of POST /v1/sources.
type sourceRequest struct {
	Name             string          `json:"name" binding:"required"`
	URL              string          `json:"url" binding:"required"`
	Type             string          `json:"type"`
	Category         string          `json:"category"`
	Language         string          `json:"language"`
	Country          string          `json:"country"`
	CredibilityScore *int            `json:"credibility_score"`
	IsActive         *bool           `json:"is_active"`
	IsVerified       bool            `json:"is_verified"`
	Selector         string          `json:"selector"`
	FetchConfig      models.Metadata `json:"fetch_config"`
}

type bulkDiscoverRequest struct {
	Websites []discovery.Site `json:"websites" binding:"required,min=1,dive"`
}

// writeSourceError maps registry errors to HTTP statuses.
func writeSourceError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		abort(c, http.StatusNotFound, "Source not found")
	case errors.Is(err, registry.ErrDuplicateURL):
		abort(c, http.StatusConflict, "Source with this URL already exists")
	case errors.Is(err, registry.ErrInvalidSource):
		abort(c, http.StatusBadRequest, err.Error())
	default:
		internalError(c, err, msg)
	}
}

// ListSources handles GET /v1/sources?active=&minHealth=.
func (h *Handler) ListSources(c *gin.Context) {
	activeOnly := c.Query("active") != "false"
	minHealth, ok := queryInt(c, "minHealth", 0, 0, 100)
	if !ok {
		return
	}

	sources, err := h.Sources.List(c.Request.Context(), activeOnly, minHealth)
	if err != nil {
		internalError(c, err, "Failed to fetch sources")
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(sources), "sources": sources})
}

// SourceStats handles GET /v1/sources/stats.
func (h *Handler) SourceStats(c *gin.Context) {
	rep, err := h.Health.Report(c.Request.Context())
	if err != nil {
		internalError(c, err, "Failed to fetch statistics")
		return
	}
	c.JSON(http.StatusOK, rep)
}

// GetSource handles GET /v1/sources/:id.
func (h *Handler) GetSource(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	src, err := h.Sources.GetByID(c.Request.Context(), id)
	if err != nil {
		writeSourceError(c, err, "Failed to fetch source")
		return
	}
	c.JSON(http.StatusOK, src)
}

// CreateSource handles POST /v1/sources.
func (h *Handler) CreateSource(c *gin.Context) {
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	typ, err := models.ParseSourceType(req.Type)
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}

	src := models.NewSource()
	src.Name = req.Name
	src.URL = req.URL
	src.Type = typ
	src.Category = req.Category
	if req.Language != "" {
		src.Language = req.Language
	}
	src.Country = req.Country
	if req.CredibilityScore != nil {
		src.CredibilityScore = *req.CredibilityScore
	}
	if req.IsActive != nil {
		src.IsActive = *req.IsActive
	}
	src.IsVerified = req.IsVerified
	src.Selector = req.Selector
	src.FetchConfig = req.FetchConfig
	src.AddedBy = models.AddedByManual

	id, err := h.Sources.Insert(c.Request.Context(), *src)
	if err != nil {
		writeSourceError(c, err, "Failed to add source")
		return
	}

	hlog.FromRequest(c.Request).Info().Int64("source_id", id).Str("url", src.URL).Msg("Source added")
	c.Header("Location", "/v1/sources/"+strconv.FormatInt(id, 10))
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// UpdateSource handles PUT /v1/sources/:id. Only the fields present in the
// body are changed.
func (h *Handler) UpdateSource(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	var upd models.SourceUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		abort(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if upd.Empty() {
		abort(c, http.StatusBadRequest, "No fields to update")
		return
	}

	if err := h.Sources.Update(c.Request.Context(), id, upd); err != nil {
		writeSourceError(c, err, "Failed to update source")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Source updated successfully"})
}

// DeleteSource handles DELETE /v1/sources/:id.
func (h *Handler) DeleteSource(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.Sources.Delete(c.Request.Context(), id); err != nil {
		writeSourceError(c, err, "Failed to delete source")
		return
	}
	c.Status(http.StatusNoContent)
}

// SeedSources handles POST /v1/sources/seed.
func (h *Handler) SeedSources(c *gin.Context) {
	res, err := h.Discovery.Seed(c.Request.Context())
	if err != nil {
		internalError(c, err, "Failed to seed sources")
		return
	}
	c.JSON(http.StatusOK, res)
}

// DiscoverSources handles POST /v1/sources/discover.
func (h *Handler) DiscoverSources(c *gin.Context) {
	var site discovery.Site
	if err := c.ShouldBindJSON(&site); err != nil {
		abort(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	res, err := h.Discovery.Discover(c.Request.Context(), site)
	switch {
	case errors.Is(err, discovery.ErrInvalidSite):
		abort(c, http.StatusBadRequest, err.Error())
	case err != nil:
		hlog.FromRequest(c.Request).Warn().Err(err).Str("site", site.URL).Msg("Discovery failed")
		abort(c, http.StatusBadGateway, "Failed to fetch website")
	default:
		c.JSON(http.StatusOK, res)
	}
}

// BulkDiscoverSources handles POST /v1/sources/discover/bulk.
func (h *Handler) BulkDiscoverSources(c *gin.Context) {
	var req bulkDiscoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	res, err := h.Discovery.BulkDiscover(c.Request.Context(), req.Websites)
	if err != nil {
		internalError(c, err, "Bulk discovery failed")
		return
	}
	c.JSON(http.StatusOK, res)
}

// RunHealthChecks handles POST /v1/sources/health-check.
func (h *Handler) RunHealthChecks(c *gin.Context) {
	res, err := h.Health.RunHealthChecks(c.Request.Context())
	if err != nil {
		internalError(c, err, "Health check failed")
		return
	}
	c.JSON(http.StatusOK, res)
}

// RetryDisabled handles POST /v1/sources/retry-disabled.
func (h *Handler) RetryDisabled(c *gin.Context) {
	res, err := h.Health.RetryDisabled(c.Request.Context())
	if err != nil {
		internalError(c, err, "Retry failed")
		return
	}
	c.JSON(http.StatusOK, res)
}

// CleanupSources handles POST /v1/sources/cleanup.
func (h *Handler) CleanupSources(c *gin.Context) {
	res, err := h.Health.Cleanup(c.Request.Context())
	if err != nil {
		internalError(c, err, "Cleanup failed")
		return
	}
	c.JSON(http.StatusOK, res)
}
