package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/hlog"

	"reddot-watch/breakingnews/internal/models"
	"reddot-watch/breakingnews/internal/pipeline"
	"reddot-watch/breakingnews/internal/server/pagination"
	"reddot-watch/breakingnews/internal/storage"
)

// NewsResponse is one page of breaking news.
type NewsResponse struct {
	Items      []models.Article `json:"items"`
	NextCursor *string          `json:"next_cursor,omitempty"`
}

// ListNews handles GET /v1/news?limit=&cursor=.
func (h *Handler) ListNews(c *gin.Context) {
	log := hlog.FromRequest(c.Request)

	limit, ok := queryInt(c, "limit", defaultLimit, 1, maxLimit)
	if !ok {
		return
	}

	var cur *pagination.Cursor
	if raw := c.Query("cursor"); raw != "" {
		decoded, err := pagination.Decode(raw)
		if err != nil {
			log.Warn().Err(err).Str("cursor", raw).Msg("Invalid 'cursor' parameter")
			abort(c, http.StatusBadRequest, "Invalid 'cursor' parameter")
			return
		}
		cur = &decoded
	}

	var items []models.Article
	var err error
	if cur != nil {
		items, err = h.Articles.List(c.Request.Context(), limit+1, &cur.PublishedAt, &cur.ID) // Fetch one extra
	} else {
		items, err = h.Articles.List(c.Request.Context(), limit+1, nil, nil)
	}
	if err != nil {
		internalError(c, err, "Failed to fetch news")
		return
	}

	resp := NewsResponse{Items: items}
	if len(items) > limit {
		resp.Items = items[:limit]
		last := resp.Items[limit-1]
		next := pagination.Cursor{PublishedAt: last.PublishedAt, ID: last.ID}.Encode()
		resp.NextCursor = &next
	}

	log.Debug().Int("count", len(resp.Items)).Msg("News page served")
	c.JSON(http.StatusOK, resp)
}

// GetNews handles GET /v1/news/:id.
func (h *Handler) GetNews(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	a, err := h.Articles.GetByID(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		abort(c, http.StatusNotFound, "Article not found")
		return
	}
	if err != nil {
		internalError(c, err, "Failed to fetch article")
		return
	}
	c.JSON(http.StatusOK, a)
}

// ClearNews handles DELETE /v1/news.
func (h *Handler) ClearNews(c *gin.Context) {
	n, err := h.Articles.DeleteAll(c.Request.Context())
	if err != nil {
		internalError(c, err, "Failed to clear news")
		return
	}
	hlog.FromRequest(c.Request).Info().Int64("deleted", n).Msg("Cleared all articles")
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// Scrape handles POST /v1/scrape. The run starts in the background and the
// request returns 202, unless wait=true is given, in which case the finished
// run is returned. A run already in progress yields 409.
func (h *Handler) Scrape(c *gin.Context) {
	log := hlog.FromRequest(c.Request)

	if h.Pipeline == nil {
		abort(c, http.StatusServiceUnavailable, "Pipeline not configured")
		return
	}
	if h.Pipeline.Running() {
		abort(c, http.StatusConflict, pipeline.ErrRunInProgress.Error())
		return
	}

	if c.Query("wait") == "true" {
		run, err := h.Pipeline.Run(c.Request.Context())
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			abort(c, http.StatusConflict, err.Error())
		case err != nil:
			log.Error().Err(err).Msg("Manual scrape failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Pipeline run failed", "run": run})
		default:
			c.JSON(http.StatusOK, gin.H{"run": run})
		}
		return
	}

	log.Info().Msg("Manual scrape triggered")
	go func() {
		run, err := h.Pipeline.Run(h.Context)
		if err != nil {
			log.Error().Err(err).Msg("Manual scrape failed")
			return
		}
		log.Info().Str("run_id", run.ID).Int("saved", run.Saved).Msg("Manual scrape completed")
	}()
	c.JSON(http.StatusAccepted, gin.H{"message": "Scraping pipeline started"})
}

// ListRuns handles GET /v1/runs?limit=.
func (h *Handler) ListRuns(c *gin.Context) {
	if h.Runs == nil {
		c.JSON(http.StatusOK, gin.H{"runs": []models.PipelineRun{}})
		return
	}
	limit, ok := queryInt(c, "limit", 20, 1, maxLimit)
	if !ok {
		return
	}
	runs, err := h.Runs.Recent(c.Request.Context(), limit)
	if err != nil {
		internalError(c, err, "Failed to fetch runs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
