package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/hlog"

	"reddot-watch/breakingnews/internal/discovery"
	"reddot-watch/breakingnews/internal/health"
	"reddot-watch/breakingnews/internal/models"
	"reddot-watch/breakingnews/internal/registry"
	"reddot-watch/breakingnews/internal/storage"
)

const defaultLimit = 100
const maxLimit = 1000

// Pipeline is the pipeline trigger used by POST /v1/scrape.
type Pipeline interface {
	Run(ctx context.Context) (models.PipelineRun, error)
	Running() bool
}

// Pinger reports database availability for /health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the services behind the API.
type Deps struct {
	Articles  storage.ArticleRepository
	Runs      storage.RunRepository
	Sources   *registry.Registry
	Health    *health.Monitor
	Discovery *discovery.Discoverer
	Pipeline  Pipeline
	DB        Pinger

	// Context bounds pipeline runs started in the background. Defaults to
	// context.Background().
	Context context.Context
}

// Handler holds dependencies for the API handlers.
type Handler struct {
	Deps
}

// NewHandler creates a new handler instance.
func NewHandler(d Deps) *Handler {
	if d.Context == nil {
		d.Context = context.Background()
	}
	return &Handler{Deps: d}
}

// RegisterRoutes mounts the API on r. When apiKey is set every /v1 route
// requires a matching X-API-Key header.
func RegisterRoutes(r *gin.Engine, h *Handler, apiKey string) {
	r.GET("/health", h.HealthCheck)

	v1 := r.Group("/v1", APIKey(apiKey))
	{
		v1.GET("/news", h.ListNews)
		v1.DELETE("/news", h.ClearNews)
		v1.GET("/news/:id", h.GetNews)
		v1.POST("/scrape", h.Scrape)
		v1.GET("/runs", h.ListRuns)

		v1.GET("/sources", h.ListSources)
		v1.GET("/sources/stats", h.SourceStats)
		v1.GET("/sources/:id", h.GetSource)
		v1.POST("/sources", h.CreateSource)
		v1.PUT("/sources/:id", h.UpdateSource)
		v1.DELETE("/sources/:id", h.DeleteSource)
		v1.POST("/sources/seed", h.SeedSources)
		v1.POST("/sources/discover", h.DiscoverSources)
		v1.POST("/sources/discover/bulk", h.BulkDiscoverSources)
		v1.POST("/sources/health-check", h.RunHealthChecks)
		v1.POST("/sources/retry-disabled", h.RetryDisabled)
		v1.POST("/sources/cleanup", h.CleanupSources)
	}
}

// APIKey checks the X-API-Key header against key. An empty key allows all
// requests.
func APIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}

		reqKey := c.GetHeader("X-API-Key")
		if reqKey == "" {
			abort(c, http.StatusUnauthorized, "API key required")
			return
		}
		if subtle.ConstantTimeCompare([]byte(reqKey), []byte(key)) != 1 {
			abort(c, http.StatusUnauthorized, "Invalid API key")
			return
		}
		c.Next()
	}
}

// HealthCheck responds 200 when the database is reachable.
func (h *Handler) HealthCheck(c *gin.Context) {
	if h.DB != nil {
		if err := h.DB.PingContext(c.Request.Context()); err != nil {
			hlog.FromRequest(c.Request).Error().Err(err).Msg("Database ping failed")
			c.String(http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	c.String(http.StatusOK, "OK")
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// internalError logs err and answers 500 without leaking it.
func internalError(c *gin.Context, err error, msg string) {
	hlog.FromRequest(c.Request).Error().Err(err).Str("path", c.FullPath()).Msg(msg)
	abort(c, http.StatusInternalServerError, msg)
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abort(c, http.StatusBadRequest, "Invalid 'id' parameter")
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter within [lo, hi].
func queryInt(c *gin.Context, name string, def, lo, hi int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		abort(c, http.StatusBadRequest, "Invalid '"+name+"' parameter: must be between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
		return 0, false
	}
	return n, true
}
