// Package api exposes the SLA service over HTTP.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tracklane-io/tracklane/internal/database"
	"github.com/tracklane-io/tracklane/internal/models"
	"github.com/tracklane-io/tracklane/internal/services/sla"
)

// Handler bundles the HTTP surface over the lifecycle service and store.
type Handler struct {
	svc             *sla.Service
	store           sla.Store
	defaultCalendar models.CalendarSpec
	now             func() time.Time
	logger          *log.Logger
}

// NewHandler creates the SLA API handler. Configs created without a calendar
// inherit defaultCalendar.
func NewHandler(svc *sla.Service, store sla.Store, defaultCalendar models.CalendarSpec, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		svc:             svc,
		store:           store,
		defaultCalendar: defaultCalendar,
		now:             time.Now,
		logger:          logger,
	}
}

// RegisterRoutes attaches all SLA routes under /api/v1.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/api/v1")

	v1.POST("/sla/configs", h.createConfig)
	v1.GET("/sla/configs", h.listConfigs)
	v1.GET("/sla/configs/:id", h.getConfig)
	v1.POST("/sla/configs/:id/deactivate", h.deactivateConfig)

	v1.POST("/sla/instances", h.startInstance)
	v1.GET("/sla/instances/:id/progress", h.getProgress)
	v1.POST("/sla/instances/:id/pause", h.transition(h.svc.Pause))
	v1.POST("/sla/instances/:id/resume", h.transition(h.svc.Resume))
	v1.POST("/sla/instances/:id/complete", h.transition(h.svc.Complete))

	v1.GET("/entities/:id/sla-instances", h.listByEntity)
}

func (h *Handler) createConfig(c *gin.Context) {
	var cfg models.SLAConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// A zero WorkEnd means no calendar was supplied.
	if cfg.Calendar.WorkEnd == 0 {
		cfg.Calendar = h.defaultCalendar
	}
	if err := validateConfig(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := h.now().UTC()
	cfg.ID = uuid.NewString()
	cfg.IsActive = true
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	if err := h.store.CreateConfig(c.Request.Context(), &cfg); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

func (h *Handler) listConfigs(c *gin.Context) {
	configs, err := h.store.ListConfigs(c.Request.Context(), c.Query("tenant_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"configs": configs, "count": len(configs)})
}

func (h *Handler) getConfig(c *gin.Context) {
	cfg, err := h.store.GetConfig(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "config not found"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// deactivateConfig stops new instances from being started; running instances
// keep their config pointer and continue unaffected.
func (h *Handler) deactivateConfig(c *gin.Context) {
	ctx := c.Request.Context()
	cfg, err := h.store.GetConfig(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "config not found"})
		return
	}

	cfg.IsActive = false
	cfg.UpdatedAt = h.now().UTC()
	if err := h.store.UpdateConfig(ctx, cfg); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type startRequest struct {
	ConfigID string `json:"config_id" binding:"required"`
	EntityID string `json:"entity_id" binding:"required"`
}

func (h *Handler) startInstance(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inst, err := h.svc.Start(c.Request.Context(), req.ConfigID, req.EntityID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inst)
}

// transition adapts the pause/resume/complete service calls, which share a
// signature, into one handler shape.
func (h *Handler) transition(op func(c context.Context, id string) (*models.SLAInstance, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		inst, err := op(c.Request.Context(), c.Param("id"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, inst)
	}
}

func (h *Handler) getProgress(c *gin.Context) {
	p, err := h.svc.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) listByEntity(c *gin.Context) {
	var status *models.SLAStatus
	if q := c.Query("status"); q != "" {
		st := models.SLAStatus(q)
		if !st.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + q})
			return
		}
		status = &st
	}

	insts, err := h.svc.ListByEntity(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instances": insts, "count": len(insts)})
}

// respondError maps the engine's error taxonomy to status codes: missing
// records are 404, failed transition preconditions 409, unreachable storage
// 503, everything else a logged 500.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case sla.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case sla.IsValidation(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case database.IsConnectionError(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		h.logger.Printf("api: internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
