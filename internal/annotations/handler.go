package annotations

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/canfeed/backend/internal/monitoring"
)

// Handler exposes annotation CRUD over HTTP.
type Handler struct {
	service *Service
	metrics *monitoring.Metrics
}

// NewHandler creates the annotation HTTP handler.
func NewHandler(service *Service, metrics *monitoring.Metrics) *Handler {
	return &Handler{service: service, metrics: metrics}
}

func (h *Handler) count(op string) {
	if h.metrics != nil {
		h.metrics.AnnotationsTotal.WithLabelValues(op).Inc()
	}
}

// Register mounts the annotation routes under /api/annotations.
func (h *Handler) Register(router gin.IRouter) {
	group := router.Group("/api/annotations")
	group.GET("", h.list)
	group.POST("", h.create)
	group.GET("/:id", h.get)
	group.PATCH("/:id", h.update)
	group.DELETE("/:id", h.remove)
	group.POST("/:id/resolve", h.resolve)
}

func (h *Handler) list(c *gin.Context) {
	params := ListParams{
		URL:    c.Query("url"),
		Search: c.Query("search"),
	}

	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC 3339"})
			return
		}
		params.Since = &since
	}
	if raw := c.Query("device"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			switch bp := Breakpoint(strings.TrimSpace(name)); bp {
			case BreakpointMobile, BreakpointTablet, BreakpointDesktop:
				params.Breakpoints = append(params.Breakpoints, bp)
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown device class: " + name})
				return
			}
		}
	}
	if raw := c.Query("deviceWidth"); raw != "" {
		width, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "deviceWidth must be an integer"})
			return
		}
		params.DeviceWidth = &width
	}
	if raw := c.Query("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "resolved must be a boolean"})
			return
		}
		params.Resolved = &resolved
	}
	if raw := c.Query("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			params.Limit = limit
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil && offset >= 0 {
			params.Offset = offset
		}
	}

	h.count("list")
	c.JSON(http.StatusOK, gin.H{"annotations": h.service.List(c.Request.Context(), params)})
}

func (h *Handler) create(c *gin.Context) {
	var in CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.service.Create(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.count("create")
	c.JSON(http.StatusCreated, a)
}

func (h *Handler) get(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) update(c *gin.Context) {
	var in UpdateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.service.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.count("update")
	c.JSON(http.StatusOK, a)
}

func (h *Handler) remove(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	h.count("delete")
	c.Status(http.StatusNoContent)
}

func (h *Handler) resolve(c *gin.Context) {
	var body struct {
		Resolved *bool `json:"resolved"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resolved := true
	if body.Resolved != nil {
		resolved = *body.Resolved
	}

	a, err := h.service.Resolve(c.Request.Context(), c.Param("id"), resolved)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.count("resolve")
	c.JSON(http.StatusOK, a)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "annotation not found"})
	case errors.Is(err, ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid annotation"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
