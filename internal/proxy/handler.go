package proxy

import (
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/canfeed/backend/internal/logging"
)

// Handler exposes the pipeline over HTTP.
type Handler struct {
	pipeline *Pipeline
	rewriter *Rewriter
	logger   *logging.Logger
}

// NewHandler creates the proxy HTTP handler.
func NewHandler(pipeline *Pipeline, rewriter *Rewriter, logger *logging.Logger) *Handler {
	return &Handler{pipeline: pipeline, rewriter: rewriter, logger: logger}
}

// Register mounts the proxy route.
func (h *Handler) Register(router gin.IRouter) {
	endpoint := h.rewriter.Endpoint()
	router.GET(endpoint, h.proxy)
	router.POST(endpoint, h.proxy)
	router.OPTIONS(endpoint, h.preflight)
}

func (h *Handler) proxy(c *gin.Context) {
	raw := c.Query("url")
	target, err := url.Parse(raw)
	if err != nil || !target.IsAbs() || (target.Scheme != "http" && target.Scheme != "https") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be an absolute http(s) URL"})
		return
	}

	// The rewriter tags this service's own asset paths; those are
	// served from this origin, not fetched from the target. The origin
	// is re-checked here so the marker cannot divert target-site URLs.
	if c.Query("__bypass") == "1" && origin(target) == h.rewriter.proxyOrigin {
		c.Redirect(http.StatusFound, target.Path+queryString(target))
		return
	}

	var body []byte
	if c.Request.Method != http.MethodGet && c.Request.Body != nil {
		body, _ = io.ReadAll(c.Request.Body)
	}

	resp, err := h.pipeline.Handle(c.Request.Context(), Request{
		Method:   c.Request.Method,
		Target:   target,
		Header:   c.Request.Header,
		Body:     body,
		ClientIP: c.ClientIP(),
	})
	if err != nil {
		h.logger.Error("proxy request failed",
			zap.String("url", target.String()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to fetch target",
			"url":   target.String(),
		})
		return
	}

	for name, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}

	if resp.Body == nil {
		c.Status(resp.Status)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	c.Data(resp.Status, contentType, resp.Body)
}

func (h *Handler) preflight(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "*")
	c.Status(http.StatusNoContent)
}

func queryString(u *url.URL) string {
	q := u.Query()
	q.Del("__bypass")
	if encoded := q.Encode(); encoded != "" {
		return "?" + encoded
	}
	return ""
}
