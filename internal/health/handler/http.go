// Package handler serves the liveness and readiness endpoint.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger reports whether the backing store is reachable. *sql.DB and the memory store satisfy it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler answers GET /health.
type Handler struct {
	db      Pinger
	timeout time.Duration
	log     *zap.Logger
}

// NewHandler returns a health handler. db may be nil when no store is configured.
func NewHandler(db Pinger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{db: db, timeout: 2 * time.Second, log: logger}
}

// Response is the body of GET /health.
type Response struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// Health godoc
// @Summary Service health
// @Tags health
// @Produce json
// @Success 200 {object} Response
// @Failure 503 {object} Response
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusOK, Response{Status: "ok", Database: "not_configured"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		h.log.Warn("health check: database unreachable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, Response{Status: "unhealthy", Database: "unreachable"})
		return
	}
	c.JSON(http.StatusOK, Response{Status: "ok", Database: "ok"})
}
