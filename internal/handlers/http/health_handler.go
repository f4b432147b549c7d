package http

import (
	"net/http"
	"time"

	"echoframe/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HealthHandler struct {
	checker     *monitoring.HealthChecker
	gatherer    prometheus.Gatherer
	connections func() int
}

func NewHealthHandler(checker *monitoring.HealthChecker, gatherer prometheus.Gatherer, connections func() int) *HealthHandler {
	return &HealthHandler{checker: checker, gatherer: gatherer, connections: connections}
}

func (h *HealthHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// Health is the liveness check.
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{
		"status":    monitoring.StatusHealthy,
		"timestamp": time.Now().Unix(),
	}
	if h.connections != nil {
		body["connections"] = h.connections()
	}
	c.JSON(http.StatusOK, body)
}

// Ready runs every dependency check.
func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.checker.GetReadinessStatus(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
