package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/arenabridge/bridge/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Middleware records every request's method/path/status/duration into the
// ring buffer, performance monitor, and async log once the handler chain
// completes. Handlers that know the model being served (chat completions)
// should call c.Set("model", name) before c.Next returns control here.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		model, _ := c.Get("model")
		modelName, _ := model.(string)

		requestID, _ := c.Get("request_id")
		id, _ := requestID.(string)

		status := c.Writer.Status()
		s.RecordRequest(RequestDetails{
			RequestID:  id,
			Method:     c.Request.Method,
			Path:       c.Request.URL.Path,
			Model:      modelName,
			Status:     status,
			DurationMS: duration.Milliseconds(),
			Timestamp:  start,
		}, duration, status < 400)
	}
}

// RegisterRoutes mounts the admin surface's read-only endpoints onto the
// bridge's existing gin engine, alongside the main chat-completions routes.
func (s *Service) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/metrics", s.handleMetrics())
	engine.GET("/admin/requests", s.handleListRequests)
	engine.GET("/admin/requests/:id", s.handleGetRequest)
	engine.GET("/admin/pool", s.handlePoolStatus)
}

func (s *Service) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"peer_connected": s.peerConnected(),
		"instance_id":    logger.GetInstanceID(),
	})
}

func (s *Service) handleMetrics() gin.HandlerFunc {
	handler := promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

func (s *Service) handleListRequests(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	c.JSON(http.StatusOK, gin.H{"requests": s.ring.recent(limit)})
}

func (s *Service) handleGetRequest(c *gin.Context) {
	details, ok := s.ring.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}
	c.JSON(http.StatusOK, details)
}

func (s *Service) handlePoolStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pool": s.pool.Status()})
}
