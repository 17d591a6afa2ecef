package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/signal-relay/config"
	"github.com/mossy-p/signal-relay/internal/metrics"
	"github.com/mossy-p/signal-relay/internal/signaling"
)

// NewRouter wires every HTTP route of the relay. The websocket endpoint is
// served by ws, which the caller shuts down after the HTTP server.
func NewRouter(cfg *config.Config, coordinator *signaling.Coordinator, ws *SignalingHandler, m *metrics.Metrics, log *slog.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.PrometheusHandler(m)))

	// Room inspection API (read-only)
	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/rooms", ListRooms(coordinator))
		apiGroup.GET("/rooms/:roomId", GetRoom(coordinator))
	}

	// WebSocket signaling endpoint
	router.GET(cfg.SignalPath, ws.Handle)

	return router
}
