package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xpadev-net/kiosk-agent/internal/httpapi"
)

// NewRouter builds the agent's HTTP routes. An empty apiKey leaves /api/v1
// open, matching a kiosk reachable only from its local panel.
func NewRouter(h *Handler, apiKey string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger())

	// Health check endpoints (no auth required)
	router.GET("/healthz", h.Healthz)
	router.GET("/readyz", h.Readyz)

	v1 := router.Group("/api/v1")
	v1.Use(httpapi.APIKeyAuth(apiKey))
	{
		v1.POST("/commands", httpapi.RateLimit(60, time.Minute), h.SubmitCommand)
		v1.POST("/downloads", httpapi.RateLimit(30, time.Minute), h.SubmitDownloads)
		v1.POST("/downloads/playlist", httpapi.RateLimit(10, time.Minute), h.ImportPlaylist)
		v1.GET("/status", h.GetStatus)
		v1.GET("/playlist.m3u8", h.GetPlaylist)
		v1.GET("/history/downloads", h.ListDownloadHistory)
		v1.GET("/history/plays", h.ListPlayHistory)
	}

	return router
}
