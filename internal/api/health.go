package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleHealth implements GET /api/health and /api/healthcheck (spec §6).
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
