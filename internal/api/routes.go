package api

import "github.com/gin-gonic/gin"

// setupRoutes binds every route in spec §6's HTTP control plane.
func setupRoutes(r *gin.Engine, deps *Deps) {
	api := r.Group("/api")
	{
		api.GET("/health", handleHealth)
		api.GET("/healthcheck", handleHealth)

		api.POST("/upload-url", handleUploadURL(deps))
		api.POST("/process", handleProcess(deps))
		api.POST("/records/:id/retry", handleRetry(deps))
		api.GET("/records/:id", handleGetRecord(deps))
		api.GET("/records", handleListRecords(deps))
		api.GET("/job-status/:id", handleJobStatus(deps))
	}
}
