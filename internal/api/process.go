package api

import (
	"net/http"
	"time"

	"cobblepod/internal/queue"
	"cobblepod/internal/record"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type processRequest struct {
	RecordID string `json:"record_id" binding:"required"`
	FileKey  string `json:"file_key"`
	FileURL  string `json:"file_url"`
}

// handleProcess implements POST /api/process (spec §6).
func handleProcess(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req processRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "record_id is required"})
			return
		}
		ctx := c.Request.Context()

		rec, err := deps.Store.Get(ctx, req.RecordID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load record"})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		if rec.Status != record.StatusUploaded && rec.Status != record.StatusError {
			c.JSON(http.StatusConflict, gin.H{"error": "record is not in a processable state", "status": rec.Status})
			return
		}

		if err := deps.Store.StartProcessing(ctx, rec.ID); err != nil {
			writeErrorResponse(c, err)
			return
		}

		job := &queue.Job{
			ID:                 uuid.New().String(),
			Type:               queue.StageTranscription,
			RecordID:           rec.ID,
			CreatedAt:          time.Now(),
			ProcessingDeadline: time.Now().Add(30 * time.Minute),
			Priority:           queue.PriorityForSize(0),
		}
		if err := deps.TranscriptionQueue.Enqueue(ctx, job, queue.EnqueueOptions{Priority: job.Priority}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"record_id": rec.ID, "job_id": job.ID})
	}
}
