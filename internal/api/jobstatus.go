package api

import (
	"net/http"

	"cobblepod/internal/record"

	"github.com/gin-gonic/gin"
)

// handleJobStatus implements GET /api/job-status/:id (spec §6): checks each
// bound queue for a live job first, falling back to the record's persisted
// status once the job has drained out of every queue.
func handleJobStatus(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		ctx := c.Request.Context()

		for _, q := range deps.queues() {
			job, err := q.GetJob(ctx, id)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
				return
			}
			if job == nil {
				continue
			}
			state, err := q.JobState(ctx, id)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job state"})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"job_id":    job.ID,
				"record_id": job.RecordID,
				"type":      job.Type,
				"state":     state,
				"attempt":   job.Attempt,
			})
			return
		}

		rec, err := deps.Store.Get(ctx, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load record"})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"record_id": rec.ID,
			"state":     jobStateFromRecordStatus(rec.Status),
			"progress":  record.ProgressForStatus(rec),
			"status":    rec.Status,
		})
	}
}

func jobStateFromRecordStatus(status record.Status) string {
	switch status {
	case record.StatusDone:
		return "completed"
	case record.StatusError:
		return "failed"
	case record.StatusUploaded:
		return "waiting"
	default:
		return "processing"
	}
}
