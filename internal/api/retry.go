package api

import (
	"net/http"
	"time"

	"cobblepod/internal/queue"
	"cobblepod/internal/record"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type retryRequest struct {
	Step int `json:"step"`
}

// handleRetry implements POST /api/records/:id/retry (spec §6): step 1/2
// retries from transcription, 3 from summary, 4 from article.
func handleRetry(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var req retryRequest
		_ = c.ShouldBindJSON(&req) // body is optional

		ctx := c.Request.Context()
		rec, err := deps.Store.Get(ctx, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load record"})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}

		step := req.Step
		if step == 0 {
			if rec.Status != record.StatusError {
				c.JSON(http.StatusBadRequest, gin.H{"error": "record is not in ERROR and no step was specified"})
				return
			}
			step = stepFromRecord(rec)
		}

		q := queueForStep(deps, step)
		if q == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid step, must be 1-4"})
			return
		}

		if err := deps.Store.StartProcessing(ctx, rec.ID); err != nil {
			writeErrorResponse(c, err)
			return
		}

		job := &queue.Job{
			ID:                 uuid.New().String(),
			Type:               queueStageForStep(step),
			RecordID:           rec.ID,
			CreatedAt:          time.Now(),
			ProcessingDeadline: time.Now().Add(30 * time.Minute),
			Priority:           1,
		}
		if err := q.Enqueue(ctx, job, queue.EnqueueOptions{Priority: job.Priority}); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue retry job"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"record_id": rec.ID, "job_id": job.ID})
	}
}

// stepFromRecord infers a retry step from the record's last recorded
// processing step, defaulting to transcription when unknown.
func stepFromRecord(rec *record.Record) int {
	if rec.ProcessingStep == nil {
		return 1
	}
	switch *rec.ProcessingStep {
	case record.StepSummary:
		return 3
	case record.StepArticle:
		return 4
	default:
		return 1
	}
}

func queueForStep(deps *Deps, step int) *queue.Queue {
	switch step {
	case 1, 2:
		return deps.TranscriptionQueue
	case 3:
		return deps.SummaryQueue
	case 4:
		return deps.ArticleQueue
	default:
		return nil
	}
}

func queueStageForStep(step int) string {
	switch step {
	case 1, 2:
		return queue.StageTranscription
	case 3:
		return queue.StageSummary
	default:
		return queue.StageArticle
	}
}
