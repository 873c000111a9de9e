package api

import (
	"net/http"
	"strconv"

	"cobblepod/internal/record"

	"github.com/gin-gonic/gin"
)

type recordProjection struct {
	ID                 string  `json:"id"`
	FileName           string  `json:"file_name"`
	FileKey            *string `json:"file_key,omitempty"`
	FileURL            *string `json:"file_url,omitempty"`
	DownloadURL        string  `json:"download_url,omitempty"`
	Status             string  `json:"status"`
	ProcessingStep     *string `json:"processing_step,omitempty"`
	ProcessingProgress int     `json:"processing_progress"`
	TranscriptText     *string `json:"transcript_text,omitempty"`
	TimestampsJSON     *string `json:"timestamps_json,omitempty"`
	SummaryText        *string `json:"summary_text,omitempty"`
	ArticleText        *string `json:"article_text,omitempty"`
	Error              *string `json:"error,omitempty"`
	CreatedAt          string  `json:"created_at"`
}

func projectRecord(r *record.Record) recordProjection {
	p := recordProjection{
		ID:                 r.ID,
		FileName:           r.FileName,
		FileKey:            r.FileKey,
		FileURL:            r.FileURL,
		Status:             string(r.Status),
		ProcessingProgress: record.ProgressForStatus(r),
		TranscriptText:     r.TranscriptText,
		TimestampsJSON:     r.TimestampsJSON,
		SummaryText:        r.SummaryText,
		ArticleText:        r.ArticleText,
		Error:              r.Error,
		CreatedAt:          r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if r.ProcessingStep != nil {
		s := string(*r.ProcessingStep)
		p.ProcessingStep = &s
	}
	return p
}

// handleGetRecord implements GET /api/records/:id (spec §6), including a
// freshly minted download URL when file_key is present.
func handleGetRecord(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		rec, err := deps.Store.Get(ctx, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load record"})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}

		proj := projectRecord(rec)
		if rec.FileKey != nil && *rec.FileKey != "" {
			if url, err := deps.Blob.GetDownloadURL(ctx, *rec.FileKey, 0); err == nil {
				proj.DownloadURL = url
			}
		}
		c.JSON(http.StatusOK, proj)
	}
}

// handleListRecords implements GET /api/records?page=&pageSize= (spec §6).
func handleListRecords(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

		ctx := c.Request.Context()
		records, total, err := deps.Store.List(ctx, page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list records"})
			return
		}

		projected := make([]recordProjection, 0, len(records))
		for _, r := range records {
			projected = append(projected, projectRecord(r))
		}

		c.JSON(http.StatusOK, gin.H{
			"records": projected,
			"pagination": gin.H{
				"page":     page,
				"pageSize": pageSize,
				"total":    total,
			},
		})
	}
}
