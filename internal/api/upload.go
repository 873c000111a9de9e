package api

import (
	"net/http"

	"cobblepod/internal/record"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type uploadURLRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
	FileSize    *int64 `json:"file_size"`
}

// handleUploadURL implements POST /api/upload-url (spec §6).
func handleUploadURL(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req uploadURLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing required fields"})
			return
		}
		ctx := c.Request.Context()

		if _, err := deps.Store.GCStaleUploads(ctx, deps.StaleUploadMaxAge); err != nil {
			// Best-effort GC; a failure here must not block a new upload.
			_ = err
		}

		ticket, err := deps.Blob.MintUpload(ctx, req.FileName, req.ContentType, req.FileSize)
		if err != nil {
			writeErrorResponse(c, err)
			return
		}

		recID := uuid.New().String()
		rec := &record.Record{
			ID:       recID,
			FileName: req.FileName,
			FileKey:  &ticket.Key,
			Status:   record.StatusUploaded,
		}
		if ticket.PublicURL != "" {
			rec.FileURL = &ticket.PublicURL
		}
		if err := deps.Store.Create(ctx, rec); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create record"})
			return
		}

		resp := gin.H{
			"record_id": recID,
			"file_key":  ticket.Key,
			"file_url":  ticket.PublicURL,
		}
		if ticket.Kind == "multipart" {
			resp["is_multipart"] = true
			resp["upload_id"] = ticket.UploadID
			resp["part_urls"] = ticket.PartURLs
			resp["complete_url"] = ticket.CompleteURL
			resp["abort_url"] = ticket.AbortURL
			resp["part_size"] = ticket.PartSize
		} else {
			resp["upload_url"] = ticket.PutURL
		}
		c.JSON(http.StatusOK, resp)
	}
}
