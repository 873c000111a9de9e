package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cobblepod/internal/blob"
	"cobblepod/internal/record"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func doRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandleProcessEnqueuesFromUploaded(t *testing.T) {
	store := new(MockStore)
	q := setupTestQueue(t, "transcription")
	deps := &Deps{Store: store, TranscriptionQueue: q}

	rec := &record.Record{ID: "rec-1", Status: record.StatusUploaded}
	store.On("Get", mock.Anything, "rec-1").Return(rec, nil)
	store.On("StartProcessing", mock.Anything, "rec-1").Return(nil)

	router := gin.New()
	router.POST("/api/process", handleProcess(deps))

	w := doRequest(router, http.MethodPost, "/api/process", processRequest{RecordID: "rec-1"})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rec-1", resp["record_id"])
	assert.NotEmpty(t, resp["job_id"])
	store.AssertExpectations(t)
}

func TestHandleProcessRejectsRecordNotInProcessableState(t *testing.T) {
	store := new(MockStore)
	q := setupTestQueue(t, "transcription")
	deps := &Deps{Store: store, TranscriptionQueue: q}

	rec := &record.Record{ID: "rec-1", Status: record.StatusDone}
	store.On("Get", mock.Anything, "rec-1").Return(rec, nil)

	router := gin.New()
	router.POST("/api/process", handleProcess(deps))

	w := doRequest(router, http.MethodPost, "/api/process", processRequest{RecordID: "rec-1"})

	assert.Equal(t, http.StatusConflict, w.Code)
	store.AssertExpectations(t)
}

func TestHandleProcessNotFound(t *testing.T) {
	store := new(MockStore)
	q := setupTestQueue(t, "transcription")
	deps := &Deps{Store: store, TranscriptionQueue: q}

	store.On("Get", mock.Anything, "missing").Return(nil, nil)

	router := gin.New()
	router.POST("/api/process", handleProcess(deps))

	w := doRequest(router, http.MethodPost, "/api/process", processRequest{RecordID: "missing"})

	assert.Equal(t, http.StatusNotFound, w.Code)
	store.AssertExpectations(t)
}

func TestHandleUploadURLMintsTicketAndCreatesRecord(t *testing.T) {
	store := new(MockStore)
	blobStore := new(MockBlob)
	deps := &Deps{Store: store, Blob: blobStore}

	ticket := &blob.UploadTicket{Kind: "single", Key: "uploads/abc.wav", PublicURL: "https://cdn/abc.wav", PutURL: "https://put"}
	blobStore.On("MintUpload", mock.Anything, "a.wav", "audio/wav", (*int64)(nil)).Return(ticket, nil)
	store.On("GCStaleUploads", mock.Anything, time.Duration(0)).Return(int64(0), nil)
	store.On("Create", mock.Anything, mock.AnythingOfType("*record.Record")).Return(nil)

	router := gin.New()
	router.POST("/api/upload-url", handleUploadURL(deps))

	w := doRequest(router, http.MethodPost, "/api/upload-url", uploadURLRequest{FileName: "a.wav", ContentType: "audio/wav"})

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "uploads/abc.wav", resp["file_key"])
	store.AssertExpectations(t)
	blobStore.AssertExpectations(t)
}

func TestHandleRetryDefaultsStepFromErroredRecord(t *testing.T) {
	store := new(MockStore)
	tq := setupTestQueue(t, "transcription")
	sq := setupTestQueue(t, "summary")
	aq := setupTestQueue(t, "article")
	deps := &Deps{Store: store, TranscriptionQueue: tq, SummaryQueue: sq, ArticleQueue: aq}

	summaryStep := record.StepSummary
	rec := &record.Record{ID: "rec-1", Status: record.StatusError, ProcessingStep: &summaryStep}
	store.On("Get", mock.Anything, "rec-1").Return(rec, nil)
	store.On("StartProcessing", mock.Anything, "rec-1").Return(nil)

	router := gin.New()
	router.POST("/api/records/:id/retry", handleRetry(deps))

	w := doRequest(router, http.MethodPost, "/api/records/rec-1/retry", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	counts, err := sq.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)
	store.AssertExpectations(t)
}

func TestHandleRetryRejectsMissingStepWhenNotErrored(t *testing.T) {
	store := new(MockStore)
	tq := setupTestQueue(t, "transcription")
	deps := &Deps{Store: store, TranscriptionQueue: tq}

	rec := &record.Record{ID: "rec-1", Status: record.StatusProcessing}
	store.On("Get", mock.Anything, "rec-1").Return(rec, nil)

	router := gin.New()
	router.POST("/api/records/:id/retry", handleRetry(deps))

	w := doRequest(router, http.MethodPost, "/api/records/rec-1/retry", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	store.AssertExpectations(t)
}

func TestHandleGetRecordIncludesDownloadURL(t *testing.T) {
	store := new(MockStore)
	blobStore := new(MockBlob)
	deps := &Deps{Store: store, Blob: blobStore}

	key := "uploads/abc.wav"
	rec := &record.Record{ID: "rec-1", FileName: "abc.wav", Status: record.StatusDone, FileKey: &key}
	store.On("Get", mock.Anything, "rec-1").Return(rec, nil)
	blobStore.On("GetDownloadURL", mock.Anything, key, time.Duration(0)).Return("https://signed", nil)

	router := gin.New()
	router.GET("/api/records/:id", handleGetRecord(deps))

	w := doRequest(router, http.MethodGet, "/api/records/rec-1", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp recordProjection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "https://signed", resp.DownloadURL)
	store.AssertExpectations(t)
	blobStore.AssertExpectations(t)
}

func TestHandleGetRecordNotFound(t *testing.T) {
	store := new(MockStore)
	deps := &Deps{Store: store}

	store.On("Get", mock.Anything, "missing").Return(nil, nil)

	router := gin.New()
	router.GET("/api/records/:id", handleGetRecord(deps))

	w := doRequest(router, http.MethodGet, "/api/records/missing", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	store.AssertExpectations(t)
}

func TestHandleListRecordsReturnsPage(t *testing.T) {
	store := new(MockStore)
	deps := &Deps{Store: store}

	recs := []*record.Record{{ID: "rec-1"}, {ID: "rec-2"}}
	store.On("List", mock.Anything, 1, 20).Return(recs, 2, nil)

	router := gin.New()
	router.GET("/api/records", handleListRecords(deps))

	w := doRequest(router, http.MethodGet, "/api/records", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp["records"], 2)
	store.AssertExpectations(t)
}

func TestHandleJobStatusFallsBackToRecordWhenDrainedFromQueues(t *testing.T) {
	store := new(MockStore)
	tq := setupTestQueue(t, "transcription")
	sq := setupTestQueue(t, "summary")
	aq := setupTestQueue(t, "article")
	deps := &Deps{Store: store, TranscriptionQueue: tq, SummaryQueue: sq, ArticleQueue: aq}

	rec := &record.Record{ID: "rec-1", Status: record.StatusDone}
	store.On("Get", mock.Anything, "rec-1").Return(rec, nil)

	router := gin.New()
	router.GET("/api/job-status/:id", handleJobStatus(deps))

	w := doRequest(router, http.MethodGet, "/api/job-status/rec-1", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp["state"])
	store.AssertExpectations(t)
}
