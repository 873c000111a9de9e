package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"cobblepod/internal/herr"
	"cobblepod/internal/queue"
	"cobblepod/internal/record"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestQueue(t *testing.T, stage string) *queue.Queue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return queue.New(client, stage)
}

func TestHandleHealthReturnsOK(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/health", handleHealth)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestWriteErrorResponseMapsKindsToStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"poison input", herr.New(herr.KindPoisonInput, "bad"), http.StatusBadRequest},
		{"hallucination", herr.New(herr.KindHallucination, "bad"), http.StatusBadRequest},
		{"stale state", herr.New(herr.KindStaleState, "stale"), http.StatusConflict},
		{"transient downstream", herr.New(herr.KindTransientDownstream, "down"), http.StatusInternalServerError},
		{"unknown", assertError{"boom"}, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			writeErrorResponse(c, tc.err)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

func TestCorsMiddlewareWildcardByDefault(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware(nil))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://example.com")
	router.ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCorsMiddlewareAllowListRejectsUnlistedOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware([]string{"https://allowed.example.com"}))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	router.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCorsMiddlewareAllowListAcceptsListedOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware([]string{"https://allowed.example.com"}))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://allowed.example.com")
	router.ServeHTTP(w, req)

	assert.Equal(t, "https://allowed.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCorsMiddlewareHandlesPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware(nil))
	router.OPTIONS("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodOptions, "/x", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestJobStateFromRecordStatus(t *testing.T) {
	assert.Equal(t, "waiting", jobStateFromRecordStatus(record.StatusUploaded))
	assert.Equal(t, "processing", jobStateFromRecordStatus(record.StatusProcessing))
	assert.Equal(t, "processing", jobStateFromRecordStatus(record.StatusTranscribed))
	assert.Equal(t, "completed", jobStateFromRecordStatus(record.StatusDone))
	assert.Equal(t, "failed", jobStateFromRecordStatus(record.StatusError))
}

func TestStepFromRecordDefaultsAndMaps(t *testing.T) {
	summary := record.StepSummary
	article := record.StepArticle
	download := record.StepDownload

	assert.Equal(t, 1, stepFromRecord(&record.Record{}))
	assert.Equal(t, 1, stepFromRecord(&record.Record{ProcessingStep: &download}))
	assert.Equal(t, 3, stepFromRecord(&record.Record{ProcessingStep: &summary}))
	assert.Equal(t, 4, stepFromRecord(&record.Record{ProcessingStep: &article}))
}

func TestQueueForStepSelectsBoundQueue(t *testing.T) {
	deps := &Deps{
		TranscriptionQueue: setupTestQueue(t, queue.StageTranscription),
		SummaryQueue:       setupTestQueue(t, queue.StageSummary),
		ArticleQueue:       setupTestQueue(t, queue.StageArticle),
	}

	assert.Same(t, deps.TranscriptionQueue, queueForStep(deps, 1))
	assert.Same(t, deps.TranscriptionQueue, queueForStep(deps, 2))
	assert.Same(t, deps.SummaryQueue, queueForStep(deps, 3))
	assert.Same(t, deps.ArticleQueue, queueForStep(deps, 4))
	assert.Nil(t, queueForStep(deps, 0))
	assert.Nil(t, queueForStep(deps, 5))
}

func TestQueueStageForStep(t *testing.T) {
	assert.Equal(t, queue.StageTranscription, queueStageForStep(1))
	assert.Equal(t, queue.StageTranscription, queueStageForStep(2))
	assert.Equal(t, queue.StageSummary, queueStageForStep(3))
	assert.Equal(t, queue.StageArticle, queueStageForStep(4))
}

func TestDepsQueuesReturnsAllThreeInOrder(t *testing.T) {
	deps := &Deps{
		TranscriptionQueue: setupTestQueue(t, queue.StageTranscription),
		SummaryQueue:       setupTestQueue(t, queue.StageSummary),
		ArticleQueue:       setupTestQueue(t, queue.StageArticle),
	}
	qs := deps.queues()
	require.Len(t, qs, 3)
	assert.Same(t, deps.TranscriptionQueue, qs[0])
	assert.Same(t, deps.SummaryQueue, qs[1])
	assert.Same(t, deps.ArticleQueue, qs[2])
}

func TestProjectRecordMapsFieldsAndStep(t *testing.T) {
	step := record.StepSummary
	text := "hello"
	rec := &record.Record{
		ID:             "rec-1",
		FileName:       "a.mp3",
		Status:         record.StatusSummarized,
		ProcessingStep: &step,
		SummaryText:    &text,
	}
	proj := projectRecord(rec)
	assert.Equal(t, "rec-1", proj.ID)
	assert.Equal(t, string(record.StatusSummarized), proj.Status)
	require.NotNil(t, proj.ProcessingStep)
	assert.Equal(t, string(record.StepSummary), *proj.ProcessingStep)
	require.NotNil(t, proj.SummaryText)
	assert.Equal(t, "hello", *proj.SummaryText)
}
