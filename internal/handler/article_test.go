package handler

import (
	"context"
	"testing"

	"cobblepod/internal/ai"
	"cobblepod/internal/queue"
	"cobblepod/internal/record"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestArticleHandlerSavesArticle(t *testing.T) {
	store := new(MockStore)
	writer := new(MockLLMAdapter)

	transcript := "transcript text"
	summary := "summary text"
	rec := &record.Record{ID: "rec-1", TranscriptText: &transcript, SummaryText: &summary}
	store.On("Get", mock.Anything, "rec-1").Return(rec, nil)
	writer.On("Complete", mock.Anything, mock.AnythingOfType("string"), ai.CompleteOptions{}).
		Return("# Article\n\nBody.", nil)
	store.On("SaveArticle", mock.Anything, "rec-1", "# Article\n\nBody.").Return(nil)

	h := &ArticleHandler{Deps: &Deps{Store: store, Writer: writer, HallucinationTokens: noTokens}}
	job := &queue.Job{ID: "job-1", RecordID: "rec-1"}
	err := h.Handle(context.Background(), job, noopProgress{})

	require.NoError(t, err)
	store.AssertExpectations(t)
	writer.AssertExpectations(t)
}

func TestArticleHandlerRejectsMissingPrerequisites(t *testing.T) {
	store := new(MockStore)
	rec := &record.Record{ID: "rec-1"}
	store.On("Get", mock.Anything, "rec-1").Return(rec, nil)

	h := &ArticleHandler{Deps: &Deps{Store: store, HallucinationTokens: noTokens}}
	job := &queue.Job{ID: "job-1", RecordID: "rec-1"}
	err := h.Handle(context.Background(), job, noopProgress{})

	assert.Error(t, err)
	store.AssertExpectations(t)
}

func TestArticleHandlerRejectsHallucinatedArticle(t *testing.T) {
	store := new(MockStore)
	writer := new(MockLLMAdapter)

	transcript := "transcript text"
	summary := "summary text"
	rec := &record.Record{ID: "rec-1", TranscriptText: &transcript, SummaryText: &summary}
	store.On("Get", mock.Anything, "rec-1").Return(rec, nil)
	writer.On("Complete", mock.Anything, mock.AnythingOfType("string"), ai.CompleteOptions{}).
		Return("as an AI language model I cannot help", nil)

	h := &ArticleHandler{Deps: &Deps{
		Store:  store,
		Writer: writer,
		HallucinationTokens: func() []string {
			return []string{"as an AI language model"}
		},
	}}
	job := &queue.Job{ID: "job-1", RecordID: "rec-1"}
	err := h.Handle(context.Background(), job, noopProgress{})

	assert.Error(t, err)
	store.AssertExpectations(t)
	writer.AssertExpectations(t)
}
