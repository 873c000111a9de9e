package handler

import (
	"context"
	"fmt"
	"time"

	"cobblepod/internal/ai"
	"cobblepod/internal/herr"
	"cobblepod/internal/queue"
	"cobblepod/internal/record"

	"github.com/google/uuid"
)

// SummaryHandler implements the second pipeline stage (spec §4.5).
type SummaryHandler struct {
	Deps *Deps
}

var _ Handler = (*SummaryHandler)(nil)

func (h *SummaryHandler) Handle(ctx context.Context, job *queue.Job, progress Progress) error {
	rec, err := h.Deps.Store.Get(ctx, job.RecordID)
	if err != nil {
		return herr.Wrap(herr.KindTransientDownstream, "load record", err)
	}
	if rec == nil {
		return herr.New(herr.KindPoisonInput, "record not found")
	}
	if rec.TranscriptText == nil || *rec.TranscriptText == "" {
		return herr.New(herr.KindPoisonInput, "missing prerequisite: transcript_text")
	}
	progress.Report(5, string(record.StatusProcessing), "")

	prompt := summaryPrompt(*rec.TranscriptText)
	summary, err := h.Deps.Summarizer.Complete(ctx, prompt, ai.CompleteOptions{})
	if err != nil {
		return err
	}
	progress.Report(70, string(record.StatusProcessing), "")

	if containsHallucinationToken(h.Deps.HallucinationTokens(), summary) {
		return herr.New(herr.KindPoisonInput, "summary contains hallucinated content")
	}

	if err := h.Deps.Store.SaveSummary(ctx, rec.ID, summary); err != nil {
		return herr.Wrap(herr.KindTransientDownstream, "save summary", err)
	}
	progress.Report(100, string(record.StatusSummarized), "")

	nextJob := &queue.Job{
		ID:                 uuid.New().String(),
		Type:               queue.StageArticle,
		RecordID:           rec.ID,
		CreatedAt:          time.Now(),
		ProcessingDeadline: time.Now().Add(30 * time.Minute),
		Priority:           job.Priority,
	}
	if err := h.Deps.ArticleQueue.Enqueue(ctx, nextJob, queue.EnqueueOptions{Priority: job.Priority}); err != nil {
		return herr.Wrap(herr.KindTransientDownstream, "enqueue article job", err)
	}
	return nil
}

// summaryPrompt asks for a paragraph-style summary roughly 20% of source
// length, forbidding added facts (spec §4.5 step 2).
func summaryPrompt(transcript string) string {
	target := len(transcript) / 5
	return fmt.Sprintf("Write a paragraph-style summary of the following transcript, targeting "+
		"approximately %d characters (about 20%% of the source length). Do not add any facts, "+
		"names, or claims not present in the transcript.\n\n%s", target, transcript)
}
