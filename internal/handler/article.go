package handler

import (
	"context"

	"cobblepod/internal/ai"
	"cobblepod/internal/herr"
	"cobblepod/internal/queue"
	"cobblepod/internal/record"
)

// ArticleHandler implements the third and final pipeline stage (spec §4.5).
type ArticleHandler struct {
	Deps *Deps
}

var _ Handler = (*ArticleHandler)(nil)

func (h *ArticleHandler) Handle(ctx context.Context, job *queue.Job, progress Progress) error {
	rec, err := h.Deps.Store.Get(ctx, job.RecordID)
	if err != nil {
		return herr.Wrap(herr.KindTransientDownstream, "load record", err)
	}
	if rec == nil {
		return herr.New(herr.KindPoisonInput, "record not found")
	}
	if rec.TranscriptText == nil || *rec.TranscriptText == "" || rec.SummaryText == nil || *rec.SummaryText == "" {
		return herr.New(herr.KindPoisonInput, "missing prerequisite: transcript_text or summary_text")
	}
	progress.Report(5, string(record.StatusProcessing), "")

	article, err := h.Deps.Writer.Complete(ctx, articlePrompt(*rec.TranscriptText, *rec.SummaryText), ai.CompleteOptions{})
	if err != nil {
		return err
	}
	progress.Report(80, string(record.StatusProcessing), "")

	if containsHallucinationToken(h.Deps.HallucinationTokens(), article) {
		return herr.New(herr.KindPoisonInput, "article contains hallucinated content")
	}

	if err := h.Deps.Store.SaveArticle(ctx, rec.ID, article); err != nil {
		return herr.Wrap(herr.KindTransientDownstream, "save article", err)
	}
	progress.Report(100, string(record.StatusDone), "")
	return nil
}

// articlePrompt asks the higher-capacity model for a structured Markdown
// article of roughly 2000-3000 characters (spec §4.5 step 2).
func articlePrompt(transcript, summary string) string {
	return "Using the summary as a guide and the transcript for detail, write a Markdown " +
		"article with structured headings, between 2000 and 3000 characters. Do not add facts " +
		"beyond what is present in the transcript or summary.\n\nSummary:\n" + summary +
		"\n\nTranscript:\n" + transcript
}
