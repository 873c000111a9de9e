// Package handler implements the three Stage Handlers (C5): Transcription,
// Summary, and Article. Each shares the shape described in spec §4.5:
// pull input from the Record, call an AI adapter, write output back, and
// hand off to the next stage's queue.
package handler

import (
	"context"

	"cobblepod/internal/ai"
	"cobblepod/internal/blob"
	"cobblepod/internal/queue"
	"cobblepod/internal/record"
)

// Progress is the subset of the Progress Event Bus a handler needs to
// report stage completion percentage (spec §4.4 step 2, §4.6).
type Progress interface {
	Report(pct int, status, message string)
}

// Handler runs one pipeline stage against a claimed job.
type Handler interface {
	Handle(ctx context.Context, job *queue.Job, progress Progress) error
}

// Deps bundles the collaborators every handler needs. A single Deps value
// is shared by all three handlers in a worker process.
type Deps struct {
	Store   record.Gateway
	Blob    blob.Storage
	Speech  ai.SpeechAdapter
	Summarizer ai.LLMAdapter
	Writer     ai.LLMAdapter // higher-capacity model used by the Article handler
	Timestamps ai.LLMAdapter

	TranscriptionQueue *queue.Queue
	SummaryQueue       *queue.Queue
	ArticleQueue       *queue.Queue

	TmpDir              string
	HallucinationTokens func() []string
}

// resolveSource implements spec §4.5 step 1: prefer file_key, fall back to
// file_url.
func resolveSource(r *record.Record) (key string, url string, ok bool) {
	if r.FileKey != nil && *r.FileKey != "" {
		return *r.FileKey, "", true
	}
	if r.FileURL != nil && *r.FileURL != "" {
		return "", *r.FileURL, true
	}
	return "", "", false
}
