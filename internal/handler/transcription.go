package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cobblepod/internal/ai"
	"cobblepod/internal/herr"
	"cobblepod/internal/queue"
	"cobblepod/internal/record"

	"github.com/google/uuid"
)

// TranscriptionHandler implements the first pipeline stage (spec §4.5).
type TranscriptionHandler struct {
	Deps *Deps
}

var _ Handler = (*TranscriptionHandler)(nil)

// Handle runs the full transcription pipeline for one job: fetch source,
// optionally demux+normalize video/audio, chunk if large, transcribe each
// chunk, cascade-parse timestamps, persist, and enqueue the summary stage.
func (h *TranscriptionHandler) Handle(ctx context.Context, job *queue.Job, progress Progress) error {
	rec, err := h.Deps.Store.Get(ctx, job.RecordID)
	if err != nil {
		return herr.Wrap(herr.KindTransientDownstream, "load record", err)
	}
	if rec == nil {
		return herr.New(herr.KindPoisonInput, "record not found")
	}

	key, url, ok := resolveSource(rec)
	if !ok {
		return herr.New(herr.KindPoisonInput, "record has no file_key or file_url")
	}

	workDir, err := os.MkdirTemp(h.Deps.TmpDir, "transcribe-*")
	if err != nil {
		return herr.Wrap(herr.KindTransientDownstream, "create temp dir", err)
	}
	defer os.RemoveAll(workDir)

	srcPath := filepath.Join(workDir, "source"+filepath.Ext(rec.FileName))
	if key != "" {
		if err := h.Deps.Blob.FetchToFile(ctx, key, srcPath); err != nil {
			return herr.Wrap(herr.KindTransientDownstream, "fetch source object", err)
		}
	} else {
		if err := downloadToFile(ctx, url, srcPath); err != nil {
			return herr.Wrap(herr.KindTransientDownstream, "download source url", err)
		}
	}
	progress.Report(5, string(record.StatusProcessing), "")

	audioPath := srcPath
	if isVideo(strings.ToLower(filepath.Ext(srcPath))) {
		extracted, err := extractAudio(ctx, srcPath, workDir)
		if err != nil {
			return err
		}
		audioPath = extracted
	}

	normalized, err := normalizeAudio(ctx, audioPath, workDir)
	if err != nil {
		// spec §4.5 step 3: if optimization fails, continue unoptimized.
		normalized = audioPath
	}
	progress.Report(25, string(record.StatusProcessing), "")

	size, err := fileSize(normalized)
	if err != nil {
		return err
	}

	var chunkPaths []string
	if size > optimizedSizeThreshold {
		chunkDir := filepath.Join(workDir, "chunks")
		if err := os.MkdirAll(chunkDir, 0o755); err != nil {
			return herr.Wrap(herr.KindTransientDownstream, "create chunk dir", err)
		}
		chunkPaths, err = chunkAudio(ctx, normalized, chunkDir, chunkSeconds)
		if err != nil {
			return err
		}
	} else {
		chunkPaths = []string{normalized}
	}
	progress.Report(40, string(record.StatusProcessing), "")

	transcripts := make([]string, 0, len(chunkPaths))
	for _, chunkPath := range chunkPaths {
		data, err := os.ReadFile(chunkPath)
		if err != nil {
			return herr.Wrap(herr.KindTransientDownstream, "read chunk", err)
		}
		text, err := h.Deps.Speech.Transcribe(ctx, encodeChunk(data))
		if err != nil {
			return err
		}
		transcripts = append(transcripts, filterChunkTranscript(h.Deps.HallucinationTokens(), text))
	}

	if isWhollyHallucinated(transcripts) {
		return herr.New(herr.KindPoisonInput, "transcript is wholly hallucinated")
	}
	fullTranscript := strings.Join(transcripts, "\n\n")
	progress.Report(70, string(record.StatusProcessing), "")

	var timestampsJSON *string
	if raw, err := h.Deps.Timestamps.Complete(ctx, timestampPrompt(fullTranscript), ai.CompleteOptions{}); err == nil {
		if entries := ParseTimestamps(raw); entries != nil {
			encoded, err := marshalTimestamps(entries)
			if err == nil {
				timestampsJSON = &encoded
			}
		}
	}

	if err := h.Deps.Store.SaveTranscript(ctx, rec.ID, fullTranscript, timestampsJSON); err != nil {
		return herr.Wrap(herr.KindTransientDownstream, "save transcript", err)
	}
	progress.Report(100, string(record.StatusTranscribed), "")

	nextJob := &queue.Job{
		ID:                 uuid.New().String(),
		Type:               queue.StageSummary,
		RecordID:           rec.ID,
		CreatedAt:          time.Now(),
		ProcessingDeadline: time.Now().Add(30 * time.Minute),
		Priority:           job.Priority,
	}
	if err := h.Deps.SummaryQueue.Enqueue(ctx, nextJob, queue.EnqueueOptions{Priority: job.Priority}); err != nil {
		// The record is already coherently TRANSCRIBED; an operator retry
		// at step 3 can resume (spec §4.4's hand-off order note).
		return herr.Wrap(herr.KindTransientDownstream, "enqueue summary job", err)
	}
	return nil
}

// timestampPrompt builds a strict JSON-array schema prompt for the
// Timestamp Adapter (spec §4.5 step 6).
func timestampPrompt(transcript string) string {
	return "Given this transcript, produce a JSON array of objects with exactly the keys " +
		"\"timestamp\" and \"text\", one entry per topic change. Respond with the JSON array " +
		"and nothing else.\n\n" + transcript
}

func marshalTimestamps(entries []TimestampEntry) (string, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// encodeChunk base64-encodes a chunk's raw bytes for transport as an
// inline audio part (spec §4.5 step 5).
func encodeChunk(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func downloadToFile(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 30 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: HTTP %d", url, resp.StatusCode)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}
