// Package worker implements the Stage Worker Runtime (C4), the Deadline
// Sweeper (C7), and the Idle Supervisor (C8). Each Worker binds to one
// queue and one stage handler (spec §4.4) and runs N cooperative in-flight
// claims sharing that queue connection, following the channel worker-pool
// shape this codebase already uses for download/ffmpeg fan-out.
package worker

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"cobblepod/internal/events"
	"cobblepod/internal/handler"
	"cobblepod/internal/herr"
	"cobblepod/internal/queue"
	"cobblepod/internal/record"

	"golang.org/x/time/rate"
)

// Config tunes a Worker's runtime behavior (spec §4.4, §5).
type Config struct {
	Concurrency   int
	StageDeadline time.Duration
	MaxAttempts   int
	RateLimit     rate.Limit // 0 disables the limiter
	RateBurst     int
	ClaimIdle     time.Duration // sleep between empty claims
}

// DefaultConfig mirrors spec §4.4's stated defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:   4,
		StageDeadline: 30 * time.Minute,
		MaxAttempts:   3,
		ClaimIdle:     2 * time.Second,
	}
}

// Worker runs one stage's handler against one queue.
type Worker struct {
	Stage   string
	Queue   *queue.Queue
	Store   record.Gateway
	Handler handler.Handler
	Bus     *events.Bus
	Config  Config

	limiter      *rate.Limiter
	lastActivity atomic.Int64 // unix nanoseconds, read by the idle supervisor
	wg           sync.WaitGroup
}

// New constructs a Worker. Pass cfg.RateLimit == 0 to disable limiting.
func New(stage string, q *queue.Queue, store record.Gateway, h handler.Handler, bus *events.Bus, cfg Config) *Worker {
	w := &Worker{Stage: stage, Queue: q, Store: store, Handler: h, Bus: bus, Config: cfg}
	if cfg.RateLimit > 0 {
		w.limiter = rate.NewLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	w.lastActivity.Store(time.Now().UnixNano())
	return w
}

// LastActivity returns the timestamp of the most recent claim, completion,
// or failure, consumed by the Idle Supervisor (spec §4.8).
func (w *Worker) LastActivity() time.Time {
	return time.Unix(0, w.lastActivity.Load())
}

// Run starts Config.Concurrency claim loops and blocks until ctx is
// cancelled, then waits for in-flight handlers to finish before returning
// (spec §4.4 step 6, §5's cancellation/graceful-shutdown rules).
func (w *Worker) Run(ctx context.Context) {
	for i := 0; i < w.Config.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(ctx, i)
	}
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context, slot int) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
		}

		job, err := w.Queue.Claim(ctx, slotWorkerID(w.Stage, slot))
		if err != nil {
			slog.Error("claim failed", "stage", w.Stage, "error", err)
			sleepOrDone(ctx, w.Config.ClaimIdle)
			continue
		}
		if job == nil {
			sleepOrDone(ctx, w.Config.ClaimIdle)
			continue
		}

		w.lastActivity.Store(time.Now().UnixNano())
		w.process(ctx, job)
		w.lastActivity.Store(time.Now().UnixNano())
	}
}

// process runs one claimed job to completion, implementing the success
// and failure paths of spec §4.4 steps 2-5.
func (w *Worker) process(ctx context.Context, job *queue.Job) {
	if err := w.Store.StartProcessing(ctx, job.RecordID); err != nil {
		// StartProcessing only succeeds from UPLOADED or ERROR, so it is
		// rejected with StaleState whenever the record is already
		// PROCESSING, TRANSCRIBED or SUMMARIZED (the usual case once the API
		// or a previous stage has run). The rejection is only logged; the
		// handler runs either way.
		slog.Warn("start processing rejected", "record_id", job.RecordID, "error", err)
	}

	progress := events.NewProgress(w.Bus, job.ID)
	progress.Report(5, "PROCESSING", "")

	deadline := w.Config.StageDeadline
	if deadline <= 0 {
		deadline = 30 * time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	err := w.Handler.Handle(jobCtx, job, progress)
	if err != nil {
		w.handleFailure(ctx, job, err, progress)
		return
	}

	if err := w.Queue.Complete(ctx, job.ID); err != nil {
		slog.Error("complete failed", "job_id", job.ID, "error", err)
	}
	w.Bus.Publish(job.ID, events.TopicCompleted, nil)
}

func (w *Worker) handleFailure(ctx context.Context, job *queue.Job, err error, progress events.Progress) {
	if ctx.Err() != nil {
		// Cancellation (SIGTERM/idle shutdown): leave the job in
		// processing for the sweeper, no status change (spec §7 OperatorAbort).
		slog.Info("job interrupted by shutdown", "job_id", job.ID)
		return
	}

	if recErr := w.Store.RecordError(ctx, job.RecordID, err.Error(), stepForStage(w.Stage)); recErr != nil {
		slog.Error("record_error failed", "record_id", job.RecordID, "error", recErr)
	}
	maxAttempts := w.Config.MaxAttempts
	if herr.Is(err, herr.KindPoisonInput) {
		// PoisonInput is never retried: archive straight to failed.
		maxAttempts = 0
	}
	if failErr := w.Queue.Fail(ctx, job, err.Error(), maxAttempts); failErr != nil {
		slog.Error("fail failed", "job_id", job.ID, "error", failErr)
	}
	progress.Report(0, "ERROR", err.Error())
	w.Bus.Publish(job.ID, events.TopicFailed, err.Error())
}

func slotWorkerID(stage string, slot int) string {
	return stage + "-" + strconv.Itoa(slot)
}

// stepForStage maps a queue stage name to the record.Step recorded
// alongside a failure, for operator visibility (spec §3's processing_step).
func stepForStage(stage string) record.Step {
	switch stage {
	case queue.StageTranscription:
		return record.StepTranscription
	case queue.StageSummary:
		return record.StepSummary
	case queue.StageArticle:
		return record.StepArticle
	default:
		return record.StepTranscription
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
