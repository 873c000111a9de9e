package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"cobblepod/internal/ai"
	"cobblepod/internal/blob"
	"cobblepod/internal/config"
	"cobblepod/internal/events"
	"cobblepod/internal/handler"
	"cobblepod/internal/queue"
	"cobblepod/internal/record"
	"cobblepod/internal/worker"
)

// main binds this process to exactly one queue and one stage handler,
// selected by STAGE (spec §4.4). Run one process per stage in production;
// STAGE defaults to transcription for local development.
func main() {
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(jsonHandler))

	stage := os.Getenv("STAGE")
	if stage == "" {
		stage = queue.StageTranscription
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	store, err := record.NewStore(ctx, &record.Config{ConnectionString: config.DatabaseURL})
	if err != nil {
		slog.Error("failed to connect to record store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	broker, err := blob.New(ctx, blob.Config{
		Region:      config.R2Region,
		Bucket:      config.R2BucketName,
		AccessKey:   config.R2AccessKeyID,
		SecretKey:   config.R2SecretAccessKey,
		EndpointURL: config.R2Endpoint,
		PublicURL:   config.R2PublicURL,
	})
	if err != nil {
		slog.Error("failed to connect to blob storage", "error", err)
		os.Exit(1)
	}

	q, err := queue.Connect(ctx, config.RedisURL, stage)
	if err != nil {
		slog.Error("failed to connect queue", "stage", stage, "error", err)
		os.Exit(1)
	}
	defer q.Close()

	summaryQueue, err := queue.Connect(ctx, config.RedisURL, queue.StageSummary)
	if err != nil {
		slog.Error("failed to connect summary queue", "error", err)
		os.Exit(1)
	}
	defer summaryQueue.Close()

	articleQueue, err := queue.Connect(ctx, config.RedisURL, queue.StageArticle)
	if err != nil {
		slog.Error("failed to connect article queue", "error", err)
		os.Exit(1)
	}
	defer articleQueue.Close()

	queue.SetStageDeadline(config.StageDeadline)

	bus := events.NewBus()

	tokens := config.NewTokenWatcher(config.HallucinationTokensFile, config.HallucinationTokens)
	defer tokens.Close()

	deps := &handler.Deps{
		Store:               store,
		Blob:                broker,
		Speech:              ai.NewGeminiAdapter(config.GeminiAPIKey, config.GeminiModel),
		Summarizer:          ai.NewGeminiAdapter(config.GeminiAPIKey, config.GeminiModel),
		Writer:              ai.NewOpenRouterAdapter(config.OpenRouterAPIKey, config.OpenRouterModel),
		Timestamps:          ai.NewGeminiAdapter(config.GeminiAPIKey, config.GeminiModel),
		TranscriptionQueue:  q,
		SummaryQueue:        summaryQueue,
		ArticleQueue:        articleQueue,
		TmpDir:              config.TmpDir,
		HallucinationTokens: tokens.Tokens,
	}

	h, err := handlerForStage(stage, deps)
	if err != nil {
		slog.Error("unknown stage", "stage", stage, "error", err)
		os.Exit(1)
	}

	cfg := worker.DefaultConfig()
	cfg.Concurrency = config.WorkerConcurrency
	cfg.StageDeadline = config.StageDeadline
	cfg.MaxAttempts = config.MaxAttempts

	w := worker.New(stage, q, store, h, bus, cfg)

	sweeper := worker.NewSweeper([]*queue.Queue{q}, config.SweepInterval, config.SweepGrace)
	idle := worker.NewIdleSupervisor(w, q, 0, config.IdleTimeout, cancel)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); w.Run(ctx) }()
	go func() { defer wg.Done(); sweeper.Run(ctx) }()
	go func() { defer wg.Done(); idle.Run(ctx) }()

	slog.Info("cobblepod worker started", "stage", stage, "concurrency", cfg.Concurrency)

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	case <-ctx.Done():
		slog.Info("shutting down", "stage", stage)
	}

	// Block until w.Run has released its claim goroutines and any in-flight
	// job has finished or been abandoned (spec §4.4 step 6), rather than
	// exiting mid-ffmpeg-subprocess or mid-AI-call.
	wg.Wait()
	slog.Info("worker exited gracefully", "stage", stage)
}

func handlerForStage(stage string, deps *handler.Deps) (handler.Handler, error) {
	switch stage {
	case queue.StageTranscription:
		return &handler.TranscriptionHandler{Deps: deps}, nil
	case queue.StageSummary:
		return &handler.SummaryHandler{Deps: deps}, nil
	case queue.StageArticle:
		return &handler.ArticleHandler{Deps: deps}, nil
	default:
		return nil, fmt.Errorf("no handler bound to stage %q", stage)
	}
}
