package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cobblepod/internal/api"
	"cobblepod/internal/blob"
	"cobblepod/internal/config"
	"cobblepod/internal/events"
	"cobblepod/internal/queue"
	"cobblepod/internal/record"
)

func main() {
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(jsonHandler))

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

	transcriptionQueue, err := queue.Connect(ctx, config.RedisURL, queue.StageTranscription)
	if err != nil {
		slog.Error("failed to connect transcription queue", "error", err)
		os.Exit(1)
	}
	defer transcriptionQueue.Close()

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

	bus := events.NewBus()

	srv := api.NewServer(config.Port, &api.Deps{
		Store:              store,
		Blob:               broker,
		Bus:                bus,
		TranscriptionQueue: transcriptionQueue,
		SummaryQueue:       summaryQueue,
		ArticleQueue:       articleQueue,
		StaleUploadMaxAge:  config.StaleUploadMaxAge,
		AllowedOrigins:     config.AllowedOrigins,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed to start", "error", err)
			cancel()
		}
	}()

	slog.Info("cobblepod control plane started", "port", config.Port)

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	} else {
		slog.Info("server exited gracefully")
	}
}
