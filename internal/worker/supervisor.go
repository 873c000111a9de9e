package worker

import (
	"context"
	"log/slog"
	"time"

	"cobblepod/internal/queue"
)

// IdleSupervisor implements C8: it watches a bound Worker's queue counts
// and last-activity timestamp, and triggers graceful shutdown when the
// queue has been empty and idle past IdleThreshold (spec §4.8).
type IdleSupervisor struct {
	Worker        *Worker
	Queue         *queue.Queue
	CheckInterval time.Duration
	IdleThreshold time.Duration

	shutdown context.CancelFunc
}

// NewIdleSupervisor wires a supervisor to w, calling shutdown when it
// decides the process should exit. shutdown is typically the cancel func
// of the context the worker/sweeper loops run under.
func NewIdleSupervisor(w *Worker, q *queue.Queue, checkInterval, idleThreshold time.Duration, shutdown context.CancelFunc) *IdleSupervisor {
	if checkInterval <= 0 {
		checkInterval = 60 * time.Second
	}
	if idleThreshold <= 0 {
		idleThreshold = 10 * time.Minute
	}
	return &IdleSupervisor{Worker: w, Queue: q, CheckInterval: checkInterval, IdleThreshold: idleThreshold, shutdown: shutdown}
}

// Run ticks until ctx is cancelled, checking idleness on each tick.
func (s *IdleSupervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.shouldShutdown(ctx) {
				slog.Info("idle supervisor triggering graceful shutdown", "threshold", s.IdleThreshold)
				if s.shutdown != nil {
					s.shutdown()
				}
				return
			}
		}
	}
}

// shouldShutdown implements spec §4.8's decision rule: all queue counts
// zero AND now - last_activity_ts exceeds IdleThreshold. The supervisor
// never stops a worker mid-job, since a claimed job is not reflected in
// waiting/processing/delayed counts as zero until it completes or fails.
func (s *IdleSupervisor) shouldShutdown(ctx context.Context) bool {
	counts, err := s.Queue.Counts(ctx)
	if err != nil {
		slog.Error("idle supervisor count check failed", "error", err)
		return false
	}
	if counts.Waiting != 0 || counts.Processing != 0 || counts.Delayed != 0 {
		return false
	}
	return time.Since(s.Worker.LastActivity()) > s.IdleThreshold
}
