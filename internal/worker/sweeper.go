package worker

import (
	"context"
	"log/slog"
	"time"

	"cobblepod/internal/queue"
)

// Sweeper implements the Deadline Sweeper (C7): every Interval, it calls
// Sweep(olderThan) on every bound queue, requeueing jobs stuck in
// processing past their deadline.
type Sweeper struct {
	Queues   []*queue.Queue
	Interval time.Duration
	Grace    time.Duration
}

// NewSweeper constructs a Sweeper over the given queues, using spec §4.7's
// stated defaults when interval is zero or negative or grace is zero. A
// negative grace is kept and sweeps jobs before their deadline passes.
func NewSweeper(queues []*queue.Queue, interval, grace time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if grace == 0 {
		grace = 2 * time.Hour
	}
	return &Sweeper{Queues: queues, Interval: interval, Grace: grace}
}

// Run ticks until ctx is cancelled, sweeping every bound queue on each tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	for _, q := range s.Queues {
		requeued, err := q.Sweep(ctx, s.Grace)
		if err != nil {
			slog.Error("sweep failed", "error", err)
			continue
		}
		if len(requeued) > 0 {
			slog.Info("swept stuck jobs", "count", len(requeued), "job_ids", requeued)
		}
	}
}
