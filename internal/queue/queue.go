// Package queue implements the Durable Queue (C3): a named channel per
// pipeline stage backed by Redis, with priority-ordered waiting jobs,
// delayed retry, a processing set for in-flight claims, and bounded
// completed/failed archives. The key layout generalizes the list/set/hash
// primitives used in this codebase's original job queue into ZSET-ordered
// claim semantics so that priority and delayed retry are native rather
// than bolted on.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// Stage names double as queue names; one Queue instance binds to one stage.
const (
	StageTranscription = "transcription"
	StageSummary       = "summary"
	StageArticle       = "article"
)

var ErrNotConnected = errors.New("queue is not connected")

// Job is the queue payload (spec §3 Job).
type Job struct {
	ID                 string    `json:"id"`
	Type               string    `json:"type"`
	RecordID           string    `json:"record_id"`
	FileKey            string    `json:"file_key"`
	Attempt            int       `json:"attempt"`
	CreatedAt          time.Time `json:"created_at"`
	ProcessingDeadline time.Time `json:"processing_deadline"`
	Priority           int       `json:"priority"`
}

// PriorityForSize derives a job's priority from the source file size, per
// spec §3: smaller files jump the line.
func PriorityForSize(sizeBytes int64) int {
	const mib = 1 << 20
	switch {
	case sizeBytes < 10*mib:
		return 1
	case sizeBytes < 100*mib:
		return 2
	default:
		return 3
	}
}

// EnqueueOptions customizes a single Enqueue call.
type EnqueueOptions struct {
	Delay    time.Duration // if > 0, job starts in `delayed` instead of `waiting`
	Priority int           // defaults to 1 (highest) if unset
}

// Queue manages one named stage's Redis-backed job lists.
type Queue struct {
	client *redis.Client
	stage  string
}

// New binds a Queue to one stage name, sharing the given Redis client.
func New(client *redis.Client, stage string) *Queue {
	return &Queue{client: client, stage: stage}
}

// Connect dials Redis from a URL (e.g. config.RedisURL) and returns a Queue
// bound to stage.
func Connect(ctx context.Context, redisURL, stage string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	slog.Info("queue connected", "stage", stage, "addr", opts.Addr)
	return New(client, stage), nil
}

func (q *Queue) key(suffix string) string {
	return fmt.Sprintf("pipeline:%s:%s", q.stage, suffix)
}

func (q *Queue) waitingKey() string    { return q.key("waiting") }
func (q *Queue) processingKey() string { return q.key("processing") }
func (q *Queue) delayedKey() string    { return q.key("delayed") }
func (q *Queue) completedKey() string  { return q.key("completed") }
func (q *Queue) failedKey() string     { return q.key("failed") }
func (q *Queue) jobKey(id string) string {
	return fmt.Sprintf("%s:job:%s", q.key("job"), id)
}

const (
	completedArchiveCap = 100
	failedTTL           = 7 * 24 * time.Hour
	maxBackoff          = 5 * time.Minute
)

// waitingScore orders waiting jobs by priority first, creation time second:
// lower scores claim first.
func waitingScore(priority int, createdAt time.Time) float64 {
	return float64(priority)*1e15 + float64(createdAt.UnixNano())/1e6
}

func (q *Queue) saveJob(ctx context.Context, pipe redis.Pipeliner, job *Job) error {
	blob, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	pipe.Set(ctx, q.jobKey(job.ID), blob, 0)
	return nil
}

// Enqueue appends job to `waiting` (or `delayed` if opts.Delay > 0).
func (q *Queue) Enqueue(ctx context.Context, job *Job, opts EnqueueOptions) error {
	if q.client == nil {
		return ErrNotConnected
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	priority := opts.Priority
	if priority == 0 {
		priority = 1
	}
	job.Priority = priority

	pipe := q.client.TxPipeline()
	if err := q.saveJob(ctx, pipe, job); err != nil {
		return err
	}
	if opts.Delay > 0 {
		readyAt := time.Now().Add(opts.Delay)
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(readyAt.Unix()), Member: job.ID})
	} else {
		pipe.ZAdd(ctx, q.waitingKey(), redis.Z{Score: waitingScore(priority, job.CreatedAt), Member: job.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	slog.Info("job enqueued", "stage", q.stage, "job_id", job.ID, "record_id", job.RecordID)
	return nil
}

// promoteDelayedScript moves every delayed job whose ready-at has passed
// into waiting, re-scored by priority alone (priority*1e15, with no
// creation-time term), so a promoted job sorts ahead of waiting jobs of the
// same priority. Done in Lua so the read-then-move is atomic against
// concurrent workers.
var promoteDelayedScript = redis.NewScript(`
local delayedKey = KEYS[1]
local waitingKey = KEYS[2]
local jobKeyPrefix = KEYS[3]
local now = tonumber(ARGV[1])
local ready = redis.call('ZRANGEBYSCORE', delayedKey, '-inf', now)
for _, id in ipairs(ready) do
	local raw = redis.call('GET', jobKeyPrefix .. ':' .. id)
	if raw then
		local job = cjson.decode(raw)
		local score = (job.priority or 1) * 1e15
		redis.call('ZADD', waitingKey, score, id)
	end
	redis.call('ZREM', delayedKey, id)
end
return #ready
`)

// promoteDelayed runs promoteDelayedScript; called at the top of Claim so
// delayed retries become claimable without a separate poller.
func (q *Queue) promoteDelayed(ctx context.Context) error {
	_, err := promoteDelayedScript.Run(ctx, q.client,
		[]string{q.delayedKey(), q.waitingKey(), q.key("job")},
		time.Now().Unix(),
	).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("promote delayed: %w", err)
	}
	return nil
}

// claimScript atomically pops the lowest-scored (highest priority, oldest)
// waiting job and moves it to processing, scored by its deadline.
var claimScript = redis.NewScript(`
local waitingKey = KEYS[1]
local processingKey = KEYS[2]
local popped = redis.call('ZPOPMIN', waitingKey)
if #popped == 0 then
	return nil
end
local id = popped[1]
redis.call('ZADD', processingKey, ARGV[1], id)
return id
`)

// Claim atomically pops the highest-priority waiting job and moves it to
// processing. Returns nil, nil if the queue is empty.
func (q *Queue) Claim(ctx context.Context, workerID string) (*Job, error) {
	if q.client == nil {
		return nil, ErrNotConnected
	}
	if err := q.promoteDelayed(ctx); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(stageDeadline)
	result, err := claimScript.Run(ctx, q.client,
		[]string{q.waitingKey(), q.processingKey()},
		deadline.Unix(),
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if result == nil {
		return nil, nil
	}
	id, _ := result.(string)
	if id == "" {
		return nil, nil
	}

	job, err := q.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		// Job data vanished (e.g. expired); drop the dangling claim marker.
		q.client.ZRem(ctx, q.processingKey(), id)
		return nil, nil
	}
	job.ProcessingDeadline = deadline
	pipe := q.client.TxPipeline()
	_ = q.saveJob(ctx, pipe, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("persist claimed deadline: %w", err)
	}
	slog.Debug("job claimed", "stage", q.stage, "job_id", job.ID, "worker_id", workerID)
	return job, nil
}

// stageDeadline is overridden by SetStageDeadline at process start; default
// mirrors spec §4.4 (30 min).
var stageDeadline = 30 * time.Minute

// SetStageDeadline overrides the default per-job processing deadline used
// by Claim, typically from config.StageDeadline at startup.
func SetStageDeadline(d time.Duration) { stageDeadline = d }

// Complete removes jobID from processing and archives it, truncating the
// completed archive to the last 100 entries.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	if q.client == nil {
		return ErrNotConnected
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), jobID)
	pipe.LPush(ctx, q.completedKey(), jobID)
	pipe.LTrim(ctx, q.completedKey(), 0, completedArchiveCap-1)
	pipe.Expire(ctx, q.jobKey(jobID), failedTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	slog.Info("job completed", "stage", q.stage, "job_id", jobID)
	return nil
}

// retryDelay computes the capped exponential backoff for a given attempt,
// per spec §4.3 (2^attempt seconds, capped).
func retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = b.NextBackOff()
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Fail schedules a retry (delayed re-enqueue with attempt+1) if
// attempt+1 <= maxAttempts; otherwise archives the job to `failed`.
func (q *Queue) Fail(ctx context.Context, job *Job, reason string, maxAttempts int) error {
	if q.client == nil {
		return ErrNotConnected
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), job.ID)

	if job.Attempt+1 <= maxAttempts {
		job.Attempt++
		delay := retryDelay(job.Attempt)
		if err := q.saveJob(ctx, pipe, job); err != nil {
			return err
		}
		readyAt := time.Now().Add(delay)
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(readyAt.Unix()), Member: job.ID})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("schedule retry: %w", err)
		}
		slog.Warn("job failed, retry scheduled", "stage", q.stage, "job_id", job.ID,
			"attempt", job.Attempt, "delay", delay, "reason", reason)
		return nil
	}

	pipe.LPush(ctx, q.failedKey(), job.ID)
	pipe.Expire(ctx, q.jobKey(job.ID), failedTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("archive failed job: %w", err)
	}
	slog.Error("job permanently failed", "stage", q.stage, "job_id", job.ID,
		"attempt", job.Attempt, "reason", reason)
	return nil
}

// Sweep scans processing for entries whose recorded deadline has
// passed olderThan, removes them from processing and re-queues them with
// attempt+1, returning the moved job IDs.
func (q *Queue) Sweep(ctx context.Context, olderThan time.Duration) ([]string, error) {
	if q.client == nil {
		return nil, ErrNotConnected
	}
	cutoff := time.Now().Add(-olderThan).Unix()
	stuck, err := q.client.ZRangeByScore(ctx, q.processingKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan processing: %w", err)
	}
	if len(stuck) == 0 {
		return nil, nil
	}

	moved := make([]string, 0, len(stuck))
	for _, id := range stuck {
		job, err := q.GetJob(ctx, id)
		if err != nil || job == nil {
			q.client.ZRem(ctx, q.processingKey(), id)
			continue
		}
		job.Attempt++
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.processingKey(), id)
		if err := q.saveJob(ctx, pipe, job); err != nil {
			continue
		}
		pipe.ZAdd(ctx, q.waitingKey(), redis.Z{Score: waitingScore(job.Priority, job.CreatedAt), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Error("sweep requeue failed", "stage", q.stage, "job_id", id, "error", err)
			continue
		}
		moved = append(moved, id)
	}
	if len(moved) > 0 {
		slog.Info("swept stuck jobs", "stage", q.stage, "count", len(moved))
	}
	return moved, nil
}

// GetJob fetches a job's payload by ID, returning nil, nil if it does not
// exist (expired, never existed, or already cleaned up).
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	if q.client == nil {
		return nil, ErrNotConnected
	}
	raw, err := q.client.Get(ctx, q.jobKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// Counts reports the sizes of waiting, processing, and delayed lists, used
// by the Idle Supervisor (C8) to decide whether the queue is quiescent.
type Counts struct {
	Waiting    int64
	Processing int64
	Delayed    int64
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	if q.client == nil {
		return Counts{}, ErrNotConnected
	}
	waiting, err := q.client.ZCard(ctx, q.waitingKey()).Result()
	if err != nil {
		return Counts{}, err
	}
	processing, err := q.client.ZCard(ctx, q.processingKey()).Result()
	if err != nil {
		return Counts{}, err
	}
	delayed, err := q.client.ZCard(ctx, q.delayedKey()).Result()
	if err != nil {
		return Counts{}, err
	}
	return Counts{Waiting: waiting, Processing: processing, Delayed: delayed}, nil
}

// JobState reports which set a job currently occupies, used by the
// job-status endpoint (spec §6) to render a live state without waiting for
// the record row to catch up. Returns "" if the job isn't present anywhere.
func (q *Queue) JobState(ctx context.Context, id string) (string, error) {
	if q.client == nil {
		return "", ErrNotConnected
	}
	if _, err := q.client.ZScore(ctx, q.processingKey(), id).Result(); err == nil {
		return "processing", nil
	} else if !errors.Is(err, redis.Nil) {
		return "", err
	}
	if _, err := q.client.ZScore(ctx, q.waitingKey(), id).Result(); err == nil {
		return "waiting", nil
	} else if !errors.Is(err, redis.Nil) {
		return "", err
	}
	if _, err := q.client.ZScore(ctx, q.delayedKey(), id).Result(); err == nil {
		return "delayed", nil
	} else if !errors.Is(err, redis.Nil) {
		return "", err
	}
	if pos, err := q.client.LPos(ctx, q.completedKey(), id, redis.LPosArgs{}).Result(); err == nil && pos >= 0 {
		return "completed", nil
	} else if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	if pos, err := q.client.LPos(ctx, q.failedKey(), id, redis.LPosArgs{}).Result(); err == nil && pos >= 0 {
		return "failed", nil
	} else if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	return "", nil
}

// Close releases the underlying Redis client.
func (q *Queue) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}
