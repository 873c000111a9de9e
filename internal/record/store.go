package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cobblepod/internal/herr"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
)

// Config mirrors the pool-sizing knobs used throughout this codebase's
// other storage clients.
type Config struct {
	ConnectionString string
	MaxConnections    int32
	ConnectTimeout    time.Duration
	MigrationsPath    string
}

// Store is the Postgres-backed Record Store Gateway.
type Store struct {
	pool   *pgxpool.Pool
	config *Config
}

// NewStore opens a pgx connection pool against config.ConnectionString.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil || cfg.ConnectionString == "" {
		return nil, fmt.Errorf("database connection string is required")
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "file://internal/record/migrations"
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConnections
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(timeoutCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(timeoutCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool, config: cfg}, nil
}

// MigrateToLatest applies all pending schema migrations.
func (s *Store) MigrateToLatest(ctx context.Context) error {
	sqlDB, err := sql.Open("postgres", s.config.ConnectionString)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer sqlDB.Close()

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(s.config.MigrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// HealthCheck verifies the pool can still round-trip a query.
func (s *Store) HealthCheck(ctx context.Context) error {
	var result int
	if err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("health check query: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const recordColumns = `id, file_name, file_key, bucket, file_url, status, processing_step,
	processing_progress, transcript_text, timestamps_json, summary_text, article_text,
	error, created_at, deleted_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	var step *string
	err := row.Scan(&r.ID, &r.FileName, &r.FileKey, &r.Bucket, &r.FileURL, &r.Status, &step,
		&r.ProcessingProgress, &r.TranscriptText, &r.TimestampsJSON, &r.SummaryText, &r.ArticleText,
		&r.Error, &r.CreatedAt, &r.DeletedAt)
	if err != nil {
		return nil, err
	}
	if step != nil {
		s := Step(*step)
		r.ProcessingStep = &s
	}
	return &r, nil
}

// Create inserts a new Record with status UPLOADED.
func (s *Store) Create(ctx context.Context, r *Record) error {
	if r.Status == "" {
		r.Status = StatusUploaded
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO records (id, file_name, file_key, bucket, file_url, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.FileName, r.FileKey, r.Bucket, r.FileURL, r.Status, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Get fetches one non-deleted record by id, or nil if not found.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id = $1 AND deleted_at IS NULL`, id)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return r, nil
}

// List returns non-deleted records ordered newest-first, and the total
// non-deleted count.
func (s *Store) List(ctx context.Context, page, pageSize int) ([]*Record, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM records
		WHERE deleted_at IS NULL ORDER BY created_at DESC LIMIT $1 OFFSET $2`, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM records WHERE deleted_at IS NULL`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}
	return out, total, nil
}

// transition runs an UPDATE gated by a WHERE predicate on prior status,
// returning herr.Stale if no row matched (spec §4.2's atomic-transition
// requirement).
func (s *Store) transition(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return herr.New(herr.KindStaleState, "record transition precondition not met")
	}
	return nil
}

// StartProcessing succeeds only from UPLOADED or ERROR.
func (s *Store) StartProcessing(ctx context.Context, id string) error {
	return s.transition(ctx, `
		UPDATE records SET status = $1, processing_step = NULL, processing_progress = 0, error = NULL
		WHERE id = $2 AND deleted_at IS NULL AND status IN ($3, $4)`,
		StatusProcessing, id, StatusUploaded, StatusError)
}

// SetStep bumps the active step and progress without changing status.
func (s *Store) SetStep(ctx context.Context, id string, step Step, progress int) error {
	return s.transition(ctx, `
		UPDATE records SET processing_step = $1, processing_progress = $2
		WHERE id = $3 AND deleted_at IS NULL`,
		string(step), progress, id)
}

// SaveTranscript persists the transcript and optional timestamps, moving
// the record to TRANSCRIBED.
func (s *Store) SaveTranscript(ctx context.Context, id, text string, timestampsJSON *string) error {
	return s.transition(ctx, `
		UPDATE records SET transcript_text = $1, timestamps_json = $2, status = $3, processing_step = NULL
		WHERE id = $4 AND deleted_at IS NULL`,
		text, timestampsJSON, StatusTranscribed, id)
}

// SaveSummary persists the summary, moving the record to SUMMARIZED.
func (s *Store) SaveSummary(ctx context.Context, id, text string) error {
	return s.transition(ctx, `
		UPDATE records SET summary_text = $1, status = $2, processing_step = NULL
		WHERE id = $3 AND deleted_at IS NULL`,
		text, StatusSummarized, id)
}

// SaveArticle persists the article, moving the record to DONE at 100%.
func (s *Store) SaveArticle(ctx context.Context, id, text string) error {
	return s.transition(ctx, `
		UPDATE records SET article_text = $1, status = $2, processing_step = NULL, processing_progress = 100
		WHERE id = $3 AND deleted_at IS NULL`,
		text, StatusDone, id)
}

// RecordError marks the record ERROR with a message and the step it failed
// at, preserving whatever progress value was last recorded.
func (s *Store) RecordError(ctx context.Context, id, message string, step Step) error {
	return s.transition(ctx, `
		UPDATE records SET status = $1, error = $2, processing_step = $3
		WHERE id = $4 AND deleted_at IS NULL`,
		StatusError, message, string(step), id)
}

// GCStaleUploads hard-deletes unfinished (UPLOADED/PROCESSING) records
// older than olderThan, returning the number removed.
func (s *Store) GCStaleUploads(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM records WHERE status IN ($1, $2) AND created_at < $3`,
		StatusUploaded, StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("gc stale uploads: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SoftDelete marks a record invisible to listing and processing without
// removing its row.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	return s.transition(ctx, `UPDATE records SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		time.Now(), id)
}
