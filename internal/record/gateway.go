package record

import (
	"context"
	"time"
)

// Gateway is the subset of *Store that callers outside this package depend
// on. Extracting it lets handler/api/worker collaborators be exercised
// against a mock.Mock double instead of a live Postgres connection, the
// same way internal/ai's SpeechAdapter/LLMAdapter keep callers independent
// of the concrete provider.
type Gateway interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, page, pageSize int) ([]*Record, int, error)
	StartProcessing(ctx context.Context, id string) error
	SaveTranscript(ctx context.Context, id, text string, timestampsJSON *string) error
	SaveSummary(ctx context.Context, id, text string) error
	SaveArticle(ctx context.Context, id, text string) error
	RecordError(ctx context.Context, id, message string, step Step) error
	GCStaleUploads(ctx context.Context, olderThan time.Duration) (int64, error)
}

var _ Gateway = (*Store)(nil)
