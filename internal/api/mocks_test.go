package api

import (
	"context"
	"time"

	"cobblepod/internal/blob"
	"cobblepod/internal/record"

	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of record.Gateway.
type MockStore struct {
	mock.Mock
}

var _ record.Gateway = (*MockStore)(nil)

func (m *MockStore) Create(ctx context.Context, r *record.Record) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockStore) Get(ctx context.Context, id string) (*record.Record, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*record.Record)
	return rec, args.Error(1)
}

func (m *MockStore) List(ctx context.Context, page, pageSize int) ([]*record.Record, int, error) {
	args := m.Called(ctx, page, pageSize)
	recs, _ := args.Get(0).([]*record.Record)
	return recs, args.Int(1), args.Error(2)
}

func (m *MockStore) StartProcessing(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) SaveTranscript(ctx context.Context, id, text string, timestampsJSON *string) error {
	args := m.Called(ctx, id, text, timestampsJSON)
	return args.Error(0)
}

func (m *MockStore) SaveSummary(ctx context.Context, id, text string) error {
	args := m.Called(ctx, id, text)
	return args.Error(0)
}

func (m *MockStore) SaveArticle(ctx context.Context, id, text string) error {
	args := m.Called(ctx, id, text)
	return args.Error(0)
}

func (m *MockStore) RecordError(ctx context.Context, id, message string, step record.Step) error {
	args := m.Called(ctx, id, message, step)
	return args.Error(0)
}

func (m *MockStore) GCStaleUploads(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

// MockBlob is a mock implementation of blob.Storage.
type MockBlob struct {
	mock.Mock
}

var _ blob.Storage = (*MockBlob)(nil)

func (m *MockBlob) MintUpload(ctx context.Context, fileName, contentType string, size *int64) (*blob.UploadTicket, error) {
	args := m.Called(ctx, fileName, contentType, size)
	ticket, _ := args.Get(0).(*blob.UploadTicket)
	return ticket, args.Error(1)
}

func (m *MockBlob) GetDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}

func (m *MockBlob) FetchToFile(ctx context.Context, key, path string) error {
	args := m.Called(ctx, key, path)
	return args.Error(0)
}
