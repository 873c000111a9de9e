// Package blob implements the Blob Broker (C1): minting presigned
// single-PUT or multipart upload tickets against an S3-compatible bucket
// (R2), and fetching objects back for worker-side processing.
package blob

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"cobblepod/internal/herr"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	// TSingle is the size threshold at or below which a single PUT is minted
	// instead of a multipart upload (spec §4.1).
	TSingle = 50 * 1024 * 1024

	minPartSize   = 5 * 1024 * 1024
	maxPartCount  = 10000
	singlePutTTL  = time.Hour
	multipartTTL  = 24 * time.Hour
	downloadTTL   = time.Hour
)

// Config holds R2/S3 connection settings (spec §6 storage env vars).
type Config struct {
	Region      string
	Bucket      string
	AccessKey   string
	SecretKey   string
	EndpointURL string
	PublicURL   string
}

// Broker mints upload tickets and fetches object bytes.
type Broker struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	publicURL string
}

// New constructs a Broker from cfg, verifying bucket access.
func New(ctx context.Context, cfg Config) (*Broker, error) {
	var awsCfg aws.Config
	var err error
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
			config.WithRegion(cfg.Region),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, herr.Wrap(herr.KindFatal, "load aws config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, herr.Wrap(herr.KindTransientDownstream, fmt.Sprintf("access bucket %s", cfg.Bucket), err)
	}

	slog.Info("blob broker initialized", "bucket", cfg.Bucket, "endpoint", cfg.EndpointURL)
	return &Broker{
		client:    client,
		presign:   s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		publicURL: cfg.PublicURL,
	}, nil
}

// UploadTicket is the result of MintUpload (spec §4.1).
type UploadTicket struct {
	Kind        string // "single" or "multipart"
	Key         string
	PublicURL   string
	PutURL      string   // single only
	UploadID    string   // multipart only
	PartURLs    []string // multipart only, 1-indexed by position
	CompleteURL string   // multipart only
	AbortURL    string   // multipart only
	PartSize    int64    // multipart only
}

func newKey(fileName string) string {
	ext := path.Ext(fileName)
	ext = sanitizeExt(ext)
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("uploads/%d_%s%s", time.Now().UnixMilli(), hex.EncodeToString(buf), ext)
}

// sanitizeExt percent-escapes anything outside the usual extension
// alphabet so the generated key is always a safe object-store key.
func sanitizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	return "." + url.PathEscape(strings.TrimPrefix(ext, "."))
}

// partSizeFor implements spec §4.1's sizing rule: part_size = max(5 MiB,
// ceil(size/10000)) rounded up to a 5 MiB multiple.
func partSizeFor(size int64) int64 {
	raw := int64(math.Ceil(float64(size) / 10000))
	if raw < minPartSize {
		raw = minPartSize
	}
	rounded := int64(math.Ceil(float64(raw)/minPartSize)) * minPartSize
	return rounded
}

// MintUpload issues a single-PUT or multipart upload ticket depending on
// size, per spec §4.1.
func (b *Broker) MintUpload(ctx context.Context, fileName, contentType string, size *int64) (*UploadTicket, error) {
	key := newKey(fileName)
	publicURL := b.publicURLFor(key)

	if size == nil || *size <= TSingle {
		req, err := b.presign.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(b.bucket),
			Key:         aws.String(key),
			ContentType: aws.String(contentType),
		}, s3.WithPresignExpires(singlePutTTL))
		if err != nil {
			return nil, herr.Wrap(herr.KindTransientDownstream, "presign put object", err)
		}
		return &UploadTicket{Kind: "single", Key: key, PublicURL: publicURL, PutURL: req.URL}, nil
	}

	partSize := partSizeFor(*size)
	n := int64(math.Ceil(float64(*size) / float64(partSize)))
	if n > maxPartCount {
		return nil, herr.New(herr.KindPoisonInput, fmt.Sprintf("upload requires %d parts, exceeds max %d", n, maxPartCount))
	}

	created, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, herr.Wrap(herr.KindTransientDownstream, "create multipart upload", err)
	}
	uploadID := aws.ToString(created.UploadId)

	partURLs := make([]string, 0, n)
	for i := int64(1); i <= n; i++ {
		req, err := b.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(b.bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(int32(i)),
		}, s3.WithPresignExpires(multipartTTL))
		if err != nil {
			return nil, herr.Wrap(herr.KindTransientDownstream, fmt.Sprintf("presign part %d", i), err)
		}
		partURLs = append(partURLs, req.URL)
	}

	completeReq, err := b.presign.PresignCompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	}, s3.WithPresignExpires(multipartTTL))
	if err != nil {
		return nil, herr.Wrap(herr.KindTransientDownstream, "presign complete", err)
	}
	abortReq, err := b.presign.PresignAbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	}, s3.WithPresignExpires(multipartTTL))
	if err != nil {
		return nil, herr.Wrap(herr.KindTransientDownstream, "presign abort", err)
	}

	return &UploadTicket{
		Kind:        "multipart",
		Key:         key,
		PublicURL:   publicURL,
		UploadID:    uploadID,
		PartURLs:    partURLs,
		CompleteURL: completeReq.URL,
		AbortURL:    abortReq.URL,
		PartSize:    partSize,
	}, nil
}

func (b *Broker) publicURLFor(key string) string {
	if b.publicURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s", strings.TrimRight(b.publicURL, "/"), key)
}

// GetDownloadURL presigns a time-limited GET for key, falling back to the
// public URL (if configured) when presigning fails.
func (b *Broker) GetDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = downloadTTL
	}
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		if pub := b.publicURLFor(key); pub != "" {
			return pub, nil
		}
		return "", herr.Wrap(herr.KindTransientDownstream, "presign get object", err)
	}
	return req.URL, nil
}

// Fetch returns the full object body. Prefer FetchToFile for large media.
func (b *Broker) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	if err != nil {
		return b.fetchPublicFallback(ctx, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, herr.Wrap(herr.KindTransientDownstream, "read object body", err)
	}
	return data, nil
}

func (b *Broker) fetchPublicFallback(ctx context.Context, key string, cause error) ([]byte, error) {
	var notFound *types.NoSuchKey
	if errors.As(cause, &notFound) {
		return nil, herr.Wrap(herr.KindPoisonInput, "object not found", cause)
	}
	pub := b.publicURLFor(key)
	if pub == "" {
		return nil, herr.Wrap(herr.KindTransientDownstream, "get object", cause)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pub, nil)
	if err != nil {
		return nil, herr.Wrap(herr.KindTransientDownstream, "get object", cause)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, herr.Wrap(herr.KindTransientDownstream, "public url fallback fetch", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, herr.New(herr.KindTransientDownstream, fmt.Sprintf("public url fallback returned %d", resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}

// FetchToFile streams the object directly to path without buffering the
// whole object in memory, falling back to the public URL on failure.
func (b *Broker) FetchToFile(ctx context.Context, key, path string) error {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.bucket), Key: aws.String(key)})
	if err != nil {
		return b.fetchToFilePublicFallback(ctx, key, path, err)
	}
	defer out.Body.Close()

	f, err := os.Create(path)
	if err != nil {
		return herr.Wrap(herr.KindTransientDownstream, "create destination file", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return herr.Wrap(herr.KindTransientDownstream, "stream object to file", err)
	}
	return nil
}

func (b *Broker) fetchToFilePublicFallback(ctx context.Context, key, path string, cause error) error {
	var notFound *types.NoSuchKey
	if errors.As(cause, &notFound) {
		return herr.Wrap(herr.KindPoisonInput, "object not found", cause)
	}
	pub := b.publicURLFor(key)
	if pub == "" {
		return herr.Wrap(herr.KindTransientDownstream, "get object", cause)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pub, nil)
	if err != nil {
		return herr.Wrap(herr.KindTransientDownstream, "get object", cause)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return herr.Wrap(herr.KindTransientDownstream, "public url fallback fetch", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return herr.New(herr.KindTransientDownstream, fmt.Sprintf("public url fallback returned %d", resp.StatusCode))
	}
	f, err := os.Create(path)
	if err != nil {
		return herr.Wrap(herr.KindTransientDownstream, "create destination file", err)
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}
