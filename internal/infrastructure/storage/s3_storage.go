// Package storage archives webhook payloads to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/marketsync/backend/internal/domain/integration"
	infraconfig "github.com/marketsync/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Ensure S3PayloadArchive implements PayloadArchive
var _ integration.PayloadArchive = (*S3PayloadArchive)(nil)

// archivedHeaders are copied into the archived document; everything else is dropped
// so signatures and shared secrets never land in the bucket.
var archivedHeaders = []string{
	"Content-Type",
	"User-Agent",
	"X-Shopify-Topic",
	"X-Shopify-Shop-Domain",
	"X-Shopify-Webhook-Id",
	"X-WC-Webhook-Topic",
	"X-WC-Webhook-Source",
	"X-WC-Webhook-Delivery-ID",
	"Square-Environment",
}

// archiveDocument is the JSON object written for each payload
type archiveDocument struct {
	Marketplace string              `json:"marketplace"`
	Reason      string              `json:"reason"`
	Topic       string              `json:"topic,omitempty"`
	EventID     string              `json:"event_id,omitempty"`
	Headers     map[string][]string `json:"headers,omitempty"`
	ReceivedAt  time.Time           `json:"received_at"`
	Body        json.RawMessage     `json:"body,omitempty"`
	RawBody     string              `json:"raw_body,omitempty"`
}

// S3PayloadArchive writes payloads to any S3-compatible store (AWS S3, MinIO, RustFS, ...)
type S3PayloadArchive struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
	newID  func() string
}

// S3PayloadArchiveOption is a functional option for configuring S3PayloadArchive
type S3PayloadArchiveOption func(*S3PayloadArchive)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) S3PayloadArchiveOption {
	return func(s *S3PayloadArchive) {
		s.logger = logger
	}
}

// NewS3PayloadArchive creates an archive from configuration
func NewS3PayloadArchive(cfg *infraconfig.StorageConfig, opts ...S3PayloadArchiveOption) (*S3PayloadArchive, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.AccessKey == "" {
		return nil, errors.New("storage access key is required")
	}
	if cfg.SecretKey == "" {
		return nil, errors.New("storage secret key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:9000"
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if cfg.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid storage endpoint: %w", err)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		o.BaseEndpoint = aws.String(endpoint)
	})

	archive := &S3PayloadArchive{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: zap.NewNop(),
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(archive)
	}

	return archive, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
// Call this during startup so the first archive write does not fail.
func (s *S3PayloadArchive) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	s.logger.Info("Creating archive bucket", zap.String("bucket", s.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Archive writes the payload under webhooks/<marketplace>/<date>/<uuid>.json
func (s *S3PayloadArchive) Archive(ctx context.Context, p integration.ArchivedPayload) (string, error) {
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = time.Now()
	}

	key := s.objectKey(p.Marketplace, p.ReceivedAt)
	doc, err := json.Marshal(newArchiveDocument(p))
	if err != nil {
		return "", fmt.Errorf("failed to encode archived payload: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(doc),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload archived payload: %w", err)
	}

	return key, nil
}

// GetBucket returns the configured bucket name
func (s *S3PayloadArchive) GetBucket() string {
	return s.bucket
}

func (s *S3PayloadArchive) objectKey(m integration.Marketplace, at time.Time) string {
	key := path.Join("webhooks", strings.ToLower(m.String()), at.UTC().Format("2006-01-02"), s.newID()+".json")
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	return key
}

func newArchiveDocument(p integration.ArchivedPayload) archiveDocument {
	doc := archiveDocument{
		Marketplace: p.Marketplace.String(),
		Reason:      p.Reason.String(),
		Topic:       p.Topic,
		EventID:     p.EventID,
		Headers:     filterHeaders(p.Headers),
		ReceivedAt:  p.ReceivedAt.UTC(),
	}
	if json.Valid(p.Body) {
		doc.Body = json.RawMessage(p.Body)
	} else {
		doc.RawBody = string(p.Body)
	}
	return doc
}

func filterHeaders(h http.Header) map[string][]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string][]string)
	for _, name := range archivedHeaders {
		if v := h.Values(name); len(v) > 0 {
			out[http.CanonicalHeaderKey(name)] = v
		}
	}
	return out
}
