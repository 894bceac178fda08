package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxBuffered bounds memory if S3 is down for a long stretch; beyond it the
// oldest events are dropped.
const maxBuffered = 10000

// S3ArchiverConfig holds S3 configuration.
type S3ArchiverConfig struct {
	Bucket          string
	Prefix          string // e.g. "audit/leases/"
	Region          string
	Endpoint        string // for MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
}

// S3Archiver buffers audit events in memory and ships them to
// S3-compatible storage as JSONL objects, one object per flush.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger

	mu      sync.Mutex
	pending []Event
}

// NewS3Archiver creates an S3-backed audit archiver.
func NewS3Archiver(cfg S3ArchiverConfig, logger *zap.Logger) (*S3Archiver, error) {
	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

// Record buffers one event. Never blocks on the network.
func (a *S3Archiver) Record(e Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pending) >= maxBuffered {
		a.pending = a.pending[1:]
	}
	a.pending = append(a.pending, e)
}

// Flush ships the buffered events as one JSONL object. Events are put back
// in front of the buffer if the upload fails.
func (a *S3Archiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to encode audit event: %w", err)
		}
	}

	key := fmt.Sprintf("%s%s/%s.jsonl",
		a.prefix, time.Now().UTC().Format("2006/01/02"), uuid.NewString())

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		a.mu.Lock()
		a.pending = append(batch, a.pending...)
		a.mu.Unlock()
		return fmt.Errorf("failed to upload audit batch: %w", err)
	}

	a.logger.Debug("audit batch archived",
		zap.String("key", key), zap.Int("events", len(batch)))
	return nil
}

// Close flushes whatever is left, bounded by a short deadline.
func (a *S3Archiver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.Flush(ctx)
}
