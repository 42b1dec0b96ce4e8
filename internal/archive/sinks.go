package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"durable-queue/internal/config"
)

// DirSink writes archive objects below a local directory.
type DirSink struct {
	baseDir string
}

// NewDirSink returns a sink rooted at baseDir.
func NewDirSink(baseDir string) *DirSink {
	return &DirSink{baseDir: baseDir}
}

func (d *DirSink) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	p := filepath.Join(d.baseDir, sanitizeKey(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return p, nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	for strings.HasPrefix(key, "../") || key == ".." {
		key = strings.TrimPrefix(strings.TrimPrefix(key, ".."), "/")
	}
	key = strings.TrimPrefix(key, string(filepath.Separator))
	return key
}

// S3Options configures the S3 sink.
type S3Options struct {
	Bucket string
	Region string
	// Endpoint overrides the AWS endpoint, e.g. for MinIO. Path-style
	// addressing is used whenever it is set.
	Endpoint string
}

// S3Sink writes archive objects to an S3 bucket.
type S3Sink struct {
	client *s3.Client
	bucket string
}

// NewS3Sink loads AWS credentials from the default chain.
func NewS3Sink(ctx context.Context, opts S3Options) (*S3Sink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3SinkFromClient(client, opts.Bucket), nil
}

// NewS3SinkFromClient wraps an existing client.
func NewS3SinkFromClient(client *s3.Client, bucket string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket}
}

func (s *S3Sink) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// FromConfig builds the archiver selected by configuration: S3 when a bucket
// is set, a local directory when ARCHIVE_DIR is set, otherwise nil.
func FromConfig(ctx context.Context, cfg config.Config) (*Archiver, error) {
	switch {
	case cfg.ArchiveS3Bucket != "":
		sink, err := NewS3Sink(ctx, S3Options{
			Bucket:   cfg.ArchiveS3Bucket,
			Region:   cfg.AWSRegion,
			Endpoint: cfg.AWSEndpoint,
		})
		if err != nil {
			return nil, err
		}
		return New(sink, cfg.ArchiveS3Prefix), nil
	case cfg.ArchiveDir != "":
		return New(NewDirSink(cfg.ArchiveDir), ""), nil
	default:
		return nil, nil
	}
}
