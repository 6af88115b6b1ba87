package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const (
	// FolderRecordings is the key prefix for recording objects.
	FolderRecordings = "recordings"
	// SignedURLTTLInternal is used when the processing pipeline re-fetches audio.
	SignedURLTTLInternal = 300 * time.Second
	// SignedURLTTLUser is used for playback URLs returned to clients.
	SignedURLTTLUser = 3600 * time.Second
)

// ErrStorage marks failures reported by the object store.
var ErrStorage = errors.New("object storage error")

// S3Config holds S3-compatible client configuration.
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// S3 provides blob upload, deletion and pre-signed download URLs for one bucket.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	presign  *s3.PresignClient
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates a client for an S3-compatible endpoint with static credentials.
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("missing required configuration: access key, secret key and bucket are required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024 // 5MB parts
	})
	logger.Info("object storage client ready", zap.String("endpoint", cfg.Endpoint), zap.String("bucket", cfg.Bucket))
	return &S3{
		client:   client,
		uploader: uploader,
		presign:  s3.NewPresignClient(client),
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// RecordingKey returns the object key: recordings/{user_id}/{recording_id}{ext}.
func RecordingKey(userID, recordingID, ext string) string {
	return path.Join(FolderRecordings, userID, recordingID+ext)
}

// ExtensionFor picks the stored file extension from the MIME type or filename.
func ExtensionFor(contentType, filename string) string {
	mime := strings.ToLower(contentType)
	name := strings.ToLower(filename)
	switch {
	case strings.Contains(mime, "webm") || strings.HasSuffix(name, ".webm"):
		return ".webm"
	case strings.Contains(mime, "mp4") || strings.HasSuffix(name, ".mp4"):
		return ".mp4"
	default:
		return ".dat"
	}
}

// ContentTypeForKey infers an audio MIME type from the key extension; empty when unknown.
func ContentTypeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".mp4"):
		return "audio/mp4"
	case strings.HasSuffix(key, ".webm"):
		return "audio/webm"
	default:
		return ""
	}
}

// Upload stores body at key, creating or overwriting the object.
func (s *S3) Upload(ctx context.Context, key, contentType string, body []byte) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("%w: upload %s: %v", ErrStorage, key, err)
	}
	return nil
}

// Delete removes an object.
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStorage, key, err)
	}
	return nil
}

// SignedURL returns a pre-signed GET URL valid for ttl.
func (s *S3) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = SignedURLTTLUser
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("%w: presign get %s: %v", ErrStorage, key, err)
	}
	return req.URL, nil
}
