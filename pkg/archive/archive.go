package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"analytics-console/pkg/console/selection"
)

// Archive keeps a copy of every exported selection.
type Archive interface {
	Store(ctx context.Context, userID string, artifact *selection.Artifact) (string, error)
	URL(ctx context.Context, key string) (string, error)
}

// Nop is used when archiving is disabled.
type Nop struct{}

func (Nop) Store(ctx context.Context, userID string, artifact *selection.Artifact) (string, error) {
	return "", nil
}

func (Nop) URL(ctx context.Context, key string) (string, error) {
	return "", nil
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// bucketAPI is the part of the minio client used to prepare the bucket.
type bucketAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// S3 stores artifacts in an S3 compatible bucket.
type S3 struct {
	client  *minio.Client
	buckets bucketAPI
	bucket  string
	region  string

	mu    sync.Mutex
	ready bool
}

func NewS3(cfg S3Config) (*S3, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3{client: client, buckets: client, bucket: bucket, region: region}, nil
}

// ensureBucket creates the bucket on first use. A failed attempt is retried
// on the next store.
func (s *S3) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	exists, err := s.buckets.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.buckets.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return err
		}
	}
	s.ready = true
	return nil
}

// Store uploads the artifact and returns its object key.
func (s *S3) Store(ctx context.Context, userID string, artifact *selection.Artifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("artifact is nil")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket: %w", err)
	}

	key := ObjectKey(userID, artifact)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(artifact.Data), int64(len(artifact.Data)), minio.PutObjectOptions{
		ContentType: artifact.ContentType,
		UserMetadata: map[string]string{
			"mode":     artifact.Mode.String(),
			"messages": fmt.Sprint(len(artifact.Ordinals)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return key, nil
}

// URL presigns a download link valid for one hour.
func (s *S3) URL(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, time.Hour, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// ObjectKey lays artifacts out per user and day.
func ObjectKey(userID string, artifact *selection.Artifact) string {
	created := artifact.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	created = created.UTC()
	owner := strings.TrimSpace(userID)
	if owner == "" {
		owner = "anonymous"
	}
	name := fmt.Sprintf("%s-%s", created.Format("150405.000"), artifact.Filename)
	return path.Join("exports", owner, created.Format("2006-01-02"), name)
}
