package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"grabctx-mcp-server/internal/config"
)

// ObjectStore uploads each session to an S3-compatible bucket under
// <prefix>/<date>/<time>-<n>.txt. The bucket is created on first use.
type ObjectStore struct {
	client *minio.Client
	bucket string
	region string
	prefix string
	now    func() time.Time

	initOnce sync.Once
	initErr  error

	mu  sync.Mutex
	seq int
}

func NewObjectStore(cfg config.ObjectStoreConfig) (*ObjectStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("object store access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init object store client: %w", err)
	}
	return &ObjectStore{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
		now:    time.Now,
	}, nil
}

func (s *ObjectStore) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func (s *ObjectStore) Deliver(ctx context.Context, text string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	key := s.nextKey()
	_, err := s.client.PutObject(ctx, s.bucket, key, strings.NewReader(text), int64(len(text)), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *ObjectStore) nextKey() string {
	s.mu.Lock()
	s.seq++
	n := s.seq
	s.mu.Unlock()
	return objectKey(s.prefix, s.now().UTC(), n)
}

func objectKey(prefix string, t time.Time, n int) string {
	name := fmt.Sprintf("%s/%s-%04d.txt", t.Format("2006-01-02"), t.Format("150405.000"), n)
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
