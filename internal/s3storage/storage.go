package s3storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/bucketimport/internal/config"
	"github.com/dharsanguruparan/bucketimport/internal/dispatch"
)

var _ dispatch.Storage = (*Storage)(nil)

// objectAPI is the subset of an S3 client the gateway uses. Each backend
// adapts its SDK to it.
type objectAPI interface {
	get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	copy(ctx context.Context, bucket, srcKey, dstKey string) error
	remove(ctx context.Context, bucket, key string) error
}

// Storage reads and renames objects in S3-compatible buckets, including
// Cloud Storage through its XML interoperability endpoint.
type Storage struct {
	api     objectAPI
	backend string
}

// Open builds the gateway selected by cfg.StorageBackend.
func Open(ctx context.Context, cfg *config.Config) (*Storage, error) {
	switch cfg.StorageBackend {
	case config.BackendS3:
		return NewAWS(ctx, cfg)
	default:
		return New(cfg)
	}
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	lookup := minio.BucketLookupAuto
	if cfg.S3ForcePathStyle {
		lookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure:       cfg.S3UseSSL,
		Region:       cfg.S3Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{api: minioObjects{client: client}, backend: config.BackendMinio}, nil
}

// Backend names the client in use, for logging.
func (s *Storage) Backend() string {
	return s.backend
}

// FetchBytes downloads the whole object.
func (s *Storage) FetchBytes(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	body, err := s.api.get(ctx, bucket, objectPath)
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, objectPath, err)
	}
	defer body.Close()
	buf, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, objectPath, err)
	}
	return buf, nil
}

// Rename moves an object within its bucket. S3 has no rename, so the object
// is copied server side and the source removed once the copy exists.
func (s *Storage) Rename(ctx context.Context, bucket, objectPath, newPath string) error {
	if err := s.api.copy(ctx, bucket, objectPath, newPath); err != nil {
		return fmt.Errorf("copy object %s/%s to %s: %w", bucket, objectPath, newPath, err)
	}
	if err := s.api.remove(ctx, bucket, objectPath); err != nil {
		return fmt.Errorf("remove object %s/%s: %w", bucket, objectPath, err)
	}
	return nil
}

type minioObjects struct {
	client *minio.Client
}

func (m minioObjects) get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
}

func (m minioObjects) copy(ctx context.Context, bucket, srcKey, dstKey string) error {
	_, err := m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: bucket, Object: srcKey},
	)
	return err
}

func (m minioObjects) remove(ctx context.Context, bucket, key string) error {
	return m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}
