// Package archive keeps raw provider exchanges in S3-compatible object
// storage so production pushes can be audited later.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"loan_broker_backend/internal/quotes/service"
	"loan_broker_backend/platform/config"
)

const contentTypeXML = "text/xml; charset=utf-8"

// ObjectStore is the subset of object storage the archiver needs.
type ObjectStore interface {
	EnsureBucketExists(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key, contentType string, reader io.Reader, size int64) error
}

// MinIOStore implements ObjectStore using MinIO.
type MinIOStore struct {
	client *minio.Client
}

// NewMinIOStore creates a MinIO backed object store.
func NewMinIOStore(cfg config.ArchiveConfig) (*MinIOStore, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("MinIO is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &MinIOStore{client: client}, nil
}

// EnsureBucketExists creates the bucket if it doesn't exist.
func (s *MinIOStore) EnsureBucketExists(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// PutObject uploads a single object.
func (s *MinIOStore) PutObject(ctx context.Context, bucket, key, contentType string, reader io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, bucket, key, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Archiver stores exchanges as a request/response object pair.
type Archiver struct {
	store  ObjectStore
	bucket string
}

// New creates an archiver writing into bucket.
func New(store ObjectStore, bucket string) *Archiver {
	return &Archiver{store: store, bucket: bucket}
}

// EnsureBucket creates the archive bucket if needed.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	return a.store.EnsureBucketExists(ctx, a.bucket)
}

// ArchiveExchange implements service.ExchangeArchiver.
func (a *Archiver) ArchiveExchange(ctx context.Context, ex service.Exchange) error {
	prefix := ObjectPrefix(ex)
	if err := a.put(ctx, prefix+"-request.xml", ex.Request); err != nil {
		return err
	}
	return a.put(ctx, prefix+"-response.xml", ex.Response)
}

func (a *Archiver) put(ctx context.Context, key string, body []byte) error {
	return a.store.PutObject(ctx, a.bucket, key, contentTypeXML, bytes.NewReader(body), int64(len(body)))
}

// ObjectPrefix is broker/quote/timestamp-purpose, so a quote's exchanges list in order.
func ObjectPrefix(ex service.Exchange) string {
	stamp := ex.OccurredAt.UTC().Format("20060102T150405.000Z")
	return path.Join(ex.BrokerID.String(), ex.QuoteID.String(), stamp+"-"+ex.Purpose)
}

var _ service.ExchangeArchiver = (*Archiver)(nil)
