package minioctrl

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const DocumentsBucket = "docchat-documents"

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// DocumentArchive keeps uploaded documents in an S3 compatible bucket.
type DocumentArchive struct {
	client *minio.Client
	bucket string
}

func NewDocumentArchive(ctx context.Context, cfg Config) (*DocumentArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %v", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = DocumentsBucket
	}
	a := &DocumentArchive{client: client, bucket: bucket}
	if err := a.ensureBucketExists(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *DocumentArchive) ensureBucketExists(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %v", err)
	}

	if !exists {
		err = a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %v", err)
		}
	}
	return nil
}

func (a *DocumentArchive) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %v", err)
	}
	return nil
}

// DeletePrefix removes every object whose key starts with prefix.
func (a *DocumentArchive) DeletePrefix(ctx context.Context, prefix string) error {
	objectsCh := make(chan minio.ObjectInfo)
	listErr := make(chan error, 1)

	go func() {
		defer close(objectsCh)
		for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			if obj.Err != nil {
				listErr <- obj.Err
				return
			}
			objectsCh <- obj
		}
	}()

	// drain every result so the listing goroutine can finish
	var removeErr error
	for err := range a.client.RemoveObjects(ctx, a.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if err.Err != nil && removeErr == nil {
			removeErr = fmt.Errorf("failed to delete object %s: %v", err.ObjectName, err.Err)
		}
	}
	if removeErr != nil {
		return removeErr
	}

	select {
	case err := <-listErr:
		return fmt.Errorf("failed to list objects under %s: %v", prefix, err)
	default:
		return nil
	}
}
