package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioArchiver copies uploaded files to a MinIO/S3 bucket.
type MinioArchiver struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// NewMinioArchiver connects to endpoint and ensures bucket exists.
func NewMinioArchiver(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioArchiver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioArchiver{client: client, bucket: bucket, now: time.Now}, nil
}

// Archive uploads the file at localPath and returns its s3:// URI.
func (a *MinioArchiver) Archive(ctx context.Context, localPath, contentType string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat upload: %w", err)
	}

	key := objectKey(a.now(), localPath)
	if _, err := a.client.PutObject(ctx, a.bucket, key, f, st.Size(), minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return objectURI(a.bucket, key), nil
}

// objectKey groups archived uploads by UTC day.
func objectKey(now time.Time, localPath string) string {
	return path.Join("uploads", now.UTC().Format("2006/01/02"), safeFilename(localPath))
}

func objectURI(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}
