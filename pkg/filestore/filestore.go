// Package filestore validates and stores message attachments in S3-compatible
// object storage.
package filestore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"labsync/internal/util"
	"labsync/pkg/domain"
)

const presignExpiry = 24 * time.Hour

// ObjectStore is the storage backend for uploaded attachments.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// Recorder tracks upload rows; satisfied by pkg/store.
type Recorder interface {
	RecordFileUpload(domain.FileUpload) error
}

// FileStore validates uploads, writes them to object storage and records a
// tracking row.
type FileStore struct {
	objects ObjectStore
	bucket  string
	records Recorder
	log     *slog.Logger
}

func New(objects ObjectStore, bucket string, records Recorder, log *slog.Logger) *FileStore {
	if log == nil {
		log = slog.Default()
	}
	return &FileStore{objects: objects, bucket: bucket, records: records, log: log}
}

// Upload validates and stores one attachment under
// chat/{conversationId}/{userId}/{unique}{ext} and returns the tracked record
// with a presigned URL.
func (f *FileStore) Upload(ctx context.Context, conversationID, userID, fileName, mimeType string, size int64, r io.Reader) (domain.FileUpload, error) {
	if err := Validate(fileName, mimeType, size); err != nil {
		return domain.FileUpload{}, err
	}

	key := path.Join("chat", conversationID, userID, util.NewID()+strings.ToLower(path.Ext(fileName)))
	if err := f.objects.Put(ctx, key, r, size, mimeType); err != nil {
		return domain.FileUpload{}, fmt.Errorf("store object: %w", err)
	}
	url, err := f.objects.PresignGet(ctx, key, presignExpiry)
	if err != nil {
		// Orphaned objects are cheaper than broken uploads; remove eagerly.
		if delErr := f.objects.Delete(ctx, key); delErr != nil {
			f.log.Warn("orphan cleanup failed", "key", key, "error", delErr)
		}
		return domain.FileUpload{}, fmt.Errorf("presign object: %w", err)
	}

	upload := domain.FileUpload{
		ID:        util.NewID(),
		UserID:    userID,
		FileName:  fileName,
		FileURL:   url,
		FileSize:  size,
		MimeType:  mimeType,
		Bucket:    f.bucket,
		Path:      key,
		CreatedAt: time.Now().UTC(),
	}
	if err := f.records.RecordFileUpload(upload); err != nil {
		return domain.FileUpload{}, fmt.Errorf("record upload: %w", err)
	}
	f.log.Info("file uploaded", "upload_id", upload.ID, "user_id", userID, "size", size, "mime", mimeType)
	return upload, nil
}

// MinioStore implements ObjectStore for MinIO/S3 compatible storage.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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
	return &MinioStore{client: client, bucket: bucket}, nil
}

func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (m *MinioStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return url.String(), nil
}

func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
