// Package backup writes point-in-time snapshots of the shifts collection to
// the project's object-storage bucket.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"guardiaswap/api/internal/store"
)

// Service uploads collection snapshots. The bucket is the storageBucket
// named by the resolved backend record.
type Service struct {
	client *minio.Client
	bucket string
}

func NewService(endpoint, accessKey, secretKey string, useSSL bool, bucket string) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &Service{client: client, bucket: bucket}, nil
}

// Snapshot serializes the full collection and uploads it. Returns the
// object name of the uploaded snapshot.
func (s *Service) Snapshot(ctx context.Context, shifts []store.Shift) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	data, err := MarshalSnapshot(shifts, now)
	if err != nil {
		return "", err
	}

	objectName := ObjectName(now)
	_, err = s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}
	return objectName, nil
}

func (s *Service) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// ObjectName names a snapshot after its capture time.
func ObjectName(at time.Time) string {
	return "snapshots/shifts-" + at.UTC().Format("20060102T150405Z") + ".json"
}

// MarshalSnapshot builds the snapshot document.
func MarshalSnapshot(shifts []store.Shift, at time.Time) ([]byte, error) {
	if shifts == nil {
		shifts = []store.Shift{}
	}
	data, err := json.MarshalIndent(map[string]any{
		"exportedAt": at.UTC().Format(time.RFC3339),
		"count":      len(shifts),
		"shifts":     shifts,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}
