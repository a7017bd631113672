package storage

import (
	"context"
	"time"
)

// ObjectStorage is the read side of problem test data storage.
type ObjectStorage interface {
	// PresignGetObject returns a URL that allows an anonymous GET of the object until ttl elapses.
	PresignGetObject(ctx context.Context, bucket, objectKey string, ttl time.Duration) (string, error)

	// StatObject returns size and ETag for an object.
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)

	// ListObjects lists every object under prefix.
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}

// ObjectStat contains object metadata used for validation.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}

// ObjectInfo is one listing entry.
type ObjectInfo struct {
	Key       string
	SizeBytes int64
}
