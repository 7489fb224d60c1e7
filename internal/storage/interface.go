package storage

import (
	"context"
	"io"
	"time"
)

// ACL is a canned access-control policy applied on upload.
type ACL string

const (
	ACLPrivate    ACL = "private"
	ACLPublicRead ACL = "public-read"
)

// ObjectMetadata is the result of a HEAD request.
type ObjectMetadata struct {
	Size        int64
	ContentType string
	Tags        map[string]string // user metadata, keys lower-cased
}

// ObjectStore defines the object storage operations used by the video pipeline.
type ObjectStore interface {
	// HeadMetadata returns size, content type and user metadata without downloading the body
	HeadMetadata(ctx context.Context, key string) (*ObjectMetadata, error)

	// GetObject downloads an object
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	// PresignGet returns a time-limited GET URL
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)

	// PutObject uploads an object
	PutObject(ctx context.Context, key string, reader io.Reader, size int64, contentType string, acl ACL) error

	// GetURL returns the URL for accessing an object
	GetURL(key string) string

	// Delete deletes an object from storage
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)
}
