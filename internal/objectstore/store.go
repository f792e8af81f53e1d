// Package objectstore adapts the object storage services the pipeline
// downloads from and uploads to.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"
)

// Store is the subset of an object store the pipeline needs.
type Store interface {
	// Put uploads the file at localPath as bucket/key.
	Put(ctx context.Context, bucket, key, localPath string) error
	// Get opens bucket/key for reading and reports its content length.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
	// PresignedURL returns a GET URL for bucket/key valid for expiry.
	PresignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// Permanent failures. Any other error from a Store is assumed transient.
var (
	ErrNotFound     = errors.New("object not found")
	ErrAccessDenied = errors.New("access denied")
)

func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrAccessDenied)
}

type S3UriParseError struct {
	S3Uri string
}

func (e *S3UriParseError) Error() string {
	return fmt.Sprintf("invalid s3 uri: '%s'", e.S3Uri)
}

func ParseS3Uri(s3uri string) (bucket string, key string, err error) {
	u, err := url.Parse(s3uri)
	if err != nil || u.Scheme != "s3" || u.Host == "" || len(u.Path) <= 1 {
		return "", "", &S3UriParseError{s3uri}
	}

	return u.Host, u.Path[1:], nil
}
