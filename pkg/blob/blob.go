// pkg/blob/blob.go
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned when the named object does not exist
var ErrNotFound = errors.New("object not found")

// Store reads and writes whole objects by URI
type Store interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
	Write(ctx context.Context, uri string, data []byte) error
}

// Router dispatches s3:// URIs to the S3 store and everything else to the local store
type Router struct {
	Local Store
	S3    Store
}

// Open opens the object named by uri
func (r *Router) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	s, err := r.pick(uri)
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, uri)
}

// Write replaces the object named by uri
func (r *Router) Write(ctx context.Context, uri string, data []byte) error {
	s, err := r.pick(uri)
	if err != nil {
		return err
	}
	return s.Write(ctx, uri, data)
}

func (r *Router) pick(uri string) (Store, error) {
	if IsS3(uri) {
		if r.S3 == nil {
			return nil, fmt.Errorf("no S3 store configured for %s", uri)
		}
		return r.S3, nil
	}
	if r.Local == nil {
		return nil, fmt.Errorf("no local store configured for %s", uri)
	}
	return r.Local, nil
}

// ReadAll opens uri and reads it fully
func ReadAll(ctx context.Context, s Store, uri string) ([]byte, error) {
	rc, err := s.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	return data, nil
}

// IsS3 reports whether uri names an S3 object
func IsS3(uri string) bool {
	return strings.HasPrefix(uri, "s3://")
}

// ParseS3URI splits s3://bucket/key into bucket and key
func ParseS3URI(uri string) (bucket, key string, err error) {
	if !IsS3(uri) {
		return "", "", fmt.Errorf("not an s3 uri: %s", uri)
	}
	rest := strings.TrimPrefix(uri, "s3://")
	idx := strings.Index(rest, "/")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", fmt.Errorf("s3 uri must be s3://bucket/key: %s", uri)
	}
	return rest[:idx], rest[idx+1:], nil
}
