// Package cloud uploads snapshot files to object storage.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrObjectExists is returned by UploadFile when the target key is taken.
var ErrObjectExists = errors.New("object already exists")

// Backend abstracts cloud object storage operations.
type Backend interface {
	// Upload writes the content from r to the given key.
	Upload(ctx context.Context, key string, r io.Reader, size int64) error

	// List returns all object keys under the given prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// ShareURL generates a time-limited signed URL for downloading the given key.
	ShareURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ObjectInfo describes a remote object.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Options tunes backend construction. Zero values use the SDK defaults.
type Options struct {
	Region          string // s3 only
	CredentialsFile string // gs only, service account JSON
}

// ParseURL extracts scheme, bucket, and prefix from a cloud URL.
// Supported schemes: s3://, gs://
func ParseURL(raw string) (scheme, bucket, prefix string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", "", fmt.Errorf("empty URL")
	}

	var rest string
	switch {
	case strings.HasPrefix(raw, "s3://"):
		scheme = "s3"
		rest = strings.TrimPrefix(raw, "s3://")
	case strings.HasPrefix(raw, "gs://"):
		scheme = "gs"
		rest = strings.TrimPrefix(raw, "gs://")
	default:
		return "", "", "", fmt.Errorf("unsupported scheme in %q: expected s3:// or gs://", raw)
	}

	if rest == "" {
		return "", "", "", fmt.Errorf("empty bucket in %q", raw)
	}

	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return scheme, rest, "", nil
	}

	bucket = rest[:idx]
	if bucket == "" {
		return "", "", "", fmt.Errorf("empty bucket in %q", raw)
	}
	prefix = strings.TrimSuffix(rest[idx+1:], "/")

	return scheme, bucket, prefix, nil
}

// NewBackend creates a Backend for the given scheme and bucket.
func NewBackend(ctx context.Context, scheme, bucket string, opts Options) (Backend, error) {
	switch scheme {
	case "s3":
		return newS3Backend(ctx, bucket, opts)
	case "gs":
		return newGCSBackend(ctx, bucket, opts)
	default:
		return nil, fmt.Errorf("unsupported scheme %q: expected s3 or gs", scheme)
	}
}

// UploadFile uploads the local file at src to prefix/<basename> and returns
// the key. Unless overwrite is set, an existing object with that key is
// reported as ErrObjectExists.
func UploadFile(ctx context.Context, b Backend, prefix, src string, overwrite bool) (string, error) {
	key := path.Join(prefix, filepath.Base(src))

	if !overwrite {
		existing, err := b.List(ctx, prefix)
		if err != nil {
			return "", err
		}
		for _, obj := range existing {
			if obj.Key == key {
				return "", fmt.Errorf("%s: %w", key, ErrObjectExists)
			}
		}
	}

	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", src, err)
	}

	if err := b.Upload(ctx, key, f, info.Size()); err != nil {
		return "", err
	}
	return key, nil
}
