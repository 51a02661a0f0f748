package cloud

import (
	"context"
	"fmt"
	"io"
	"time"

	gstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// gcsObjectIterator abstracts the GCS object iterator.
type gcsObjectIterator interface {
	Next() (*gstorage.ObjectAttrs, error)
}

type gcsBackend struct {
	bucket      string
	newWriter   func(ctx context.Context, bucket, key string) io.WriteCloser
	newIterator func(ctx context.Context, bucket, prefix string) gcsObjectIterator
	signURL     func(bucket, key string, expiry time.Duration) (string, error)
}

func newGCSBackend(ctx context.Context, bucket string, opts Options) (*gcsBackend, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := gstorage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &gcsBackend{
		bucket: bucket,
		newWriter: func(ctx context.Context, b, key string) io.WriteCloser {
			w := client.Bucket(b).Object(key).NewWriter(ctx)
			w.ContentType = contentTypeFor(key)
			return w
		},
		newIterator: func(ctx context.Context, b, prefix string) gcsObjectIterator {
			return client.Bucket(b).Objects(ctx, &gstorage.Query{Prefix: prefix})
		},
		signURL: func(b, key string, expiry time.Duration) (string, error) {
			return client.Bucket(b).SignedURL(key, &gstorage.SignedURLOptions{
				Scheme:  gstorage.SigningSchemeV4,
				Method:  "GET",
				Expires: time.Now().Add(expiry),
			})
		},
	}, nil
}

func (b *gcsBackend) Upload(ctx context.Context, key string, r io.Reader, _ int64) error {
	w := b.newWriter(ctx, b.bucket, key)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs finalize %s: %w", key, err)
	}
	return nil
}

func (b *gcsBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	listPrefix := prefix
	if listPrefix != "" && listPrefix[len(listPrefix)-1] != '/' {
		listPrefix += "/"
	}

	var objects []ObjectInfo
	it := b.newIterator(ctx, b.bucket, listPrefix)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list: %w", err)
		}
		objects = append(objects, ObjectInfo{Key: attrs.Name, Size: attrs.Size})
	}

	return objects, nil
}

func (b *gcsBackend) ShareURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	url, err := b.signURL(b.bucket, key, expiry)
	if err != nil {
		return "", fmt.Errorf("gcs sign %s: %w", key, err)
	}
	return url, nil
}
