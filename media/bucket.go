package media

import (
	"context"
	"fmt"
	"io"
	"log"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// BucketStorage implements the Store interface on a gocloud blob bucket, so artifacts can
// live on the local disk, in memory, in GCS or in S3 behind the same API.
type BucketStorage struct {
	bucket *blob.Bucket
}

// OpenBucketStorage opens the bucket named by a gocloud URL (file:///data, mem://,
// gs://bucket, s3://bucket?region=...).
func OpenBucketStorage(ctx context.Context, bucketURL string) (*BucketStorage, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob bucket '%s': %w", bucketURL, err)
	}
	log.Printf("media.store: Initialized BucketStorage at %s", bucketURL)
	return &BucketStorage{bucket: bucket}, nil
}

// NewBucketStorage wraps an already opened bucket.
func NewBucketStorage(bucket *blob.Bucket) *BucketStorage {
	return &BucketStorage{bucket: bucket}
}

func (bs *BucketStorage) Put(ctx context.Context, key, contentType string, data io.Reader) error {
	// canceling the writer's context before Close discards the partial object
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := bs.bucket.NewWriter(writeCtx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to open writer for '%s': %w", key, err)
	}
	if _, err := io.Copy(w, data); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("failed to write data to '%s': %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to commit '%s': %w", key, err)
	}
	return nil
}

func (bs *BucketStorage) Open(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	r, err := bs.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ObjectInfo{}, fmt.Errorf("asset '%s': %w", key, ErrAssetNotFound)
		}
		return nil, ObjectInfo{}, fmt.Errorf("failed to open asset '%s': %w", key, err)
	}
	return r, ObjectInfo{
		Size:        r.Size(),
		ContentType: r.ContentType(),
		ModTime:     r.ModTime(),
	}, nil
}

func (bs *BucketStorage) Delete(ctx context.Context, key string) error {
	err := bs.bucket.Delete(ctx, key)
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("failed to delete asset '%s': %w", key, err)
	}
	return nil
}

// Close releases the bucket.
func (bs *BucketStorage) Close() error {
	return bs.bucket.Close()
}
