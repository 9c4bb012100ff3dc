package media

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Store defines the interface for saving, retrieving, and deleting media assets
type Store interface {
	// Put stores data under key, replacing any existing object
	Put(ctx context.Context, key, contentType string, data io.Reader) error
	// Open retrieves a reader for an asset; ErrAssetNotFound when absent
	Open(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// Delete removes an asset. deleting a missing asset is not an error
	Delete(ctx context.Context, key string) error
}

// LocalStorage implements the Store interface using the local filesystem
type LocalStorage struct {
	basePath string // absolute path to the MEDIA_STORAGE_PATH
}

// NewLocalStorage creates a new local filesystem store
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base storage path '%s': %w", basePath, err)
	}

	if err := os.MkdirAll(absBasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory '%s': %w", absBasePath, err)
	}

	log.Printf("media.store: Initialized LocalStorage at %s", absBasePath)
	return &LocalStorage{basePath: absBasePath}, nil
}

// Put writes data to a temporary file next to the target and renames it into place, so a
// reader never observes a partially written asset.
func (ls *LocalStorage) Put(ctx context.Context, key, contentType string, data io.Reader) error {
	fullSavePath, err := ls.GetFullPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullSavePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullSavePath), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for '%s': %w", key, err)
	}
	tmpPath := tmp.Name()

	_, err = io.Copy(tmp, contextReader{ctx: ctx, r: data})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write data to '%s': %w", key, err)
	}

	if err := os.Rename(tmpPath, fullSavePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move asset into place at '%s': %w", key, err)
	}

	log.Printf("media.store: Saved asset to %s", fullSavePath)
	return nil
}

func (ls *LocalStorage) Open(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	fullPath, err := ls.GetFullPath(key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, ObjectInfo{}, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ObjectInfo{}, fmt.Errorf("asset '%s': %w", key, ErrAssetNotFound)
		}
		return nil, ObjectInfo{}, fmt.Errorf("failed to open asset '%s': %w", key, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, ObjectInfo{}, fmt.Errorf("failed to stat asset '%s': %w", key, err)
	}

	return file, ObjectInfo{
		Size:        info.Size(),
		ContentType: ContentTypeForExt(filepath.Ext(fullPath)),
		ModTime:     info.ModTime(),
	}, nil
}

// Delete removes an asset file
func (ls *LocalStorage) Delete(ctx context.Context, key string) error {
	fullPath, err := ls.GetFullPath(key)
	if err != nil {
		return err
	}

	err = os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) { // Ignore "not exist" errors
		return fmt.Errorf("failed to delete asset '%s': %w", key, err)
	}
	if err == nil {
		log.Printf("media.store: Deleted asset %s", fullPath)
	}
	return nil
}

// GetFullPath calculates the absolute path and performs security check
func (ls *LocalStorage) GetFullPath(key string) (string, error) {
	// clean the relative path first to prevent simple traversal tricks
	cleanRelativePath := filepath.Clean(filepath.FromSlash("/" + key))

	absFullPath := filepath.Join(ls.basePath, cleanRelativePath)

	if absFullPath != ls.basePath && !strings.HasPrefix(absFullPath, ls.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: access denied for '%s'", key)
	}
	if absFullPath == ls.basePath {
		return "", fmt.Errorf("invalid path: empty asset key")
	}

	return absFullPath, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
