package media

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// AssetType is the tier of a stored image artifact.
type AssetType string

const (
	AssetTypeOriginal  AssetType = "original"
	AssetTypeDisplay   AssetType = "display"
	AssetTypeThumbnail AssetType = "thumbnail"
)

// ErrAssetNotFound is returned by Store.Open for keys with no stored object.
var ErrAssetNotFound = errors.New("media: asset not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Size        int64
	ContentType string
	ModTime     time.Time
}

// AssetKey builds the storage key of one artifact. keys are scoped by gallery and tier so
// unrelated galleries can never collide: galleries/{id}/{tier}/{name}{ext}.
func AssetKey(galleryID uint, tier AssetType, name, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join("galleries", fmt.Sprint(galleryID), string(tier), name+strings.ToLower(ext))
}

// PublicURL joins the public media base and a storage key into a retrieval address.
func PublicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
