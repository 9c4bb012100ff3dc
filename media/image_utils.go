package media

import (
	"errors"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"
)

// ErrUnsupportedImage is returned for uploads that are not a decodable raster image.
var ErrUnsupportedImage = errors.New("media: unsupported image type")

var supportedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

var supportedImageExtensions = map[string]string{
	".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".png": "image/png", ".gif": "image/gif",
}

// ContentTypeForExt returns the content type served for a stored artifact extension.
func ContentTypeForExt(ext string) string {
	if ct, ok := supportedImageExtensions[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// DetectImageType sniffs data and returns its content type and canonical extension. the
// declared type is only trusted when it agrees with the sniffed bytes.
func DetectImageType(data []byte, declared string) (string, string, error) {
	sniffed := http.DetectContentType(data)
	ext, ok := supportedImageTypes[sniffed]
	if !ok {
		return "", "", ErrUnsupportedImage
	}
	declared = strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0]))
	if declared != "" && declared != "application/octet-stream" && declared != sniffed {
		if _, known := supportedImageTypes[declared]; !known {
			return "", "", ErrUnsupportedImage
		}
	}
	return sniffed, ext, nil
}
