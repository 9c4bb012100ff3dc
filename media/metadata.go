package media

import (
	"bytes"
	"log"

	"github.com/rwcarlsen/goexif/exif"
)

// CaptureTime reads the EXIF capture timestamp of an encoded image. images without EXIF
// data, or without a usable date, return nil.
func CaptureTime(data []byte) *int64 {
	exifData, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		// not necessarily a fatal error, file might just lack EXIF data
		return nil
	}

	dt, err := exifData.DateTime()
	if err != nil {
		log.Printf("metadata: Could not read DateTimeOriginal: %v", err)
		return nil
	}
	ts := dt.Unix()
	return &ts
}
