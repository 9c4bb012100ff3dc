package utils

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ZipStream writes a ZIP archive entry by entry to an underlying writer. nothing is
// buffered beyond the current entry, so the archive can be piped straight into a response.
type ZipStream struct {
	zw      *zip.Writer
	flush   func()
	names   map[string]int
	entries int
}

// NewZipStream starts an archive on w. flush, when non-nil, is called after each entry so
// the bytes reach the client as they are produced.
func NewZipStream(w io.Writer, flush func()) *ZipStream {
	return &ZipStream{
		zw:    zip.NewWriter(w),
		flush: flush,
		names: make(map[string]int),
	}
}

// Add copies r into a new entry. duplicate names get a numeric suffix:
// "IMG_1.jpg", "IMG_1 (1).jpg".
func (z *ZipStream) Add(name string, modTime time.Time, r io.Reader) (int64, error) {
	header := &zip.FileHeader{
		Name:     z.uniqueName(name),
		Method:   zip.Deflate,
		Modified: modTime,
	}
	writer, err := z.zw.CreateHeader(header)
	if err != nil {
		return 0, fmt.Errorf("zipper: failed to create entry %s: %w", header.Name, err)
	}

	written, err := io.Copy(writer, r)
	if err != nil {
		return written, fmt.Errorf("zipper: failed to write entry %s: %w", header.Name, err)
	}
	if err := z.zw.Flush(); err != nil {
		return written, fmt.Errorf("zipper: failed to flush entry %s: %w", header.Name, err)
	}
	if z.flush != nil {
		z.flush()
	}
	z.entries++
	return written, nil
}

// Entries returns the number of entries added so far.
func (z *ZipStream) Entries() int {
	return z.entries
}

// Close writes the central directory. the archive is only valid after Close.
func (z *ZipStream) Close() error {
	if err := z.zw.Close(); err != nil {
		return fmt.Errorf("zipper: failed to finalize archive: %w", err)
	}
	if z.flush != nil {
		z.flush()
	}
	return nil
}

func (z *ZipStream) uniqueName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == "" {
		name = "image"
	}

	key := strings.ToLower(name)
	n, seen := z.names[key]
	z.names[key] = n + 1
	if !seen {
		return name
	}

	ext := path.Ext(name)
	candidate := fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n, ext)
	// a generated name can itself collide with a later literal filename
	for {
		if _, taken := z.names[strings.ToLower(candidate)]; !taken {
			z.names[strings.ToLower(candidate)] = 1
			return candidate
		}
		n++
		candidate = fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n, ext)
	}
}
