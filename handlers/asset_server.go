package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/camden-git/gallerydelivery/media"
)

// MediaServer streams stored artifacts from store. it is mounted under a wildcard route,
// e.g. r.Get("/media/*", MediaServer(store)), and the wildcard is the storage key.
// artifact keys embed a random name, so responses are cached as immutable.
func MediaServer(store media.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "*")
		if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
			http.Error(w, "Invalid asset path", http.StatusBadRequest)
			return
		}

		rc, info, err := store.Open(r.Context(), key)
		if err != nil {
			if errors.Is(err, media.ErrAssetNotFound) {
				http.NotFound(w, r)
				return
			}
			log.Printf("media server: error opening %s: %v", key, err)
			http.Error(w, "Storage unavailable", http.StatusBadGateway)
			return
		}
		defer rc.Close()

		cacheDuration := 365 * 24 * time.Hour
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, immutable", int(cacheDuration.Seconds())))
		if info.ContentType != "" {
			w.Header().Set("Content-Type", info.ContentType)
		}
		if info.Size > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
		}
		if !info.ModTime.IsZero() {
			w.Header().Set("Last-Modified", info.ModTime.UTC().Format(http.TimeFormat))
		}
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := io.Copy(w, rc); err != nil {
			log.Printf("media server: error streaming %s: %v", key, err)
		}
	}
}
