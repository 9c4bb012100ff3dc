package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/camden-git/gallerydelivery/apperrors"
	"github.com/camden-git/gallerydelivery/credentials"
	"github.com/camden-git/gallerydelivery/models"
	"github.com/camden-git/gallerydelivery/services"
)

// PublicHandler serves the visitor-facing gallery routes.
type PublicHandler struct {
	Catalog  *services.Catalog
	Issuer   *credentials.Issuer
	Verifier *credentials.Verifier
	Exporter *services.ArchiveExporter
}

type authRequest struct {
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"max=256"`
}

type authResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type favoriteResponse struct {
	ImageID    uint `json:"imageId"`
	IsFavorite bool `json:"isFavorite"`
}

func (h *PublicHandler) ListGalleries(w http.ResponseWriter, r *http.Request) {
	galleries, err := h.Catalog.ListPublicGalleries(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, galleries)
}

func (h *PublicHandler) GetGallery(w http.ResponseWriter, r *http.Request) {
	gallery, err := h.Catalog.GalleryBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, services.NewPublicGallery(gallery))
}

// Authenticate exchanges an email and the gallery password for a visitor credential.
func (h *PublicHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}

	issued, err := h.Issuer.Issue(r.Context(), chi.URLParam(r, "slug"), req.Email, req.Password)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: issued.Token, ExpiresAt: issued.ExpiresAt})
}

// verifiedGallery resolves the slug of the request path and verifies the bearer
// credential against that gallery.
func (h *PublicHandler) verifiedGallery(r *http.Request) (*models.Gallery, *credentials.Principal, error) {
	raw, err := bearerToken(r)
	if err != nil {
		return nil, nil, err
	}
	if raw == "" {
		return nil, nil, apperrors.ErrMissingToken
	}
	gallery, err := h.Catalog.GalleryBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		return nil, nil, err
	}
	principal, err := h.Verifier.Verify(r.Context(), raw, gallery.ID)
	if err != nil {
		return nil, nil, err
	}
	return gallery, principal, nil
}

func (h *PublicHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	gallery, principal, err := h.verifiedGallery(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	images, err := h.Catalog.ListImages(r.Context(), principal, gallery.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, images)
}

func (h *PublicHandler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	imageID, err := uintParam(r, "imageId", apperrors.ErrImageNotFound)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	favorite, err := h.Catalog.ToggleFavorite(r.Context(), principal, imageID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, favoriteResponse{ImageID: imageID, IsFavorite: favorite})
}

func (h *PublicHandler) RecordView(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	imageID, err := uintParam(r, "imageId", apperrors.ErrImageNotFound)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := h.Catalog.RecordView(r.Context(), principal, imageID); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DownloadGallery streams the gallery as a ZIP archive. every check runs before the
// response headers are written; a failure after that truncates the archive.
func (h *PublicHandler) DownloadGallery(w http.ResponseWriter, r *http.Request) {
	gallery, principal, err := h.verifiedGallery(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	export, err := h.Exporter.Begin(r.Context(), principal, gallery)
	if err != nil {
		if errors.Is(err, apperrors.ErrTooManyExports) {
			w.Header().Set("Retry-After", "5")
		}
		writeAppError(w, r, err)
		return
	}
	defer export.Release()

	rc := http.NewResponseController(w)
	// the stream is bounded by the client's read rate, not by the server write timeout
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Printf("public: failed to clear write deadline: %v", err)
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Filename()))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	flush := func() { _ = rc.Flush() }
	flush()

	if err := export.WriteTo(r.Context(), w, flush); err != nil {
		log.Printf("public: archive of gallery %s for visitor %d ended early: %v", gallery.Slug, principal.VisitorID, err)
	}
}

// DownloadImage streams the display artifact of one image as an attachment.
func (h *PublicHandler) DownloadImage(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFrom(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	imageID, err := uintParam(r, "imageId", apperrors.ErrImageNotFound)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	image, gallery, err := h.Catalog.ResolveImage(r.Context(), principal, imageID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	body, info, err := h.Exporter.OpenImage(r.Context(), principal, gallery, image)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer body.Close()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Printf("public: failed to clear write deadline: %v", err)
	}

	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, downloadName(image.Filename)))
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, contextReader{ctx: r.Context(), r: body}); err != nil {
		log.Printf("public: download of image %d ended early: %v", image.ID, err)
	}
}

// downloadName keeps a filename safe inside a quoted header value.
func downloadName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 || r == 0x7f {
			return '_'
		}
		return r
	}, name)
	if name == "" {
		return "image"
	}
	return name
}

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
