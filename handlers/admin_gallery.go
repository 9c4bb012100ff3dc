package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/camden-git/gallerydelivery/apperrors"
	"github.com/camden-git/gallerydelivery/models"
	"github.com/camden-git/gallerydelivery/services"
	"github.com/camden-git/gallerydelivery/workers"
)

const (
	multipartMemoryBytes = 32 << 20
	qrCodeSize           = 512
)

// AdminGalleryHandler serves the admin gallery, upload and visitor routes.
type AdminGalleryHandler struct {
	Galleries      *services.GalleryService
	Pool           *workers.DerivativePool
	MaxUploadBytes int64
	UploadTimeout  time.Duration // deadline of one upload batch; zero leaves it to the client
	PublicSiteURL  string
}

type createGalleryRequest struct {
	Slug            string  `json:"slug" validate:"required,max=128"`
	Title           string  `json:"title" validate:"required,max=255"`
	Description     *string `json:"description" validate:"omitempty,max=4000"`
	IsPublic        bool    `json:"isPublic"`
	Password        string  `json:"password" validate:"omitempty,min=4,max=256"`
	DownloadEnabled *bool   `json:"downloadEnabled"`
	ClientID        *uint   `json:"clientId"`
	ExpiresAt       *int64  `json:"expiresAt" validate:"omitempty,gt=0"`
}

type updateGalleryRequest struct {
	Title           *string `json:"title" validate:"omitempty,min=1,max=255"`
	Description     *string `json:"description" validate:"omitempty,max=4000"`
	IsPublic        *bool   `json:"isPublic"`
	Password        *string `json:"password" validate:"omitempty,max=256"` // "" removes the password
	DownloadEnabled *bool   `json:"downloadEnabled"`
	ClientID        *uint   `json:"clientId"`
	ExpiresAt       *int64  `json:"expiresAt" validate:"omitempty,gte=0"` // 0 removes the expiry
}

type uploadResult struct {
	Filename string          `json:"filename"`
	Image    *models.Image   `json:"image,omitempty"`
	Error    *APIErrorDetail `json:"error,omitempty"`
}

type uploadResponse struct {
	Uploaded int            `json:"uploaded"`
	Failed   int            `json:"failed"`
	Results  []uploadResult `json:"results"`
}

func (h *AdminGalleryHandler) galleryID(r *http.Request) (uint, error) {
	return uintParam(r, "id", apperrors.ErrGalleryNotFound)
}

func (h *AdminGalleryHandler) CreateGallery(w http.ResponseWriter, r *http.Request) {
	var req createGalleryRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	gallery, err := h.Galleries.Create(r.Context(), services.CreateGalleryInput{
		Slug:            req.Slug,
		Title:           req.Title,
		Description:     req.Description,
		IsPublic:        req.IsPublic,
		Password:        req.Password,
		DownloadEnabled: req.DownloadEnabled,
		ClientID:        req.ClientID,
		ExpiresAt:       req.ExpiresAt,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	detail, err := h.Galleries.Get(r.Context(), gallery.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

func (h *AdminGalleryHandler) ListGalleries(w http.ResponseWriter, r *http.Request) {
	galleries, err := h.Galleries.List(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, galleries)
}

func (h *AdminGalleryHandler) GetGallery(w http.ResponseWriter, r *http.Request) {
	id, err := h.galleryID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	detail, err := h.Galleries.Get(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *AdminGalleryHandler) UpdateGallery(w http.ResponseWriter, r *http.Request) {
	id, err := h.galleryID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	var req updateGalleryRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if _, err := h.Galleries.Update(r.Context(), id, services.UpdateGalleryInput{
		Title:           req.Title,
		Description:     req.Description,
		IsPublic:        req.IsPublic,
		Password:        req.Password,
		DownloadEnabled: req.DownloadEnabled,
		ClientID:        req.ClientID,
		ExpiresAt:       req.ExpiresAt,
	}); err != nil {
		writeAppError(w, r, err)
		return
	}
	detail, err := h.Galleries.Get(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *AdminGalleryHandler) DeleteGallery(w http.ResponseWriter, r *http.Request) {
	id, err := h.galleryID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := h.Galleries.Delete(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminGalleryHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	id, err := h.galleryID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	images, err := h.Galleries.Images(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, images)
}

// UploadImages accepts one or more "files" parts and runs them through the derivative
// pool. the response is 201 when at least one file was stored; a request where every file
// failed reports the first failure.
func (h *AdminGalleryHandler) UploadImages(w http.ResponseWriter, r *http.Request) {
	id, err := h.galleryID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		writeAppError(w, r, apperrors.ErrValidationFailed.WithDetails("invalid or oversized multipart body"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		parts = r.MultipartForm.File["file"]
	}
	if len(parts) == 0 {
		writeAppError(w, r, apperrors.ErrValidationFailed.WithFields([]apperrors.FieldError{
			{Field: "files", Message: "at least one image file is required"},
		}))
		return
	}

	uploads := make([]services.Upload, 0, len(parts))
	for _, part := range parts {
		upload, err := readUpload(part)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		uploads = append(uploads, upload)
	}

	ctx := r.Context()
	if h.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.UploadTimeout)
		defer cancel()
		// the batch deadline replaces the server write timeout for this response
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Now().Add(h.UploadTimeout + 10*time.Second)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			log.Printf("admin: failed to extend write deadline: %v", err)
		}
	}

	results, err := h.Pool.ProcessBatch(ctx, id, uploads)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	resp := uploadResponse{Results: make([]uploadResult, 0, len(results))}
	var firstErr error
	for _, res := range results {
		out := uploadResult{Filename: res.Filename, Image: res.Image}
		if res.Err != nil {
			appErr := apperrors.From(res.Err)
			out.Error = &APIErrorDetail{
				Code:   appErr.ErrorCode(),
				Status: strconv.Itoa(appErr.HTTPCode()),
				Detail: appErr.Message(),
			}
			resp.Failed++
			if firstErr == nil {
				firstErr = res.Err
			}
		} else {
			resp.Uploaded++
		}
		resp.Results = append(resp.Results, out)
	}

	if resp.Uploaded == 0 {
		writeAppError(w, r, firstErr)
		return
	}
	log.Printf("admin: %s uploaded %d image(s) to gallery %d (%d failed)", adminName(r), resp.Uploaded, id, resp.Failed)
	writeJSON(w, http.StatusCreated, resp)
}

func readUpload(part *multipart.FileHeader) (services.Upload, error) {
	f, err := part.Open()
	if err != nil {
		return services.Upload{}, apperrors.ErrValidationFailed.WithDetails(fmt.Sprintf("could not read %s", part.Filename))
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return services.Upload{}, apperrors.ErrValidationFailed.WithDetails(fmt.Sprintf("could not read %s", part.Filename))
	}
	return services.Upload{
		Filename:    part.Filename,
		ContentType: part.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (h *AdminGalleryHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	id, err := h.galleryID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	imageID, err := uintParam(r, "imageId", apperrors.ErrImageNotFound)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := h.Galleries.DeleteImage(r.Context(), id, imageID); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminGalleryHandler) ListVisitors(w http.ResponseWriter, r *http.Request) {
	id, err := h.galleryID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	visitors, err := h.Galleries.Visitors(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visitors)
}

func (h *AdminGalleryHandler) RevokeVisitor(w http.ResponseWriter, r *http.Request) {
	id, err := h.galleryID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	visitorID, err := uintParam(r, "visitorId", apperrors.ErrVisitorNotFound)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := h.Galleries.RevokeVisitor(r.Context(), id, visitorID); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ShareQRCode renders the public link of the gallery as a PNG QR code.
func (h *AdminGalleryHandler) ShareQRCode(w http.ResponseWriter, r *http.Request) {
	id, err := h.galleryID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	gallery, err := h.Galleries.Gallery(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	link := fmt.Sprintf("%s/g/%s", h.PublicSiteURL, gallery.Slug)
	png, err := qrcode.Encode(link, qrcode.Medium, qrCodeSize)
	if err != nil {
		writeAppError(w, r, fmt.Errorf("failed to render QR code for %s: %w", link, err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s-qr.png"`, gallery.Slug))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func adminName(r *http.Request) string {
	if user := adminFrom(r); user != nil {
		return user.Username
	}
	return "unknown admin"
}
