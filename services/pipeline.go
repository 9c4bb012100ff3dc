package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/camden-git/gallerydelivery/apperrors"
	"github.com/camden-git/gallerydelivery/media"
	"github.com/camden-git/gallerydelivery/models"
	"github.com/camden-git/gallerydelivery/realtime"
	"github.com/camden-git/gallerydelivery/repository"
)

// EventPublisher receives upload progress events. *realtime.Hub implements it.
type EventPublisher interface {
	Broadcast(event realtime.Event)
}

// Upload is one raw image handed to the pipeline.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// PreparedImage holds the stored artifacts of one upload that has not yet been entered
// into the catalog.
type PreparedImage struct {
	GalleryID   uint
	Filename    string
	ContentType string
	SizeBytes   int64
	Width       int
	Height      int
	CapturedAt  *int64
	keys        map[media.AssetType]string
}

// DerivativePipeline turns uploads into original, display and thumbnail artifacts and
// enters them into the gallery catalog. an image either lands with all three artifacts
// and a catalog record, or leaves nothing behind.
type DerivativePipeline struct {
	galleries repository.GalleryRepositoryInterface
	images    repository.ImageRepositoryInterface
	processor *media.Processor
	mediaURL  string
	events    EventPublisher
}

func NewDerivativePipeline(
	galleries repository.GalleryRepositoryInterface,
	images repository.ImageRepositoryInterface,
	processor *media.Processor,
	publicMediaURL string,
	events EventPublisher,
) *DerivativePipeline {
	return &DerivativePipeline{
		galleries: galleries,
		images:    images,
		processor: processor,
		mediaURL:  publicMediaURL,
		events:    events,
	}
}

// Ingest stores the three artifacts of upload and creates its Image record with the next
// order index of the gallery.
func (p *DerivativePipeline) Ingest(ctx context.Context, galleryID uint, upload Upload) (*models.Image, error) {
	if _, err := p.RequireGallery(ctx, galleryID); err != nil {
		return nil, err
	}
	prepared, err := p.Prepare(ctx, galleryID, upload)
	if err != nil {
		return nil, err
	}
	return p.Commit(ctx, prepared)
}

// Prepare validates and decodes upload and writes its three artifacts. if any write fails
// the artifacts already written are removed.
func (p *DerivativePipeline) Prepare(ctx context.Context, galleryID uint, upload Upload) (*PreparedImage, error) {
	filename := cleanFilename(upload.Filename)
	if len(upload.Data) == 0 {
		return nil, apperrors.ErrValidationFailed.WithFields([]apperrors.FieldError{
			{Field: "files", Message: fmt.Sprintf("%s is empty", filename)},
		})
	}

	contentType, ext, err := media.DetectImageType(upload.Data, upload.ContentType)
	if err != nil {
		return nil, apperrors.ErrUnsupportedMedia.WithDetails(filename)
	}
	img, err := p.processor.Decode(upload.Data)
	if err != nil {
		return nil, apperrors.ErrUnsupportedMedia.WithDetails(filename)
	}

	name := uuid.NewString()
	prepared := &PreparedImage{
		GalleryID:   galleryID,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   int64(len(upload.Data)),
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		CapturedAt:  media.CaptureTime(upload.Data),
		keys: map[media.AssetType]string{
			media.AssetTypeOriginal:  media.AssetKey(galleryID, media.AssetTypeOriginal, name, ext),
			media.AssetTypeDisplay:   media.AssetKey(galleryID, media.AssetTypeDisplay, name, media.DerivativeExtension()),
			media.AssetTypeThumbnail: media.AssetKey(galleryID, media.AssetTypeThumbnail, name, media.DerivativeExtension()),
		},
	}

	written := make([]string, 0, 3)
	fail := func(err error, tier media.AssetType) (*PreparedImage, error) {
		log.Printf("pipeline: failed to write %s for %s in gallery %d: %v", tier, filename, galleryID, err)
		p.deleteKeys(written)
		var wrapped error
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			wrapped = apperrors.ErrTimeout.WithDetails(filename)
		} else {
			wrapped = apperrors.Storage(err, fmt.Sprintf("pipeline: write %s", tier))
		}
		p.publish(galleryID, filename, "failed", wrapped)
		return nil, wrapped
	}

	if err := p.processor.SaveOriginal(ctx, prepared.keys[media.AssetTypeOriginal], contentType, upload.Data); err != nil {
		return fail(err, media.AssetTypeOriginal)
	}
	written = append(written, prepared.keys[media.AssetTypeOriginal])

	for _, tier := range []media.AssetType{media.AssetTypeDisplay, media.AssetTypeThumbnail} {
		if _, _, err := p.processor.SaveDerivative(ctx, img, tier, prepared.keys[tier]); err != nil {
			return fail(err, tier)
		}
		written = append(written, prepared.keys[tier])
	}

	return prepared, nil
}

// Commit creates the catalog record of a prepared image. on failure the artifacts are
// removed. the first image of a gallery without a cover becomes its cover.
func (p *DerivativePipeline) Commit(ctx context.Context, prepared *PreparedImage) (*models.Image, error) {
	image := &models.Image{
		GalleryID:    prepared.GalleryID,
		Filename:     prepared.Filename,
		OriginalKey:  prepared.keys[media.AssetTypeOriginal],
		DisplayKey:   prepared.keys[media.AssetTypeDisplay],
		ThumbnailKey: prepared.keys[media.AssetTypeThumbnail],
		SizeBytes:    prepared.SizeBytes,
		ContentType:  prepared.ContentType,
		Width:        prepared.Width,
		Height:       prepared.Height,
		CapturedAt:   prepared.CapturedAt,
		UploadedAt:   time.Now().Unix(),
	}
	image.OriginalURL = media.PublicURL(p.mediaURL, image.OriginalKey)
	image.DisplayURL = media.PublicURL(p.mediaURL, image.DisplayKey)
	image.ThumbnailURL = media.PublicURL(p.mediaURL, image.ThumbnailKey)

	if err := p.images.CreateNext(ctx, image); err != nil {
		p.Discard(prepared)
		p.publish(prepared.GalleryID, prepared.Filename, "failed", err)
		return nil, apperrors.Wrap(err, "pipeline: create image record")
	}

	if _, err := p.galleries.SetCoverIfEmpty(ctx, image.GalleryID, image.ThumbnailURL); err != nil {
		log.Printf("pipeline: failed to set cover for gallery %d: %v", image.GalleryID, err)
	}

	log.Printf("pipeline: stored %s as image %d (order %d) in gallery %d", image.Filename, image.ID, image.OrderIndex, image.GalleryID)
	p.publish(image.GalleryID, image.Filename, "completed", nil)
	return image, nil
}

// Discard removes the artifacts of a prepared image that will not be committed.
func (p *DerivativePipeline) Discard(prepared *PreparedImage) {
	if prepared == nil {
		return
	}
	keys := make([]string, 0, len(prepared.keys))
	for _, key := range prepared.keys {
		keys = append(keys, key)
	}
	p.deleteKeys(keys)
}

// RemoveArtifacts deletes the stored artifacts of catalog images. failures are logged.
func (p *DerivativePipeline) RemoveArtifacts(images []models.Image) {
	keys := make([]string, 0, len(images)*3)
	for _, img := range images {
		keys = append(keys, img.OriginalKey, img.DisplayKey, img.ThumbnailKey)
	}
	p.deleteKeys(keys)
}

// RequireGallery returns the gallery or ErrGalleryNotFound.
func (p *DerivativePipeline) RequireGallery(ctx context.Context, galleryID uint) (*models.Gallery, error) {
	gallery, err := p.galleries.GetByID(ctx, galleryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrGalleryNotFound
		}
		return nil, apperrors.Wrap(err, "pipeline: gallery lookup")
	}
	return gallery, nil
}

// cleanup must run even when the request context is already canceled
func (p *DerivativePipeline) deleteKeys(keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store := p.processor.Store()
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := store.Delete(ctx, key); err != nil {
			log.Printf("pipeline: failed to remove artifact %s: %v", key, err)
		}
	}
}

func (p *DerivativePipeline) publish(galleryID uint, filename, status string, err error) {
	if p.events == nil {
		return
	}
	event := realtime.Event{
		Type:      "upload",
		GalleryID: galleryID,
		Filename:  filename,
		Status:    status,
		Timestamp: time.Now().Unix(),
	}
	if err != nil {
		event.Error = apperrors.From(err).Message()
	}
	p.events.Broadcast(event)
}

// cleanFilename keeps only the base name of a client-supplied filename.
func cleanFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == "" {
		return "image"
	}
	return name
}
