package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/camden-git/gallerydelivery/apperrors"
	"github.com/camden-git/gallerydelivery/credentials"
	"github.com/camden-git/gallerydelivery/media"
	"github.com/camden-git/gallerydelivery/models"
	"github.com/camden-git/gallerydelivery/repository"
	"github.com/camden-git/gallerydelivery/utils"
)

// ArchiveExporter streams a gallery's display images as a ZIP archive. a producer fetches
// images ahead of the encoder through a bounded channel; when the channel is full the
// producer waits for the encoder, and the encoder waits for the client.
type ArchiveExporter struct {
	images   repository.ImageRepositoryInterface
	actions  repository.ActionRepositoryInterface
	store    media.Store
	slots    *semaphore.Weighted
	prefetch int
	now      func() time.Time
}

func NewArchiveExporter(
	images repository.ImageRepositoryInterface,
	actions repository.ActionRepositoryInterface,
	store media.Store,
	maxConcurrent, prefetch int,
) *ArchiveExporter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	return &ArchiveExporter{
		images:   images,
		actions:  actions,
		store:    store,
		slots:    semaphore.NewWeighted(int64(maxConcurrent)),
		prefetch: prefetch,
		now:      time.Now,
	}
}

// Export is an admitted archive download holding one export slot until Release.
type Export struct {
	exporter  *ArchiveExporter
	principal *credentials.Principal
	gallery   *models.Gallery
	images    []models.Image
	released  bool
}

// Begin runs every check that must pass before any archive byte is written: the principal
// belongs to the gallery, downloads are enabled, the gallery has images and an export
// slot is free.
func (e *ArchiveExporter) Begin(ctx context.Context, principal *credentials.Principal, gallery *models.Gallery) (*Export, error) {
	if err := principal.RequireGallery(gallery.ID); err != nil {
		return nil, err
	}
	if !gallery.DownloadEnabled {
		return nil, apperrors.ErrDownloadsDisabled
	}

	images, err := e.images.ListByGallery(ctx, gallery.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, "exporter: list images")
	}
	if len(images) == 0 {
		return nil, apperrors.ErrNoImages
	}

	if !e.slots.TryAcquire(1) {
		log.Printf("exporter: rejecting export of gallery %d, all export slots busy", gallery.ID)
		return nil, apperrors.ErrTooManyExports
	}
	return &Export{exporter: e, principal: principal, gallery: gallery, images: images}, nil
}

// Filename is the attachment name of the archive.
func (x *Export) Filename() string {
	return x.gallery.Slug + ".zip"
}

// Count is the number of images the archive will contain.
func (x *Export) Count() int {
	return len(x.images)
}

// Release returns the export slot. safe to call more than once.
func (x *Export) Release() {
	if x.released {
		return
	}
	x.released = true
	x.exporter.slots.Release(1)
}

type fetchedImage struct {
	image  models.Image
	reader io.ReadCloser
	info   media.ObjectInfo
}

// WriteTo streams the archive into w. every appended image records one DOWNLOAD action.
// a failed fetch aborts the stream; the client is left with a truncated archive.
func (x *Export) WriteTo(ctx context.Context, w io.Writer, flush func()) error {
	defer x.Release()
	e := x.exporter

	g, gctx := errgroup.WithContext(ctx)
	fetched := make(chan fetchedImage, e.prefetch)

	g.Go(func() error {
		defer close(fetched)
		for _, img := range x.images {
			rc, info, err := e.store.Open(gctx, img.DisplayKey)
			if err != nil {
				return apperrors.Storage(err, fmt.Sprintf("exporter: open image %d", img.ID))
			}
			select {
			case fetched <- fetchedImage{image: img, reader: rc, info: info}:
			case <-gctx.Done():
				rc.Close()
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		zs := utils.NewZipStream(w, flush)
		for item := range fetched {
			modTime := item.info.ModTime
			if item.image.CapturedAt != nil {
				modTime = time.Unix(*item.image.CapturedAt, 0)
			}
			_, err := zs.Add(item.image.Filename, modTime, item.reader)
			item.reader.Close()
			if err != nil {
				return err
			}

			err = e.actions.Record(gctx, &models.Action{
				VisitorID: x.principal.VisitorID,
				ImageID:   item.image.ID,
				GalleryID: x.gallery.ID,
				Kind:      models.ActionDownload,
				CreatedAt: e.now().Unix(),
			})
			if err != nil {
				return fmt.Errorf("exporter: record download of image %d: %w", item.image.ID, err)
			}
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		if zs.Entries() != len(x.images) {
			return fmt.Errorf("exporter: archive has %d of %d images", zs.Entries(), len(x.images))
		}
		return zs.Close()
	})

	err := g.Wait()
	// the encoder may have stopped with fetched readers still queued
	for item := range fetched {
		item.reader.Close()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("exporter: export of gallery %d canceled by client", x.gallery.ID)
		} else {
			log.Printf("exporter: export of gallery %d aborted: %v", x.gallery.ID, err)
		}
		return err
	}
	log.Printf("exporter: streamed %d images of gallery %d to visitor %d", len(x.images), x.gallery.ID, x.principal.VisitorID)
	return nil
}

// OpenImage opens the display artifact of one image for a single-image download and
// records a DOWNLOAD action.
func (e *ArchiveExporter) OpenImage(ctx context.Context, principal *credentials.Principal, gallery *models.Gallery, image *models.Image) (io.ReadCloser, media.ObjectInfo, error) {
	if err := principal.RequireGallery(gallery.ID); err != nil {
		return nil, media.ObjectInfo{}, err
	}
	if image.GalleryID != gallery.ID {
		return nil, media.ObjectInfo{}, apperrors.ErrTokenGalleryMismatch
	}
	if !gallery.DownloadEnabled {
		return nil, media.ObjectInfo{}, apperrors.ErrDownloadsDisabled
	}

	rc, info, err := e.store.Open(ctx, image.DisplayKey)
	if err != nil {
		if errors.Is(err, media.ErrAssetNotFound) {
			return nil, media.ObjectInfo{}, apperrors.ErrImageNotFound
		}
		return nil, media.ObjectInfo{}, apperrors.Storage(err, "exporter: open image")
	}

	err = e.actions.Record(ctx, &models.Action{
		VisitorID: principal.VisitorID,
		ImageID:   image.ID,
		GalleryID: gallery.ID,
		Kind:      models.ActionDownload,
		CreatedAt: e.now().Unix(),
	})
	if err != nil {
		rc.Close()
		return nil, media.ObjectInfo{}, apperrors.Wrap(err, "exporter: record download")
	}
	return rc, info, nil
}
