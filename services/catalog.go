package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/gallerydelivery/apperrors"
	"github.com/camden-git/gallerydelivery/credentials"
	"github.com/camden-git/gallerydelivery/media"
	"github.com/camden-git/gallerydelivery/models"
	"github.com/camden-git/gallerydelivery/repository"
)

const placeholderCount = 6

// CatalogImage is one entry of a visitor's image listing.
type CatalogImage struct {
	ID           uint   `json:"id"`
	Filename     string `json:"filename"`
	OrderIndex   int    `json:"orderIndex"`
	DisplayURL   string `json:"displayUrl"`
	ThumbnailURL string `json:"thumbnailUrl"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	CapturedAt   *int64 `json:"capturedAt,omitempty"`
	IsFavorite   bool   `json:"isFavorite"`
	Placeholder  bool   `json:"placeholder,omitempty"`
}

// PublicGallery is the visitor-facing view of a gallery.
type PublicGallery struct {
	ID                  uint    `json:"id"`
	Slug                string  `json:"slug"`
	Title               string  `json:"title"`
	Description         *string `json:"description,omitempty"`
	CoverImageURL       *string `json:"coverImageUrl,omitempty"`
	IsPasswordProtected bool    `json:"isPasswordProtected"`
	DownloadEnabled     bool    `json:"downloadEnabled"`
	ExpiresAt           *int64  `json:"expiresAt,omitempty"`
	CreatedAt           int64   `json:"createdAt"`
}

// NewPublicGallery strips admin-only fields from a gallery.
func NewPublicGallery(g *models.Gallery) PublicGallery {
	return PublicGallery{
		ID:                  g.ID,
		Slug:                g.Slug,
		Title:               g.Title,
		Description:         g.Description,
		CoverImageURL:       g.CoverImageURL,
		IsPasswordProtected: g.IsPasswordProtected(),
		DownloadEnabled:     g.DownloadEnabled,
		ExpiresAt:           g.ExpiresAt,
		CreatedAt:           g.CreatedAt,
	}
}

// CatalogOptions configures a Catalog.
type CatalogOptions struct {
	StoreTimeout        time.Duration
	PlaceholderFallback bool
	PublicMediaURL      string
}

// Catalog is the visitor read path over galleries and images, plus the favorite and view
// actions that hang off it.
type Catalog struct {
	galleries repository.GalleryRepositoryInterface
	images    repository.ImageRepositoryInterface
	actions   repository.ActionRepositoryInterface
	opts      CatalogOptions
	now       func() time.Time
}

func NewCatalog(
	galleries repository.GalleryRepositoryInterface,
	images repository.ImageRepositoryInterface,
	actions repository.ActionRepositoryInterface,
	opts CatalogOptions,
) *Catalog {
	return &Catalog{galleries: galleries, images: images, actions: actions, opts: opts, now: time.Now}
}

func (c *Catalog) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opts.StoreTimeout)
}

// ListPublicGalleries returns the public, unexpired galleries.
func (c *Catalog) ListPublicGalleries(ctx context.Context) ([]PublicGallery, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	galleries, err := c.galleries.ListPublic(ctx, c.now().Unix())
	if err != nil {
		return nil, apperrors.Wrap(err, "catalog: list public galleries")
	}
	out := make([]PublicGallery, 0, len(galleries))
	for i := range galleries {
		out = append(out, NewPublicGallery(&galleries[i]))
	}
	return out, nil
}

// GalleryBySlug resolves a gallery for the visitor routes. unknown and expired galleries
// are both NotFound. private galleries resolve; they are only hidden from the listing.
func (c *Catalog) GalleryBySlug(ctx context.Context, slug string) (*models.Gallery, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	gallery, err := c.galleries.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrGalleryNotFound
		}
		return nil, apperrors.Wrap(err, "catalog: gallery lookup")
	}
	if gallery.IsExpired(c.now().Unix()) {
		return nil, apperrors.ErrGalleryNotFound
	}
	return gallery, nil
}

// GalleryByID resolves a gallery for image-scoped visitor routes. expired galleries are
// NotFound.
func (c *Catalog) GalleryByID(ctx context.Context, id uint) (*models.Gallery, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	gallery, err := c.galleries.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrGalleryNotFound
		}
		return nil, apperrors.Wrap(err, "catalog: gallery lookup")
	}
	if gallery.IsExpired(c.now().Unix()) {
		return nil, apperrors.ErrGalleryNotFound
	}
	return gallery, nil
}

// ListImages returns the gallery's images in order index order, each annotated with the
// visitor's favorite state.
func (c *Catalog) ListImages(ctx context.Context, principal *credentials.Principal, galleryID uint) ([]CatalogImage, error) {
	if err := principal.RequireGallery(galleryID); err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	images, err := c.images.ListByGallery(ctx, galleryID)
	if err != nil {
		return nil, apperrors.Wrap(err, "catalog: list images")
	}
	if len(images) == 0 && c.opts.PlaceholderFallback {
		log.Printf("catalog: gallery %d has no images, serving placeholder listing", galleryID)
		return c.placeholders(), nil
	}

	favorites, err := c.actions.FavoriteImageIDs(ctx, principal.VisitorID, galleryID)
	if err != nil {
		return nil, apperrors.Wrap(err, "catalog: load favorites")
	}

	out := make([]CatalogImage, 0, len(images))
	for _, img := range images {
		_, favorite := favorites[img.ID]
		out = append(out, CatalogImage{
			ID:           img.ID,
			Filename:     img.Filename,
			OrderIndex:   img.OrderIndex,
			DisplayURL:   img.DisplayURL,
			ThumbnailURL: img.ThumbnailURL,
			Width:        img.Width,
			Height:       img.Height,
			CapturedAt:   img.CapturedAt,
			IsFavorite:   favorite,
		})
	}
	return out, nil
}

// ResolveImage loads an image for a visitor action together with its gallery. an image
// outside the principal's gallery is a token/image mismatch; an expired gallery is
// NotFound, as on every other visitor route.
func (c *Catalog) ResolveImage(ctx context.Context, principal *credentials.Principal, imageID uint) (*models.Image, *models.Gallery, error) {
	lookupCtx, cancel := c.withTimeout(ctx)
	image, err := c.images.GetByID(lookupCtx, imageID)
	cancel()
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperrors.ErrImageNotFound
		}
		return nil, nil, apperrors.Wrap(err, "catalog: image lookup")
	}
	if err := principal.RequireGallery(image.GalleryID); err != nil {
		return nil, nil, err
	}
	gallery, err := c.GalleryByID(ctx, image.GalleryID)
	if err != nil {
		return nil, nil, err
	}
	return image, gallery, nil
}

// ToggleFavorite flips the visitor's favorite on an image and returns the new state.
func (c *Catalog) ToggleFavorite(ctx context.Context, principal *credentials.Principal, imageID uint) (bool, error) {
	image, _, err := c.ResolveImage(ctx, principal, imageID)
	if err != nil {
		return false, err
	}
	favorited, err := c.actions.ToggleFavorite(ctx, principal.VisitorID, image.ID, image.GalleryID, c.now().Unix())
	if err != nil {
		return false, apperrors.Wrap(err, "catalog: toggle favorite")
	}
	return favorited, nil
}

// RecordView appends a VIEW action for the visitor and image.
func (c *Catalog) RecordView(ctx context.Context, principal *credentials.Principal, imageID uint) error {
	image, _, err := c.ResolveImage(ctx, principal, imageID)
	if err != nil {
		return err
	}
	err = c.actions.Record(ctx, &models.Action{
		VisitorID: principal.VisitorID,
		ImageID:   image.ID,
		GalleryID: image.GalleryID,
		Kind:      models.ActionView,
		CreatedAt: c.now().Unix(),
	})
	if err != nil {
		return apperrors.Wrap(err, "catalog: record view")
	}
	return nil
}

// placeholders is the fixed listing served in degraded mode. entries have no id and can
// not be favorited.
func (c *Catalog) placeholders() []CatalogImage {
	out := make([]CatalogImage, 0, placeholderCount)
	for i := 0; i < placeholderCount; i++ {
		name := fmt.Sprintf("placeholder-%d.jpg", i+1)
		out = append(out, CatalogImage{
			Filename:     name,
			OrderIndex:   i,
			DisplayURL:   media.PublicURL(c.opts.PublicMediaURL, "placeholders/display/"+name),
			ThumbnailURL: media.PublicURL(c.opts.PublicMediaURL, "placeholders/thumbnail/"+name),
			Placeholder:  true,
		})
	}
	return out
}
