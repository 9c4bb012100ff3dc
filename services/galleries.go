package services

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/camden-git/gallerydelivery/apperrors"
	"github.com/camden-git/gallerydelivery/credentials"
	"github.com/camden-git/gallerydelivery/database"
	"github.com/camden-git/gallerydelivery/models"
	"github.com/camden-git/gallerydelivery/repository"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// ValidSlug reports whether slug is lowercase words joined by single hyphens.
func ValidSlug(slug string) bool {
	return len(slug) <= 128 && slugPattern.MatchString(slug)
}

// CreateGalleryInput holds the fields of a new gallery. DownloadEnabled defaults to true.
type CreateGalleryInput struct {
	Slug            string
	Title           string
	Description     *string
	IsPublic        bool
	Password        string
	DownloadEnabled *bool
	ClientID        *uint
	ExpiresAt       *int64
}

// UpdateGalleryInput holds an admin gallery edit. nil fields are left unchanged; an empty
// Password removes the gallery password. the slug can not be changed.
type UpdateGalleryInput struct {
	Title           *string
	Description     *string
	IsPublic        *bool
	Password        *string
	DownloadEnabled *bool
	ClientID        *uint
	ExpiresAt       *int64
}

// GalleryDetail is the admin view of one gallery.
type GalleryDetail struct {
	models.Gallery
	IsPasswordProtected bool  `json:"isPasswordProtected"`
	ImageCount          int64 `json:"imageCount"`
}

// GalleryService implements the admin operations on galleries, their images and visitors.
type GalleryService struct {
	galleries repository.GalleryRepositoryInterface
	images    repository.ImageRepositoryInterface
	visitors  repository.VisitorRepositoryInterface
	pipeline  *DerivativePipeline
}

func NewGalleryService(
	galleries repository.GalleryRepositoryInterface,
	images repository.ImageRepositoryInterface,
	visitors repository.VisitorRepositoryInterface,
	pipeline *DerivativePipeline,
) *GalleryService {
	return &GalleryService{galleries: galleries, images: images, visitors: visitors, pipeline: pipeline}
}

func (s *GalleryService) Create(ctx context.Context, input CreateGalleryInput) (*models.Gallery, error) {
	slug := strings.ToLower(strings.TrimSpace(input.Slug))
	if !ValidSlug(slug) {
		return nil, apperrors.ErrValidationFailed.WithFields([]apperrors.FieldError{
			{Field: "slug", Message: "slug must be lowercase letters, digits and single hyphens"},
		})
	}

	gallery := &models.Gallery{
		Slug:            slug,
		Title:           strings.TrimSpace(input.Title),
		Description:     input.Description,
		IsPublic:        input.IsPublic,
		DownloadEnabled: true,
		ClientID:        input.ClientID,
		ExpiresAt:       input.ExpiresAt,
	}
	if input.DownloadEnabled != nil {
		gallery.DownloadEnabled = *input.DownloadEnabled
	}
	if input.Password != "" {
		hash := credentials.HashGalleryPassword(input.Password)
		gallery.PasswordHash = &hash
	}

	if err := s.galleries.Create(ctx, gallery); err != nil {
		if database.IsUniqueConstraintViolation(err) {
			return nil, apperrors.ErrSlugConflict.WithDetails(slug)
		}
		return nil, apperrors.Wrap(err, "galleries: create")
	}
	log.Printf("galleries: created gallery %d (%s)", gallery.ID, gallery.Slug)
	return gallery, nil
}

func (s *GalleryService) Update(ctx context.Context, id uint, input UpdateGalleryInput) (*models.Gallery, error) {
	update := repository.GalleryUpdate{
		Title:           input.Title,
		Description:     input.Description,
		IsPublic:        input.IsPublic,
		DownloadEnabled: input.DownloadEnabled,
		ClientID:        input.ClientID,
		ExpiresAt:       input.ExpiresAt,
	}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		update.Title = &title
	}
	if input.Password != nil {
		hash := ""
		if *input.Password != "" {
			hash = credentials.HashGalleryPassword(*input.Password)
		}
		update.PasswordHash = &hash
	}

	if err := s.galleries.Update(ctx, id, update); err != nil {
		return nil, galleryError(err, "galleries: update")
	}
	return s.get(ctx, id)
}

// Delete removes the gallery, everything it owns, and the stored artifacts of its images.
func (s *GalleryService) Delete(ctx context.Context, id uint) error {
	images, err := s.galleries.Delete(ctx, id)
	if err != nil {
		return galleryError(err, "galleries: delete")
	}
	s.pipeline.RemoveArtifacts(images)
	log.Printf("galleries: deleted gallery %d with %d images", id, len(images))
	return nil
}

func (s *GalleryService) List(ctx context.Context) ([]GalleryDetail, error) {
	galleries, err := s.galleries.ListAll(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "galleries: list")
	}
	out := make([]GalleryDetail, 0, len(galleries))
	for _, g := range galleries {
		count, err := s.images.CountByGallery(ctx, g.ID)
		if err != nil {
			return nil, apperrors.Wrap(err, "galleries: count images")
		}
		out = append(out, GalleryDetail{Gallery: g, IsPasswordProtected: g.IsPasswordProtected(), ImageCount: count})
	}
	return out, nil
}

func (s *GalleryService) Get(ctx context.Context, id uint) (*GalleryDetail, error) {
	gallery, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	count, err := s.images.CountByGallery(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(err, "galleries: count images")
	}
	return &GalleryDetail{Gallery: *gallery, IsPasswordProtected: gallery.IsPasswordProtected(), ImageCount: count}, nil
}

func (s *GalleryService) Images(ctx context.Context, id uint) ([]models.Image, error) {
	if _, err := s.get(ctx, id); err != nil {
		return nil, err
	}
	images, err := s.images.ListByGallery(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(err, "galleries: list images")
	}
	return images, nil
}

// DeleteImage removes one image, its actions and its artifacts. a cover pointing at the
// image is cleared.
func (s *GalleryService) DeleteImage(ctx context.Context, galleryID, imageID uint) error {
	image, err := s.images.GetByID(ctx, imageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrImageNotFound
		}
		return apperrors.Wrap(err, "galleries: image lookup")
	}
	if image.GalleryID != galleryID {
		return apperrors.ErrImageNotFound
	}

	if err := s.images.Delete(ctx, imageID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrImageNotFound
		}
		return apperrors.Wrap(err, "galleries: delete image")
	}
	if err := s.galleries.ClearCoverIfMatches(ctx, galleryID, image.ThumbnailURL); err != nil {
		log.Printf("galleries: failed to clear cover of gallery %d: %v", galleryID, err)
	}
	s.pipeline.RemoveArtifacts([]models.Image{*image})
	return nil
}

func (s *GalleryService) Visitors(ctx context.Context, galleryID uint) ([]models.Visitor, error) {
	if _, err := s.get(ctx, galleryID); err != nil {
		return nil, err
	}
	visitors, err := s.visitors.ListByGallery(ctx, galleryID)
	if err != nil {
		return nil, apperrors.Wrap(err, "galleries: list visitors")
	}
	return visitors, nil
}

// RevokeVisitor rotates the visitor's access token so every credential issued so far
// stops verifying. the visitor can authenticate again for a new one.
func (s *GalleryService) RevokeVisitor(ctx context.Context, galleryID, visitorID uint) error {
	visitor, err := s.visitors.GetByID(ctx, visitorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrVisitorNotFound
		}
		return apperrors.Wrap(err, "galleries: visitor lookup")
	}
	if visitor.GalleryID != galleryID {
		return apperrors.ErrVisitorNotFound
	}
	if _, err := s.visitors.RotateAccessToken(ctx, visitorID); err != nil {
		return apperrors.Wrap(err, "galleries: rotate access token")
	}
	log.Printf("galleries: revoked credentials of visitor %d in gallery %d", visitorID, galleryID)
	return nil
}

// Gallery returns the raw gallery record.
func (s *GalleryService) Gallery(ctx context.Context, id uint) (*models.Gallery, error) {
	return s.get(ctx, id)
}

func (s *GalleryService) get(ctx context.Context, id uint) (*models.Gallery, error) {
	gallery, err := s.galleries.GetByID(ctx, id)
	if err != nil {
		return nil, galleryError(err, "galleries: lookup")
	}
	return gallery, nil
}

func galleryError(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrGalleryNotFound
	}
	return apperrors.Wrap(err, msg)
}
