package repository

import (
	"context"

	"github.com/camden-git/gallerydelivery/models"
)

// GalleryUpdate carries the optional fields of an admin gallery edit. nil leaves a field
// unchanged.
type GalleryUpdate struct {
	Title           *string
	Description     *string
	IsPublic        *bool
	PasswordHash    *string // empty string removes the password
	DownloadEnabled *bool
	ClientID        *uint
	ExpiresAt       *int64 // zero removes the expiry
}

// GalleryRepositoryInterface defines the methods for gallery data operations
type GalleryRepositoryInterface interface {
	Create(ctx context.Context, gallery *models.Gallery) error
	GetByID(ctx context.Context, id uint) (*models.Gallery, error)
	GetBySlug(ctx context.Context, slug string) (*models.Gallery, error)
	ListPublic(ctx context.Context, now int64) ([]models.Gallery, error)
	ListAll(ctx context.Context) ([]models.Gallery, error)
	Update(ctx context.Context, id uint, update GalleryUpdate) error
	SetCoverIfEmpty(ctx context.Context, id uint, coverURL string) (bool, error)
	ClearCoverIfMatches(ctx context.Context, id uint, coverURL string) error
	Delete(ctx context.Context, id uint) ([]models.Image, error)
}

// ImageRepositoryInterface defines the methods for image data operations
type ImageRepositoryInterface interface {
	CreateNext(ctx context.Context, image *models.Image) error
	GetByID(ctx context.Context, id uint) (*models.Image, error)
	ListByGallery(ctx context.Context, galleryID uint) ([]models.Image, error)
	CountByGallery(ctx context.Context, galleryID uint) (int64, error)
	Delete(ctx context.Context, id uint) error
}

// VisitorRepositoryInterface defines the methods for visitor data operations
type VisitorRepositoryInterface interface {
	GetOrCreate(ctx context.Context, galleryID uint, email string) (*models.Visitor, bool, error)
	GetByID(ctx context.Context, id uint) (*models.Visitor, error)
	ListByGallery(ctx context.Context, galleryID uint) ([]models.Visitor, error)
	RotateAccessToken(ctx context.Context, id uint) (string, error)
	Touch(ctx context.Context, id uint, at int64) error
}

// ActionRepositoryInterface defines the methods for the action log
type ActionRepositoryInterface interface {
	Record(ctx context.Context, action *models.Action) error
	ToggleFavorite(ctx context.Context, visitorID, imageID, galleryID uint, at int64) (bool, error)
	FavoriteImageIDs(ctx context.Context, visitorID, galleryID uint) (map[uint]struct{}, error)
	CountByKind(ctx context.Context, galleryID uint, kind models.ActionKind) (int64, error)
}

// DailyStatRepositoryInterface defines the methods for the daily stats cache
type DailyStatRepositoryInterface interface {
	ReplaceRange(ctx context.Context, galleryID uint, fromDay, toDay string, stats []models.DailyStat) error
	ListRange(ctx context.Context, galleryID uint, fromDay, toDay string) ([]models.DailyStat, error)
}

// UserRepository defines the methods for admin user data operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	RecordLogin(ctx context.Context, id uint, at int64) error
	Count(ctx context.Context) (int64, error)
}
