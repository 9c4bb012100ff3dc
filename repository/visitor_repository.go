package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/camden-git/gallerydelivery/database"
	"github.com/camden-git/gallerydelivery/models"
)

// VisitorRepository handles database operations for Visitor entities
type VisitorRepository struct {
	DB *gorm.DB
}

// NewVisitorRepository creates a new instance of VisitorRepository
func NewVisitorRepository(db *gorm.DB) *VisitorRepository {
	return &VisitorRepository{DB: db}
}

// NormalizeEmail is the form visitor emails are stored and matched in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetOrCreate returns the visitor for (galleryID, email), creating it with a fresh access
// token on first sight. created reports whether this call inserted the row. two concurrent
// first logins resolve to the same visitor through the unique (gallery_id, email) index.
func (r *VisitorRepository) GetOrCreate(ctx context.Context, galleryID uint, email string) (*models.Visitor, bool, error) {
	email = NormalizeEmail(email)

	existing, err := r.getByEmail(ctx, galleryID, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	now := time.Now().Unix()
	visitor := &models.Visitor{
		GalleryID:   galleryID,
		Email:       email,
		AccessToken: uuid.NewString(),
		CreatedAt:   now,
		LastSeenAt:  now,
	}
	err = r.DB.WithContext(ctx).Create(visitor).Error
	if err == nil {
		return visitor, true, nil
	}
	if !database.IsUniqueConstraintViolation(err) {
		return nil, false, fmt.Errorf("failed to create visitor for gallery %d: %w", galleryID, err)
	}

	existing, err = r.getByEmail(ctx, galleryID, email)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load concurrently created visitor for gallery %d: %w", galleryID, err)
	}
	return existing, false, nil
}

func (r *VisitorRepository) getByEmail(ctx context.Context, galleryID uint, email string) (*models.Visitor, error) {
	var visitor models.Visitor
	err := r.DB.WithContext(ctx).Where("gallery_id = ? AND email = ?", galleryID, email).First(&visitor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get visitor %s for gallery %d: %w", email, galleryID, err)
	}
	return &visitor, nil
}

// GetByID retrieves a visitor by its ID
func (r *VisitorRepository) GetByID(ctx context.Context, id uint) (*models.Visitor, error) {
	var visitor models.Visitor
	err := r.DB.WithContext(ctx).First(&visitor, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get visitor by ID %d: %w", id, err)
	}
	return &visitor, nil
}

// ListByGallery retrieves a gallery's visitors, most recently seen first
func (r *VisitorRepository) ListByGallery(ctx context.Context, galleryID uint) ([]models.Visitor, error) {
	var visitors []models.Visitor
	err := r.DB.WithContext(ctx).Where("gallery_id = ?", galleryID).
		Order("last_seen_at DESC").Order("id ASC").
		Find(&visitors).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list visitors for gallery %d: %w", galleryID, err)
	}
	return visitors, nil
}

// RotateAccessToken replaces the visitor's access token. every credential carrying the
// previous token stops verifying.
func (r *VisitorRepository) RotateAccessToken(ctx context.Context, id uint) (string, error) {
	token := uuid.NewString()
	result := r.DB.WithContext(ctx).Model(&models.Visitor{}).Where("id = ?", id).Update("access_token", token)
	if result.Error != nil {
		return "", fmt.Errorf("failed to rotate access token for visitor %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return "", gorm.ErrRecordNotFound
	}
	return token, nil
}

// Touch records the visitor's latest sign-in
func (r *VisitorRepository) Touch(ctx context.Context, id uint, at int64) error {
	err := r.DB.WithContext(ctx).Model(&models.Visitor{}).Where("id = ?", id).Update("last_seen_at", at).Error
	if err != nil {
		return fmt.Errorf("failed to touch visitor %d: %w", id, err)
	}
	return nil
}
