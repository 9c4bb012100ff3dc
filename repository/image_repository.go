package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/gallerydelivery/database"
	"github.com/camden-git/gallerydelivery/models"
)

// maxOrderIndexAttempts bounds how often CreateNext recomputes the order index after
// losing a race on idx_images_gallery_order.
const maxOrderIndexAttempts = 8

// ImageRepository handles database operations for Image entities
type ImageRepository struct {
	DB *gorm.DB
}

// NewImageRepository creates a new instance of ImageRepository
func NewImageRepository(db *gorm.DB) *ImageRepository {
	return &ImageRepository{DB: db}
}

// CreateNext inserts image with the next order index of its gallery (max + 1, or 0 for an
// empty gallery). the unique (gallery_id, order_index) index rejects a concurrent uploader
// that computed the same index; that uploader recomputes and retries.
func (r *ImageRepository) CreateNext(ctx context.Context, image *models.Image) error {
	if image.UploadedAt == 0 {
		image.UploadedAt = time.Now().Unix()
	}

	var lastErr error
	for attempt := 1; attempt <= maxOrderIndexAttempts; attempt++ {
		image.ID = 0
		lastErr = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var maxIndex int64
			row := tx.Model(&models.Image{}).
				Select("COALESCE(MAX(order_index), -1)").
				Where("gallery_id = ?", image.GalleryID).
				Row()
			if err := row.Scan(&maxIndex); err != nil {
				return fmt.Errorf("failed to read max order index: %w", err)
			}
			image.OrderIndex = int(maxIndex + 1)
			return tx.Create(image).Error
		})
		if lastErr == nil {
			return nil
		}
		if !database.IsUniqueConstraintViolation(lastErr) && !database.IsBusy(lastErr) {
			return fmt.Errorf("failed to create image %s in gallery %d: %w", image.Filename, image.GalleryID, lastErr)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("image repository: order index %d for gallery %d taken (attempt %d), retrying", image.OrderIndex, image.GalleryID, attempt)
	}
	return fmt.Errorf("failed to assign order index for image %s in gallery %d after %d attempts: %w",
		image.Filename, image.GalleryID, maxOrderIndexAttempts, lastErr)
}

// GetByID retrieves an image by its ID
func (r *ImageRepository) GetByID(ctx context.Context, id uint) (*models.Image, error) {
	var image models.Image
	err := r.DB.WithContext(ctx).First(&image, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get image by ID %d: %w", id, err)
	}
	return &image, nil
}

// ListByGallery retrieves a gallery's images ordered by order index
func (r *ImageRepository) ListByGallery(ctx context.Context, galleryID uint) ([]models.Image, error) {
	var images []models.Image
	err := r.DB.WithContext(ctx).Where("gallery_id = ?", galleryID).Order("order_index ASC").Find(&images).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list images for gallery %d: %w", galleryID, err)
	}
	return images, nil
}

// CountByGallery returns the number of images in a gallery
func (r *ImageRepository) CountByGallery(ctx context.Context, galleryID uint) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&models.Image{}).Where("gallery_id = ?", galleryID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count images for gallery %d: %w", galleryID, err)
	}
	return count, nil
}

// Delete removes an image and every action that references it
func (r *ImageRepository) Delete(ctx context.Context, id uint) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("image_id = ?", id).Delete(&models.Action{}).Error; err != nil {
			return fmt.Errorf("failed to delete actions for image %d: %w", id, err)
		}
		result := tx.Delete(&models.Image{}, id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete image %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
