package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/gallerydelivery/models"
)

// GalleryRepository handles database operations for Gallery entities
type GalleryRepository struct {
	DB *gorm.DB
}

// NewGalleryRepository creates a new instance of GalleryRepository
func NewGalleryRepository(db *gorm.DB) *GalleryRepository {
	return &GalleryRepository{DB: db}
}

// Create creates a new gallery record in the database
func (r *GalleryRepository) Create(ctx context.Context, gallery *models.Gallery) error {
	now := time.Now().Unix()
	if gallery.CreatedAt == 0 {
		gallery.CreatedAt = now
	}
	if gallery.UpdatedAt == 0 {
		gallery.UpdatedAt = now
	}

	err := r.DB.WithContext(ctx).Create(gallery).Error
	if err != nil {
		return fmt.Errorf("failed to create gallery %s: %w", gallery.Slug, err)
	}
	return nil
}

// GetByID retrieves a gallery by its ID
func (r *GalleryRepository) GetByID(ctx context.Context, id uint) (*models.Gallery, error) {
	var gallery models.Gallery
	err := r.DB.WithContext(ctx).First(&gallery, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get gallery by ID %d: %w", id, err)
	}
	return &gallery, nil
}

// GetBySlug retrieves a gallery by its slug
func (r *GalleryRepository) GetBySlug(ctx context.Context, slug string) (*models.Gallery, error) {
	var gallery models.Gallery
	err := r.DB.WithContext(ctx).Where("slug = ?", slug).First(&gallery).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get gallery by slug %s: %w", slug, err)
	}
	return &gallery, nil
}

// ListPublic retrieves public galleries that have not expired at now, newest first
func (r *GalleryRepository) ListPublic(ctx context.Context, now int64) ([]models.Gallery, error) {
	var galleries []models.Gallery
	err := r.DB.WithContext(ctx).
		Where("is_public = ?", true).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("created_at DESC").Order("id DESC").
		Find(&galleries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list public galleries: %w", err)
	}
	return galleries, nil
}

// ListAll retrieves every gallery for the admin view, newest first
func (r *GalleryRepository) ListAll(ctx context.Context) ([]models.Gallery, error) {
	var galleries []models.Gallery
	err := r.DB.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&galleries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list galleries: %w", err)
	}
	return galleries, nil
}

// Update applies the non-nil fields of update to the gallery
func (r *GalleryRepository) Update(ctx context.Context, id uint, update GalleryUpdate) error {
	updates := map[string]interface{}{
		"updated_at": time.Now().Unix(),
	}
	if update.Title != nil {
		updates["title"] = *update.Title
	}
	if update.Description != nil {
		if *update.Description == "" {
			updates["description"] = gorm.Expr("NULL")
		} else {
			updates["description"] = *update.Description
		}
	}
	if update.IsPublic != nil {
		updates["is_public"] = *update.IsPublic
	}
	if update.PasswordHash != nil {
		if *update.PasswordHash == "" { // allow removing the password
			updates["password_hash"] = gorm.Expr("NULL")
		} else {
			updates["password_hash"] = *update.PasswordHash
		}
	}
	if update.DownloadEnabled != nil {
		updates["download_enabled"] = *update.DownloadEnabled
	}
	if update.ClientID != nil {
		updates["client_id"] = *update.ClientID
	}
	if update.ExpiresAt != nil {
		if *update.ExpiresAt == 0 {
			updates["expires_at"] = gorm.Expr("NULL")
		} else {
			updates["expires_at"] = *update.ExpiresAt
		}
	}

	result := r.DB.WithContext(ctx).Model(&models.Gallery{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update gallery ID %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetCoverIfEmpty sets the cover image only when the gallery has none. the check and the
// write are one statement, so concurrent first uploads cannot both win.
func (r *GalleryRepository) SetCoverIfEmpty(ctx context.Context, id uint, coverURL string) (bool, error) {
	result := r.DB.WithContext(ctx).Model(&models.Gallery{}).
		Where("id = ? AND (cover_image_url IS NULL OR cover_image_url = '')", id).
		Updates(map[string]interface{}{
			"cover_image_url": coverURL,
			"updated_at":      time.Now().Unix(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to set cover for gallery ID %d: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ClearCoverIfMatches removes the cover image when it still points at coverURL
func (r *GalleryRepository) ClearCoverIfMatches(ctx context.Context, id uint, coverURL string) error {
	err := r.DB.WithContext(ctx).Model(&models.Gallery{}).
		Where("id = ? AND cover_image_url = ?", id, coverURL).
		Updates(map[string]interface{}{
			"cover_image_url": gorm.Expr("NULL"),
			"updated_at":      time.Now().Unix(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to clear cover for gallery ID %d: %w", id, err)
	}
	return nil
}

// Delete removes a gallery together with its images, visitors, actions and cached stats.
// it returns the deleted images so the caller can remove their stored artifacts.
func (r *GalleryRepository) Delete(ctx context.Context, id uint) ([]models.Image, error) {
	var images []models.Image
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var gallery models.Gallery
		if err := tx.First(&gallery, id).Error; err != nil {
			return err
		}
		if err := tx.Where("gallery_id = ?", id).Order("order_index ASC").Find(&images).Error; err != nil {
			return err
		}
		for _, model := range []interface{}{&models.Action{}, &models.Visitor{}, &models.DailyStat{}, &models.Image{}} {
			if err := tx.Where("gallery_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.Gallery{}, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to delete gallery ID %d: %w", id, err)
	}
	return images, nil
}
