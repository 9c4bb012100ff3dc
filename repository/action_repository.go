package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/gallerydelivery/database"
	"github.com/camden-git/gallerydelivery/models"
)

// ActionRepository handles writes to and reads from the visitor action log
type ActionRepository struct {
	DB *gorm.DB
}

// NewActionRepository creates a new instance of ActionRepository
func NewActionRepository(db *gorm.DB) *ActionRepository {
	return &ActionRepository{DB: db}
}

// Record appends one action to the log
func (r *ActionRepository) Record(ctx context.Context, action *models.Action) error {
	if action.CreatedAt == 0 {
		action.CreatedAt = time.Now().Unix()
	}
	err := r.DB.WithContext(ctx).Create(action).Error
	if err != nil {
		return fmt.Errorf("failed to record %s action for image %d: %w", action.Kind, action.ImageID, err)
	}
	return nil
}

// ToggleFavorite flips the visitor's favorite on an image and reports the new state.
// an existing FAVORITE row is deleted (false); otherwise one is inserted (true). when a
// concurrent toggle inserted the row first, the unique favorite index rejects ours and the
// image is favorited either way, so the result is true.
func (r *ActionRepository) ToggleFavorite(ctx context.Context, visitorID, imageID, galleryID uint, at int64) (bool, error) {
	var favorited bool
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("visitor_id = ? AND image_id = ? AND kind = ?", visitorID, imageID, models.ActionFavorite).
			Delete(&models.Action{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			favorited = false
			return nil
		}

		favorited = true
		return tx.Create(&models.Action{
			VisitorID: visitorID,
			ImageID:   imageID,
			GalleryID: galleryID,
			Kind:      models.ActionFavorite,
			CreatedAt: at,
		}).Error
	})
	if err != nil {
		if database.IsUniqueConstraintViolation(err) {
			return true, nil
		}
		return false, fmt.Errorf("failed to toggle favorite for visitor %d image %d: %w", visitorID, imageID, err)
	}
	return favorited, nil
}

// FavoriteImageIDs returns the set of images the visitor has favorited in a gallery
func (r *ActionRepository) FavoriteImageIDs(ctx context.Context, visitorID, galleryID uint) (map[uint]struct{}, error) {
	var ids []uint
	err := r.DB.WithContext(ctx).Model(&models.Action{}).
		Where("visitor_id = ? AND gallery_id = ? AND kind = ?", visitorID, galleryID, models.ActionFavorite).
		Pluck("image_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load favorites for visitor %d: %w", visitorID, err)
	}
	set := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// CountByKind counts a gallery's actions of one kind
func (r *ActionRepository) CountByKind(ctx context.Context, galleryID uint, kind models.ActionKind) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&models.Action{}).
		Where("gallery_id = ? AND kind = ?", galleryID, kind).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count %s actions for gallery %d: %w", kind, galleryID, err)
	}
	return count, nil
}
