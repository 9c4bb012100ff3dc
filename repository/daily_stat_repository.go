package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/camden-git/gallerydelivery/models"
)

// DailyStatRepository handles the per-day rollup cache
type DailyStatRepository struct {
	DB *gorm.DB
}

// NewDailyStatRepository creates a new instance of DailyStatRepository
func NewDailyStatRepository(db *gorm.DB) *DailyStatRepository {
	return &DailyStatRepository{DB: db}
}

// ReplaceRange swaps the cached rows of [fromDay, toDay] for stats in one transaction.
// days are YYYY-MM-DD strings, which compare correctly as text.
func (r *DailyStatRepository) ReplaceRange(ctx context.Context, galleryID uint, fromDay, toDay string, stats []models.DailyStat) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("gallery_id = ? AND day >= ? AND day <= ?", galleryID, fromDay, toDay).
			Delete(&models.DailyStat{}).Error
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			return nil
		}
		for i := range stats {
			stats[i].ID = 0
			stats[i].GalleryID = galleryID
		}
		// a concurrent rebuild may have written the same day between our delete and insert
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gallery_id"}, {Name: "day"}},
			DoUpdates: clause.AssignmentColumns([]string{"unique_visitors", "views", "favorites", "downloads", "updated_at"}),
		}).Create(&stats).Error
	})
	if err != nil {
		return fmt.Errorf("failed to replace daily stats for gallery %d [%s, %s]: %w", galleryID, fromDay, toDay, err)
	}
	return nil
}

// ListRange returns the cached rows of [fromDay, toDay] ordered by day
func (r *DailyStatRepository) ListRange(ctx context.Context, galleryID uint, fromDay, toDay string) ([]models.DailyStat, error) {
	var stats []models.DailyStat
	err := r.DB.WithContext(ctx).
		Where("gallery_id = ? AND day >= ? AND day <= ?", galleryID, fromDay, toDay).
		Order("day ASC").
		Find(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list daily stats for gallery %d: %w", galleryID, err)
	}
	return stats, nil
}
