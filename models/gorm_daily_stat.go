package models

// DailyStat is a per-gallery, per-day rollup of the action log. It is a cache and can be
// rebuilt from the actions table at any time.
type DailyStat struct {
	ID             uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	GalleryID      uint   `gorm:"not null;uniqueIndex:idx_daily_stats_gallery_day,priority:1" json:"galleryId"`
	Day            string `gorm:"not null;size:10;uniqueIndex:idx_daily_stats_gallery_day,priority:2" json:"day"` // YYYY-MM-DD, UTC
	UniqueVisitors int64  `gorm:"not null;default:0" json:"uniqueVisitors"`
	Views          int64  `gorm:"not null;default:0" json:"views"`
	Favorites      int64  `gorm:"not null;default:0" json:"favorites"`
	Downloads      int64  `gorm:"not null;default:0" json:"downloads"`
	UpdatedAt      int64  `gorm:"not null" json:"updatedAt"`
}

func (DailyStat) TableName() string {
	return "daily_stats"
}
