package models

// Visitor is an authenticated viewer of one gallery, keyed by (gallery, email).
type Visitor struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	GalleryID uint   `gorm:"not null;uniqueIndex:idx_visitors_gallery_email,priority:1" json:"galleryId"`
	Email     string `gorm:"not null;uniqueIndex:idx_visitors_gallery_email,priority:2" json:"email"`
	// AccessToken is embedded in every credential issued to this visitor. rotating it
	// invalidates all outstanding credentials.
	AccessToken string `gorm:"not null" json:"-"`
	CreatedAt   int64  `gorm:"not null" json:"createdAt"`
	LastSeenAt  int64  `gorm:"not null" json:"lastSeenAt"`
}

func (Visitor) TableName() string {
	return "visitors"
}
