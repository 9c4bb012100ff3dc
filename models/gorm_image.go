package models

// Image is one uploaded photo and its derivatives. It belongs to exactly one gallery.
// It corresponds to the 'images' table.
type Image struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	GalleryID  uint   `gorm:"not null;uniqueIndex:idx_images_gallery_order,priority:1" json:"galleryId"`
	OrderIndex int    `gorm:"not null;uniqueIndex:idx_images_gallery_order,priority:2" json:"orderIndex"`
	Filename   string `gorm:"not null" json:"filename"`

	// storage keys, relative to the blob store root
	OriginalKey  string `gorm:"not null" json:"-"`
	DisplayKey   string `gorm:"not null" json:"-"`
	ThumbnailKey string `gorm:"not null" json:"-"`

	OriginalURL  string `gorm:"not null" json:"originalUrl"`
	DisplayURL   string `gorm:"not null" json:"displayUrl"`
	ThumbnailURL string `gorm:"not null" json:"thumbnailUrl"`

	SizeBytes   int64  `gorm:"not null" json:"sizeBytes"`
	ContentType string `gorm:"not null" json:"contentType"`
	Width       int    `gorm:"not null" json:"width"`
	Height      int    `gorm:"not null" json:"height"`
	CapturedAt  *int64 `gorm:"" json:"capturedAt,omitempty"` // Nullable, Unix timestamp from EXIF
	UploadedAt  int64  `gorm:"not null" json:"uploadedAt"`   // Unix timestamp
}

// TableName explicitly sets the table name for GORM.
func (Image) TableName() string {
	return "images"
}
