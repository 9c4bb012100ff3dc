package models

// ActionKind is the kind of a recorded visitor interaction.
type ActionKind string

const (
	ActionView     ActionKind = "VIEW"
	ActionFavorite ActionKind = "FAVORITE"
	ActionDownload ActionKind = "DOWNLOAD"
)

// Action is an immutable log record of one visitor interaction with one image.
// FAVORITE rows are unique per (visitor, image); see database.AutoMigrateModels.
type Action struct {
	ID        uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	VisitorID uint       `gorm:"not null;index" json:"visitorId"`
	ImageID   uint       `gorm:"not null;index" json:"imageId"`
	GalleryID uint       `gorm:"not null;index:idx_actions_gallery_created,priority:1" json:"galleryId"`
	Kind      ActionKind `gorm:"not null;size:16" json:"kind"`
	CreatedAt int64      `gorm:"not null;index:idx_actions_gallery_created,priority:2" json:"createdAt"` // Unix timestamp
}

func (Action) TableName() string {
	return "actions"
}
