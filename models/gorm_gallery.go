package models

// Gallery is a named, access-controlled collection of images for one client shoot.
// It corresponds to the 'galleries' table.
type Gallery struct {
	ID              uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	Slug            string  `gorm:"not null;uniqueIndex" json:"slug"`
	Title           string  `gorm:"not null" json:"title"`
	Description     *string `gorm:"" json:"description,omitempty"`   // Nullable
	CoverImageURL   *string `gorm:"" json:"coverImageUrl,omitempty"` // Nullable, thumbnail address of the cover image
	IsPublic        bool    `gorm:"not null;default:false" json:"isPublic"`
	PasswordHash    *string `gorm:"" json:"-"`                       // Nullable, hex SHA-256 of the gallery password
	DownloadEnabled bool    `gorm:"not null" json:"downloadEnabled"`
	ClientID        *uint   `gorm:"index" json:"clientId,omitempty"` // Nullable, owning CRM client
	ExpiresAt       *int64  `gorm:"" json:"expiresAt,omitempty"`     // Nullable, Unix timestamp
	CreatedAt       int64   `gorm:"not null" json:"createdAt"`       // Unix timestamp
	UpdatedAt       int64   `gorm:"not null" json:"updatedAt"`       // Unix timestamp
}

// TableName explicitly sets the table name for GORM.
func (Gallery) TableName() string {
	return "galleries"
}

// IsPasswordProtected reports whether visitors must present the gallery password.
func (g *Gallery) IsPasswordProtected() bool {
	return g.PasswordHash != nil && *g.PasswordHash != ""
}

// IsExpired reports whether the gallery expiry has passed at the given Unix time.
func (g *Gallery) IsExpired(now int64) bool {
	return g.ExpiresAt != nil && *g.ExpiresAt <= now
}
