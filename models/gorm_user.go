package models

import (
	"slices"

	"golang.org/x/crypto/bcrypt"
)

// User is a studio administrator. Admin routes check GlobalPermissions against the keys in
// the permissions package.
type User struct {
	ID                uint     `gorm:"primaryKey;autoIncrement" json:"id"`
	Username          string   `gorm:"not null;uniqueIndex" json:"username"`
	PasswordHash      string   `gorm:"not null" json:"-"`
	GlobalPermissions []string `gorm:"serializer:json" json:"globalPermissions"`
	LastLoginAt       *int64   `gorm:"" json:"lastLoginAt,omitempty"`  // Nullable, Unix timestamp
	CreatedAt         int64    `gorm:"autoCreateTime" json:"createdAt"` // Unix timestamp
	UpdatedAt         int64    `gorm:"autoUpdateTime" json:"updatedAt"` // Unix timestamp
}

// SetPassword stores the bcrypt hash of password.
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

// CheckPassword reports whether password matches the stored hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

func (u *User) HasGlobalPermission(permission string) bool {
	return slices.Contains(u.GlobalPermissions, permission)
}
