package database

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IsUniqueConstraintViolation reports whether err came from a UNIQUE index rejecting a row.
func IsUniqueConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsBusy reports whether sqlite refused the statement because another writer holds the lock.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
