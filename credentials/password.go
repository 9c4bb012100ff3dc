package credentials

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashGalleryPassword returns the stored form of a gallery password: hex SHA-256.
func HashGalleryPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// CheckGalleryPassword compares the digest of supplied against storedHash in constant time.
func CheckGalleryPassword(storedHash, supplied string) bool {
	candidate := HashGalleryPassword(supplied)
	stored := strings.ToLower(strings.TrimSpace(storedHash))
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(stored)) == 1
}
