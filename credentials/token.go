package credentials

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "gallerydelivery"

// Claims is the payload of a visitor credential. AccessToken must equal the visitor's
// stored opaque token for the credential to verify.
type Claims struct {
	VisitorID   uint   `json:"vid"`
	GalleryID   uint   `json:"gid"`
	AccessToken string `json:"tok"`
	jwt.RegisteredClaims
}

// Signer mints and parses HS256 visitor credentials with a fixed secret and lifetime.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a Signer. secret must not be empty.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("credential signing secret must not be empty")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("credential ttl must be positive, got %s", ttl)
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Sign mints a credential for the visitor and returns it with its expiry.
func (s *Signer) Sign(visitorID, galleryID uint, accessToken string) (string, time.Time, error) {
	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.ttl)
	claims := &Claims{
		VisitorID:   visitorID,
		GalleryID:   galleryID,
		AccessToken: accessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(visitorID),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        fmt.Sprintf("%d-%d", visitorID, issuedAt.UnixNano()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign credential: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse checks the signature, algorithm and expiry of raw and returns its claims.
func (s *Signer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	if claims.VisitorID == 0 || claims.GalleryID == 0 || claims.AccessToken == "" {
		return nil, fmt.Errorf("token is missing required claims")
	}
	return claims, nil
}
