package credentials

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/gallerydelivery/apperrors"
	"github.com/camden-git/gallerydelivery/repository"
)

// Principal is the verified identity behind a visitor credential.
type Principal struct {
	VisitorID uint
	GalleryID uint
}

// Verifier checks presented credentials before any gallery-scoped operation.
type Verifier struct {
	signer   *Signer
	visitors repository.VisitorRepositoryInterface
	timeout  time.Duration
}

// NewVerifier creates a Verifier. timeout bounds the visitor lookup; zero disables it.
func NewVerifier(signer *Signer, visitors repository.VisitorRepositoryInterface, timeout time.Duration) *Verifier {
	return &Verifier{signer: signer, visitors: visitors, timeout: timeout}
}

// Authenticate decodes raw and confirms it still belongs to its visitor: the visitor must
// exist in the claimed gallery and hold the embedded access token.
func (v *Verifier) Authenticate(ctx context.Context, raw string) (*Principal, error) {
	claims, err := v.decode(raw)
	if err != nil {
		return nil, err
	}
	return v.confirm(ctx, claims)
}

// Verify authenticates raw and requires it to have been issued for galleryID. the gallery
// match is checked on the decoded claims before anything else, so a credential for one
// gallery never authorizes another.
func (v *Verifier) Verify(ctx context.Context, raw string, galleryID uint) (*Principal, error) {
	claims, err := v.decode(raw)
	if err != nil {
		return nil, err
	}
	if claims.GalleryID != galleryID {
		return nil, apperrors.ErrTokenGalleryMismatch
	}
	return v.confirm(ctx, claims)
}

func (v *Verifier) decode(raw string) (*Claims, error) {
	if raw == "" {
		return nil, apperrors.ErrMissingToken
	}
	claims, err := v.signer.Parse(raw)
	if err != nil {
		return nil, apperrors.ErrInvalidToken
	}
	return claims, nil
}

func (v *Verifier) confirm(ctx context.Context, claims *Claims) (*Principal, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	visitor, err := v.visitors.GetByID(ctx, claims.VisitorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrInvalidToken
		}
		log.Printf("credentials: visitor lookup failed for visitor %d: %v", claims.VisitorID, err)
		return nil, apperrors.Wrap(err, "credential verifier")
	}
	if visitor.GalleryID != claims.GalleryID {
		return nil, apperrors.ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(visitor.AccessToken), []byte(claims.AccessToken)) != 1 {
		return nil, apperrors.ErrInvalidToken
	}

	return &Principal{VisitorID: claims.VisitorID, GalleryID: claims.GalleryID}, nil
}

// RequireGallery fails with ErrTokenGalleryMismatch unless the principal belongs to galleryID.
func (p *Principal) RequireGallery(galleryID uint) error {
	if p == nil || p.GalleryID != galleryID {
		return apperrors.ErrTokenGalleryMismatch
	}
	return nil
}
