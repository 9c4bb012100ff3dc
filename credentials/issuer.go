// Package credentials issues and verifies the gallery-scoped access credentials visitors
// present on every gallery call.
package credentials

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/camden-git/gallerydelivery/apperrors"
	"github.com/camden-git/gallerydelivery/repository"
)

// Issued is the result of a successful gallery authentication.
type Issued struct {
	Token     string
	ExpiresAt time.Time
	VisitorID uint
	GalleryID uint
	Created   bool // first authentication of this email to this gallery
}

// Issuer authenticates visitors against a gallery and mints their credentials.
type Issuer struct {
	galleries repository.GalleryRepositoryInterface
	visitors  repository.VisitorRepositoryInterface
	signer    *Signer
	now       func() time.Time
}

func NewIssuer(galleries repository.GalleryRepositoryInterface, visitors repository.VisitorRepositoryInterface, signer *Signer) *Issuer {
	return &Issuer{galleries: galleries, visitors: visitors, signer: signer, now: time.Now}
}

// Issue resolves the gallery by slug, checks the password when the gallery has one, and
// returns a fresh credential for the (gallery, email) visitor. repeated calls with the same
// email reuse the visitor and return a new credential each time.
func (i *Issuer) Issue(ctx context.Context, slug, email, password string) (*Issued, error) {
	email = repository.NormalizeEmail(email)
	if email == "" {
		return nil, apperrors.ErrValidationFailed.WithFields([]apperrors.FieldError{
			{Field: "email", Message: "email is required"},
		})
	}

	gallery, err := i.galleries.GetBySlug(ctx, strings.TrimSpace(slug))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrGalleryNotFound
		}
		return nil, apperrors.Wrap(err, "credential issuer: gallery lookup")
	}
	if gallery.IsExpired(i.now().Unix()) {
		return nil, apperrors.ErrGalleryNotFound
	}

	if gallery.IsPasswordProtected() {
		if password == "" || !CheckGalleryPassword(*gallery.PasswordHash, password) {
			return nil, apperrors.ErrAuthenticationFailed
		}
	}

	visitor, created, err := i.visitors.GetOrCreate(ctx, gallery.ID, email)
	if err != nil {
		return nil, apperrors.Wrap(err, "credential issuer: visitor lookup")
	}
	if !created {
		if err := i.visitors.Touch(ctx, visitor.ID, i.now().Unix()); err != nil {
			log.Printf("credentials: failed to update last seen for visitor %d: %v", visitor.ID, err)
		}
	}

	token, expiresAt, err := i.signer.Sign(visitor.ID, gallery.ID, visitor.AccessToken)
	if err != nil {
		return nil, apperrors.Wrap(err, "credential issuer")
	}
	return &Issued{
		Token:     token,
		ExpiresAt: expiresAt,
		VisitorID: visitor.ID,
		GalleryID: gallery.ID,
		Created:   created,
	}, nil
}
