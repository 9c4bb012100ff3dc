package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/camden-git/gallerydelivery/apperrors"
	"github.com/camden-git/gallerydelivery/credentials"
	"github.com/camden-git/gallerydelivery/models"
	"github.com/camden-git/gallerydelivery/repository"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// UserContextKey is the key used to store the admin user in the request context.
	UserContextKey ContextKey = "user"
	// PrincipalContextKey is the key used to store the verified visitor in the request context.
	PrincipalContextKey ContextKey = "principal"
)

// bearerToken extracts the token of an "Authorization: Bearer <token>" header. an absent
// header yields "", a malformed one an error.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", nil
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", apperrors.ErrInvalidToken.WithDetails("Authorization header format must be Bearer {token}")
	}
	return strings.TrimSpace(parts[1]), nil
}

// AuthMiddleware verifies the admin session token and adds the admin user to the request
// context. with allowQueryToken the token may also come from the access_token query
// parameter, for websocket clients that can not set headers.
func AuthMiddleware(userRepo repository.UserRepository, secret []byte, allowQueryToken bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeAppError(w, r, err)
				return
			}
			if tokenString == "" && allowQueryToken {
				tokenString = r.URL.Query().Get("access_token")
			}
			if tokenString == "" {
				writeAppError(w, r, apperrors.ErrMissingToken)
				return
			}

			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(adminTokenIssuer), jwt.WithExpirationRequired())
			if err != nil || !token.Valid {
				writeAppError(w, r, apperrors.ErrInvalidToken)
				return
			}

			var userID uint
			if _, err := fmt.Sscan(claims.Subject, &userID); err != nil {
				log.Printf("auth: error parsing user id from token subject '%s': %v", claims.Subject, err)
				writeAppError(w, r, apperrors.ErrInvalidToken)
				return
			}

			user, err := userRepo.GetByID(r.Context(), userID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					// deleted after the token was issued
					writeAppError(w, r, apperrors.ErrInvalidToken)
					return
				}
				writeAppError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireGlobalPermission checks that the authenticated admin holds permission. It should
// be used after AuthMiddleware.
func RequireGlobalPermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := r.Context().Value(UserContextKey).(*models.User)
			if !ok || user == nil {
				writeAppError(w, r, apperrors.ErrMissingToken)
				return
			}
			if !user.HasGlobalPermission(permission) {
				writeAppError(w, r, apperrors.ErrForbidden.WithDetails(fmt.Sprintf("requires permission '%s'", permission)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// VisitorMiddleware authenticates the visitor credential of image-scoped routes. routes
// scoped to a gallery path verify against that gallery in the handler instead.
func VisitorMiddleware(verifier *credentials.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err != nil {
				writeAppError(w, r, err)
				return
			}
			principal, err := verifier.Authenticate(r.Context(), raw)
			if err != nil {
				writeAppError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func principalFrom(r *http.Request) (*credentials.Principal, error) {
	principal, ok := r.Context().Value(PrincipalContextKey).(*credentials.Principal)
	if !ok || principal == nil {
		return nil, apperrors.ErrMissingToken
	}
	return principal, nil
}

func adminFrom(r *http.Request) *models.User {
	user, _ := r.Context().Value(UserContextKey).(*models.User)
	return user
}
