package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/camden-git/gallerydelivery/apperrors"
	"github.com/camden-git/gallerydelivery/models"
	"github.com/camden-git/gallerydelivery/permissions"
	"github.com/camden-git/gallerydelivery/repository"
)

const adminTokenIssuer = "gallerydelivery-admin"

// AuthHandler handles studio admin sessions.
type AuthHandler struct {
	UserRepo   repository.UserRepository
	Secret     []byte
	SessionTTL time.Duration
}

func NewAuthHandler(userRepo repository.UserRepository, secret string, sessionTTL time.Duration) *AuthHandler {
	return &AuthHandler{UserRepo: userRepo, Secret: []byte(secret), SessionTTL: sessionTTL}
}

type LoginPayload struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=256"`
}

type LoginResponse struct {
	Token     string      `json:"token"`
	User      models.User `json:"user"`
	ExpiresAt int64       `json:"expiresAt"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload LoginPayload
	if err := decodeAndValidate(w, r, &payload); err != nil {
		writeAppError(w, r, err)
		return
	}

	user, err := h.UserRepo.GetByUsername(r.Context(), payload.Username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeAppError(w, r, apperrors.ErrInvalidLogin)
			return
		}
		writeAppError(w, r, err)
		return
	}
	if !user.CheckPassword(payload.Password) {
		writeAppError(w, r, apperrors.ErrInvalidLogin)
		return
	}

	tokenString, expirationTime, err := h.issue(user)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	loginAt := time.Now().Unix()
	if err := h.UserRepo.RecordLogin(r.Context(), user.ID, loginAt); err != nil {
		log.Printf("Warning: %v", err)
	} else {
		user.LastLoginAt = &loginAt
	}
	log.Printf("auth: admin %s logged in", user.Username)

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     tokenString,
		User:      *user,
		ExpiresAt: expirationTime.Unix(),
	})
}

func (h *AuthHandler) issue(user *models.User) (string, time.Time, error) {
	now := time.Now()
	expirationTime := now.Add(h.SessionTTL)
	claims := &jwt.RegisteredClaims{
		Subject:   fmt.Sprint(user.ID),
		ExpiresAt: jwt.NewNumericDate(expirationTime),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    adminTokenIssuer,
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign admin token: %w", err)
	}
	return tokenString, expirationTime, nil
}

// CurrentUser returns the authenticated admin. It should be protected by AuthMiddleware.
func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	user := adminFrom(r)
	if user == nil {
		writeAppError(w, r, apperrors.ErrMissingToken)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// BootstrapAdmin creates the first admin with every permission when no users exist. it is
// a no-op once any user exists, and when username or password is empty.
func BootstrapAdmin(ctx context.Context, userRepo repository.UserRepository, username, password string) error {
	count, err := userRepo.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return nil
	}
	if username == "" || password == "" {
		log.Printf("Warning: no admin users exist and ADMIN_USERNAME/ADMIN_PASSWORD are not set")
		return nil
	}

	user := &models.User{
		Username:          username,
		GlobalPermissions: permissions.GetAllPermissionKeys(),
	}
	if err := user.SetPassword(password); err != nil {
		return fmt.Errorf("failed to hash bootstrap admin password: %w", err)
	}
	if err := userRepo.Create(ctx, user); err != nil {
		return fmt.Errorf("failed to create bootstrap admin %s: %w", username, err)
	}
	log.Printf("Created bootstrap admin '%s' with all permissions", username)
	return nil
}
