package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RegisterRequest holds the credentials for a new account.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// RefreshTokenRequest exchanges a refresh token for a new token pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// ClientMeta describes the caller of an auth operation.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// TokenPair is handed to the transport layer, which delivers both values as
// cookies.
type TokenPair struct {
	AccessToken      string    `json:"-"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"-"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	AccountID        string    `json:"account_id"`
}

// AccountInfo describes the authenticated account in responses.
type AccountInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// SessionResponse is returned by login and refresh. Token values travel in
// cookies only.
type SessionResponse struct {
	OK               bool      `json:"ok"`
	AccountID        string    `json:"account_id"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// RegisterResponse is returned after a successful registration.
type RegisterResponse struct {
	OK      bool        `json:"ok"`
	Account AccountInfo `json:"account"`
}

// StatusResponse is a bare acknowledgement.
type StatusResponse struct {
	OK bool `json:"ok"`
}
