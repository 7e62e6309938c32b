package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/secure-login-api/internal/models"
	appErrors "github.com/noah-isme/secure-login-api/pkg/errors"
)

// TokenConfig defines signing keys and lifetimes for issued tokens.
type TokenConfig struct {
	AccessTokenSecret  string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	RefreshSecretBytes int
	Issuer             string
	Audience           []string
	Clock              func() time.Time
}

// TokenService mints stateless access tokens and opaque refresh secrets.
type TokenService struct {
	config TokenConfig
}

// NewTokenService constructs a TokenService instance.
func NewTokenService(config TokenConfig) *TokenService {
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.RefreshSecretBytes <= 0 {
		config.RefreshSecretBytes = 64
	}
	return &TokenService{config: config}
}

// IssueAccessToken signs a short-lived HS256 token for accountID.
func (s *TokenService) IssueAccessToken(accountID string) (string, time.Time, error) {
	issuedAt := s.config.Clock().UTC()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := &models.JWTClaims{
		UserID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   accountID,
			Audience:  s.config.Audience,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateAccessToken parses and validates an access token. Every failure
// (bad signature, wrong algorithm, expiry, malformed input) is reported as
// the same UNAUTHORIZED error.
func (s *TokenService) ValidateAccessToken(tokenString string) (*models.JWTClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.config.Clock),
		jwt.WithExpirationRequired(),
	}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	if len(s.config.Audience) > 0 {
		opts = append(opts, jwt.WithAudience(s.config.Audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.AccessTokenSecret), nil
	}, opts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, appErrors.ErrUnauthorized.Message)
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}
	return claims, nil
}

// GenerateRefreshSecret returns a fresh high-entropy secret for the client
// and the digest to persist. The plaintext must never be logged or stored.
func (s *TokenService) GenerateRefreshSecret() (plaintext string, digest string, err error) {
	buf := make([]byte, s.config.RefreshSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate refresh secret: %w", err)
	}
	plaintext = hex.EncodeToString(buf)
	return plaintext, DigestRefreshSecret(plaintext), nil
}

// RefreshTokenExpiry is the lifetime of a refresh chain link.
func (s *TokenService) RefreshTokenExpiry() time.Duration {
	return s.config.RefreshTokenExpiry
}

// AccessTokenExpiry is the lifetime of an access token.
func (s *TokenService) AccessTokenExpiry() time.Duration {
	return s.config.AccessTokenExpiry
}

// DigestRefreshSecret is the one-way digest under which refresh secrets are
// stored and looked up.
func DigestRefreshSecret(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
