package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/secure-login-api/internal/models"
)

const refreshTokenColumns = `id, token_hash, account_id, parent_id, replaced_by, created_at, expires_at, revoked, revoked_at, revoke_reason, ip_address, user_agent`

const insertRefreshToken = `INSERT INTO refresh_tokens (` + refreshTokenColumns + `) VALUES (:id, :token_hash, :account_id, :parent_id, :replaced_by, :created_at, :expires_at, :revoked, :revoked_at, :revoke_reason, :ip_address, :user_agent)`

// RefreshTokenRepository persists refresh chain links. Records are never
// deleted; revocation is a one-way flag.
type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository creates a new instance of RefreshTokenRepository.
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// CreateRefreshToken persists a chain root.
func (r *RefreshTokenRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	prepareRefreshToken(token)
	if _, err := r.db.NamedExecContext(ctx, insertRefreshToken, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshTokenByHash returns a refresh token by the digest of its secret.
func (r *RefreshTokenRepository) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := r.db.Rebind(`SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = ? LIMIT 1`)
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// FindRefreshTokenByID returns a refresh token by identifier.
func (r *RefreshTokenRepository) FindRefreshTokenByID(ctx context.Context, id string) (*models.RefreshToken, error) {
	query := r.db.Rebind(`SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE id = ? LIMIT 1`)
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token by id: %w", err)
	}
	return &rt, nil
}

// RotateRefreshToken revokes currentID and appends next as its successor in
// a single transaction. The revoke is conditional on the current record
// still being live, so of two concurrent rotations only one commits; the
// other gets ErrTokenAlreadyRevoked.
func (r *RefreshTokenRepository) RotateRefreshToken(ctx context.Context, currentID string, next *models.RefreshToken, at time.Time) (err error) {
	prepareRefreshToken(next)
	next.ParentID = &currentID

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotate: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	revoke := tx.Rebind(`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = ?, revoke_reason = ? WHERE id = ? AND revoked = FALSE`)
	res, err := tx.ExecContext(ctx, revoke, at, models.RevokeReasonRotated, currentID)
	if err != nil {
		return fmt.Errorf("revoke rotated token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke rotated token rows: %w", err)
	}
	if affected != 1 {
		return ErrTokenAlreadyRevoked
	}

	if _, err = tx.NamedExecContext(ctx, insertRefreshToken, next); err != nil {
		return fmt.Errorf("insert successor token: %w", err)
	}

	link := tx.Rebind(`UPDATE refresh_tokens SET replaced_by = ? WHERE id = ?`)
	if _, err = tx.ExecContext(ctx, link, next.ID, currentID); err != nil {
		return fmt.Errorf("link successor token: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit rotate: %w", err)
	}
	return nil
}

// RevokeRefreshToken marks a token revoked if it is still live. It reports
// whether this call performed the transition.
func (r *RefreshTokenRepository) RevokeRefreshToken(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	query := r.db.Rebind(`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = ?, revoke_reason = ? WHERE id = ? AND revoked = FALSE`)
	res, err := r.db.ExecContext(ctx, query, at, reason, id)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token rows: %w", err)
	}
	return affected == 1, nil
}

func prepareRefreshToken(token *models.RefreshToken) {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
}
