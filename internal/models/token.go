package models

import "time"

// Reasons recorded when a refresh token leaves the live state.
const (
	RevokeReasonRotated       = "rotated"
	RevokeReasonLogout        = "logout"
	RevokeReasonReuseDetected = "reuse_detected"
)

// RefreshToken is one link of a refresh chain. Only the digest of the bearer
// secret is persisted.
type RefreshToken struct {
	ID           string     `db:"id" json:"id"`
	TokenHash    string     `db:"token_hash" json:"-"`
	AccountID    string     `db:"account_id" json:"account_id"`
	ParentID     *string    `db:"parent_id" json:"parent_id,omitempty"`
	ReplacedBy   *string    `db:"replaced_by" json:"replaced_by,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt    time.Time  `db:"expires_at" json:"expires_at"`
	Revoked      bool       `db:"revoked" json:"revoked"`
	RevokedAt    *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokeReason *string    `db:"revoke_reason" json:"revoke_reason,omitempty"`
	IPAddress    string     `db:"ip_address" json:"ip_address"`
	UserAgent    string     `db:"user_agent" json:"user_agent"`
}

// Live reports whether the token can still be rotated at now.
func (t *RefreshToken) Live(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// RotatedOut reports whether the token was consumed by a normal rotation.
func (t *RefreshToken) RotatedOut() bool {
	return t.Revoked && t.RevokeReason != nil && *t.RevokeReason == RevokeReasonRotated
}
