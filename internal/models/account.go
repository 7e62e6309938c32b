package models

import "time"

// Account is a registered credential holder stored in the accounts table.
type Account struct {
	ID             string     `db:"id" json:"id"`
	Email          string     `db:"email" json:"email"`
	PasswordDigest string     `db:"password_digest" json:"-"`
	Salt           string     `db:"salt" json:"-"`
	FailedAttempts int        `db:"failed_attempts" json:"-"`
	LockUntil      *time.Time `db:"lock_until" json:"-"`
	Version        int64      `db:"version" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// LockedAt reports whether authentication is refused at now.
func (a *Account) LockedAt(now time.Time) bool {
	return a.LockUntil != nil && now.Before(*a.LockUntil)
}

// LockoutState is the mutable part of an account owned by the authenticator.
type LockoutState struct {
	FailedAttempts int
	LockUntil      *time.Time
}
