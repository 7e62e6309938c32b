package models

import "time"

// AuditAction constants represent authentication events.
const (
	AuditActionRegister     = "REGISTER"
	AuditActionLogin        = "LOGIN"
	AuditActionLoginFailed  = "LOGIN_FAILED"
	AuditActionLocked       = "ACCOUNT_LOCKED"
	AuditActionRefresh      = "TOKEN_REFRESH"
	AuditActionTokenReuse   = "TOKEN_REUSE"
	AuditActionLogout       = "LOGOUT"
	AuditActionChainRevoked = "CHAIN_REVOKED"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	AccountID  *string   `db:"account_id" json:"account_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	Details    string    `db:"details" json:"details,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
