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

const accountColumns = `id, email, password_digest, salt, failed_attempts, lock_until, version, created_at, updated_at`

// AccountRepository stores credential records. It holds no password logic;
// its only constraint is email uniqueness.
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new instance of AccountRepository.
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = account.CreatedAt

	const query = `INSERT INTO accounts (` + accountColumns + `) VALUES (:id, :email, :password_digest, :salt, :failed_attempts, :lock_until, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, account); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// FindByEmail returns an account by its exact email.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := r.db.Rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE email = ? LIMIT 1`)
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find account by email: %w", err)
	}
	return &account, nil
}

// FindByID returns an account by identifier.
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	query := r.db.Rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE id = ? LIMIT 1`)
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find account by id: %w", err)
	}
	return &account, nil
}

// UpdateLockout persists the lockout counters only if the stored version
// still equals expectedVersion. It reports false when another writer got
// there first.
func (r *AccountRepository) UpdateLockout(ctx context.Context, id string, expectedVersion int64, state models.LockoutState, updatedAt time.Time) (bool, error) {
	query := r.db.Rebind(`UPDATE accounts SET failed_attempts = ?, lock_until = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`)
	res, err := r.db.ExecContext(ctx, query, state.FailedAttempts, state.LockUntil, updatedAt, id, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("update lockout: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update lockout rows: %w", err)
	}
	return affected == 1, nil
}
