package repository

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/secure-login-api/internal/models"
)

// MemoryStore keeps accounts, refresh chains and audit rows in process
// memory. It honours the same conditional-write contract as the SQL
// repositories and backs DB_DRIVER=memory and the service tests.
type MemoryStore struct {
	mu            sync.Mutex
	accounts      map[string]*models.Account
	accountEmails map[string]string
	tokens        map[string]*models.RefreshToken
	tokenHashes   map[string]string
	audits        []models.AuditLog
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[string]*models.Account),
		accountEmails: make(map[string]string),
		tokens:        make(map[string]*models.RefreshToken),
		tokenHashes:   make(map[string]string),
	}
}

// Create inserts a new account.
func (s *MemoryStore) Create(ctx context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accountEmails[account.Email]; exists {
		return ErrDuplicateEmail
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	account.UpdatedAt = account.CreatedAt

	stored := copyAccount(account)
	s.accounts[stored.ID] = stored
	s.accountEmails[stored.Email] = stored.ID
	return nil
}

// FindByEmail returns a copy of the account with the exact email.
func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.accountEmails[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return copyAccount(s.accounts[id]), nil
}

// FindByID returns a copy of the account.
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return copyAccount(account), nil
}

// UpdateLockout mirrors AccountRepository.UpdateLockout.
func (s *MemoryStore) UpdateLockout(ctx context.Context, id string, expectedVersion int64, state models.LockoutState, updatedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok || account.Version != expectedVersion {
		return false, nil
	}
	account.FailedAttempts = state.FailedAttempts
	account.LockUntil = copyTime(state.LockUntil)
	account.Version++
	account.UpdatedAt = updatedAt
	return true, nil
}

// CreateRefreshToken persists a chain root.
func (s *MemoryStore) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepareRefreshToken(token)
	s.insertTokenLocked(token)
	return nil
}

// FindRefreshTokenByHash returns a copy of the token with the given digest.
func (s *MemoryStore) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.tokenHashes[tokenHash]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return copyToken(s.tokens[id]), nil
}

// FindRefreshTokenByID returns a copy of the token.
func (s *MemoryStore) FindRefreshTokenByID(ctx context.Context, id string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return copyToken(token), nil
}

// RotateRefreshToken mirrors RefreshTokenRepository.RotateRefreshToken.
func (s *MemoryStore) RotateRefreshToken(ctx context.Context, currentID string, next *models.RefreshToken, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tokens[currentID]
	if !ok || current.Revoked {
		return ErrTokenAlreadyRevoked
	}

	prepareRefreshToken(next)
	next.ParentID = &currentID

	reason := models.RevokeReasonRotated
	current.Revoked = true
	current.RevokedAt = copyTime(&at)
	current.RevokeReason = &reason
	nextID := next.ID
	current.ReplacedBy = &nextID

	s.insertTokenLocked(next)
	return nil
}

// RevokeRefreshToken mirrors RefreshTokenRepository.RevokeRefreshToken.
func (s *MemoryStore) RevokeRefreshToken(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok || token.Revoked {
		return false, nil
	}
	token.Revoked = true
	token.RevokedAt = copyTime(&at)
	token.RevokeReason = &reason
	return true, nil
}

// CreateAuditLog appends an audit row.
func (s *MemoryStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	s.audits = append(s.audits, *log)
	return nil
}

// AuditLogs returns a snapshot of the recorded audit rows.
func (s *MemoryStore) AuditLogs() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.AuditLog, len(s.audits))
	copy(out, s.audits)
	return out
}

func (s *MemoryStore) insertTokenLocked(token *models.RefreshToken) {
	stored := copyToken(token)
	s.tokens[stored.ID] = stored
	s.tokenHashes[stored.TokenHash] = stored.ID
}

func copyAccount(a *models.Account) *models.Account {
	c := *a
	c.LockUntil = copyTime(a.LockUntil)
	return &c
}

func copyToken(t *models.RefreshToken) *models.RefreshToken {
	c := *t
	c.ParentID = copyString(t.ParentID)
	c.ReplacedBy = copyString(t.ReplacedBy)
	c.RevokedAt = copyTime(t.RevokedAt)
	c.RevokeReason = copyString(t.RevokeReason)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
