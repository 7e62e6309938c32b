package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/secure-login-api/internal/models"
	"github.com/noah-isme/secure-login-api/internal/repository"
	appErrors "github.com/noah-isme/secure-login-api/pkg/errors"
)

// maxLockoutRetries bounds the compare-and-swap loop on the lockout counters.
const maxLockoutRetries = 8

// AccountStore persists accounts and their lockout state.
type AccountStore interface {
	Create(ctx context.Context, account *models.Account) error
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByID(ctx context.Context, id string) (*models.Account, error)
	UpdateLockout(ctx context.Context, id string, expectedVersion int64, state models.LockoutState, updatedAt time.Time) (bool, error)
}

type passwordHasher interface {
	NewSalt() (string, error)
	Digest(password, salt string) (string, error)
	Verify(password, salt, encoded string) (bool, error)
}

// AuthStatus is the outcome of a credential check.
type AuthStatus int

// Credential check outcomes.
const (
	StatusInvalidCredentials AuthStatus = iota
	StatusAuthenticated
	StatusLocked
)

func (s AuthStatus) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusLocked:
		return "locked"
	default:
		return "invalid_credentials"
	}
}

// AuthResult is returned by Authenticate. LockTriggered is set on the failure
// that moved the account into the locked state.
type AuthResult struct {
	Status        AuthStatus
	Account       *models.Account
	LockUntil     *time.Time
	LockTriggered bool
}

// AuthenticatorConfig controls the lockout policy.
type AuthenticatorConfig struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
	Clock            func() time.Time
}

// Authenticator registers accounts and checks credentials, maintaining the
// per-account failure counter and lock window.
type Authenticator struct {
	accounts AccountStore
	hasher   passwordHasher
	logger   *zap.Logger
	metrics  *MetricsService
	config   AuthenticatorConfig

	dummyOnce   sync.Once
	dummySalt   string
	dummyDigest string
}

// NewAuthenticator constructs an Authenticator instance.
func NewAuthenticator(accounts AccountStore, hasher passwordHasher, logger *zap.Logger, metrics *MetricsService, config AuthenticatorConfig) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.LockoutThreshold <= 0 {
		config.LockoutThreshold = 5
	}
	if config.LockoutDuration <= 0 {
		config.LockoutDuration = 15 * time.Minute
	}
	return &Authenticator{accounts: accounts, hasher: hasher, logger: logger, metrics: metrics, config: config}
}

// Register creates an account with a fresh salt and digest. Emails are
// stored exactly as given.
func (a *Authenticator) Register(ctx context.Context, email, password string) (*models.Account, error) {
	if email == "" || password == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "email and password are required")
	}

	salt, err := a.hasher.NewSalt()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate salt")
	}
	digest, err := a.digest(password, salt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to derive password digest")
	}

	now := a.config.Clock().UTC()
	account := &models.Account{
		Email:          email,
		PasswordDigest: digest,
		Salt:           salt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := a.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateEmail, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}
	return account, nil
}

// Authenticate checks credentials and applies the lockout policy. The
// returned error is reserved for infrastructure failures; wrong passwords,
// unknown emails and locked accounts are reported through AuthResult.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (AuthResult, error) {
	account, err := a.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			a.burnDummyVerify(password)
			return AuthResult{Status: StatusInvalidCredentials}, nil
		}
		return AuthResult{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch account")
	}

	if account.LockedAt(a.config.Clock()) {
		return lockedResult(account), nil
	}

	matched, err := a.hasher.Verify(password, account.Salt, account.PasswordDigest)
	if err != nil {
		a.logger.Warn("stored password digest rejected", zap.String("account_id", account.ID), zap.Error(err))
		matched = false
	}

	return a.settle(ctx, account, matched)
}

// settle persists the counter transition for one verified attempt. On a
// version conflict the account is reloaded and the transition recomputed,
// including the lock check, so concurrent failures are never lost.
func (a *Authenticator) settle(ctx context.Context, account *models.Account, matched bool) (AuthResult, error) {
	for attempt := 0; attempt < maxLockoutRetries; attempt++ {
		if attempt > 0 {
			reloaded, err := a.accounts.FindByID(ctx, account.ID)
			if err != nil {
				return AuthResult{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload account")
			}
			account = reloaded
		}

		now := a.config.Clock().UTC()
		if account.LockedAt(now) {
			return lockedResult(account), nil
		}

		state, result := a.transition(account, matched, now)
		if result.Status == StatusAuthenticated && account.FailedAttempts == 0 && account.LockUntil == nil {
			return result, nil
		}

		ok, err := a.accounts.UpdateLockout(ctx, account.ID, account.Version, state, now)
		if err != nil {
			return AuthResult{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update lockout state")
		}
		if !ok {
			continue
		}

		account.FailedAttempts = state.FailedAttempts
		account.LockUntil = state.LockUntil
		account.Version++
		account.UpdatedAt = now
		if result.LockTriggered {
			a.metrics.RecordLockout()
			a.logger.Warn("account locked",
				zap.String("account_id", account.ID),
				zap.Time("lock_until", *state.LockUntil),
			)
		}
		return result, nil
	}

	return AuthResult{}, appErrors.Wrap(
		fmt.Errorf("lockout update for account %s lost %d races", account.ID, maxLockoutRetries),
		appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update lockout state",
	)
}

func (a *Authenticator) transition(account *models.Account, matched bool, now time.Time) (models.LockoutState, AuthResult) {
	if matched {
		return models.LockoutState{}, AuthResult{Status: StatusAuthenticated, Account: account}
	}

	attempts := account.FailedAttempts + 1
	if attempts >= a.config.LockoutThreshold {
		until := now.Add(a.config.LockoutDuration)
		return models.LockoutState{FailedAttempts: 0, LockUntil: &until},
			AuthResult{Status: StatusInvalidCredentials, Account: account, LockUntil: &until, LockTriggered: true}
	}
	return models.LockoutState{FailedAttempts: attempts},
		AuthResult{Status: StatusInvalidCredentials, Account: account}
}

func (a *Authenticator) digest(password, salt string) (string, error) {
	start := time.Now()
	digest, err := a.hasher.Digest(password, salt)
	a.metrics.ObservePasswordHash(time.Since(start))
	return digest, err
}

// burnDummyVerify spends one verification on unknown emails so response
// times do not reveal which addresses are registered.
func (a *Authenticator) burnDummyVerify(password string) {
	a.dummyOnce.Do(func() {
		salt, err := a.hasher.NewSalt()
		if err != nil {
			return
		}
		digest, err := a.hasher.Digest("unregistered-account", salt)
		if err != nil {
			return
		}
		a.dummySalt, a.dummyDigest = salt, digest
	})
	if a.dummyDigest == "" {
		return
	}
	_, _ = a.hasher.Verify(password, a.dummySalt, a.dummyDigest)
}

func lockedResult(account *models.Account) AuthResult {
	var until *time.Time
	if account.LockUntil != nil {
		u := *account.LockUntil
		until = &u
	}
	return AuthResult{Status: StatusLocked, Account: account, LockUntil: until}
}
