package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/secure-login-api/internal/models"
	"github.com/noah-isme/secure-login-api/internal/repository"
	appErrors "github.com/noah-isme/secure-login-api/pkg/errors"
)

func TestAuthenticatorRegister(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	account, err := f.authenticator.Register(ctx, "alice@example.com", "correct-horse")
	require.NoError(t, err)
	assert.NotEmpty(t, account.ID)
	assert.Len(t, account.Salt, 32)
	assert.NotContains(t, account.PasswordDigest, "correct-horse")

	stored, err := f.store.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailedAttempts)
	assert.Nil(t, stored.LockUntil)
}

func TestAuthenticatorRegisterMissingFields(t *testing.T) {
	f := newAuthFixture(t)
	for _, tc := range []struct{ email, password string }{
		{"", "pw"},
		{"a@example.com", ""},
		{"", ""},
	} {
		_, err := f.authenticator.Register(context.Background(), tc.email, tc.password)
		require.Error(t, err)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
		assert.Equal(t, 400, appErr.Status)
	}
}

func TestAuthenticatorRegisterDuplicate(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.authenticator.Register(ctx, "alice@example.com", "pw-one")
	require.NoError(t, err)

	_, err = f.authenticator.Register(ctx, "alice@example.com", "pw-two")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrDuplicateEmail.Code, appErr.Code)
	assert.Equal(t, 400, appErr.Status)

	_, err = f.authenticator.Register(ctx, "Alice@example.com", "pw-three")
	assert.NoError(t, err)
}

func TestAuthenticatorUnknownEmail(t *testing.T) {
	f := newAuthFixture(t)
	result, err := f.authenticator.Authenticate(context.Background(), "nobody@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidCredentials, result.Status)
	assert.Nil(t, result.Account)
}

func TestAuthenticatorLocksAfterThreshold(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, err := f.authenticator.Register(ctx, "bob@example.com", "right-password")
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		result, err := f.authenticator.Authenticate(ctx, "bob@example.com", "wrong-password")
		require.NoError(t, err)
		assert.Equal(t, StatusInvalidCredentials, result.Status, "attempt %d", i)
		assert.Equal(t, i == 5, result.LockTriggered, "attempt %d", i)
	}

	stored, err := f.store.FindByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailedAttempts)
	require.NotNil(t, stored.LockUntil)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), *stored.LockUntil)

	result, err := f.authenticator.Authenticate(ctx, "bob@example.com", "right-password")
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, result.Status)
	require.NotNil(t, result.LockUntil)
	assert.Equal(t, *stored.LockUntil, *result.LockUntil)

	result, err = f.authenticator.Authenticate(ctx, "bob@example.com", "wrong-password")
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, result.Status)

	stored, err = f.store.FindByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailedAttempts, "locked attempts are not counted")
}

func TestAuthenticatorLockExpires(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, err := f.authenticator.Register(ctx, "bob@example.com", "right-password")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.authenticator.Authenticate(ctx, "bob@example.com", "wrong-password")
		require.NoError(t, err)
	}

	f.clock.Advance(15*time.Minute - time.Second)
	result, err := f.authenticator.Authenticate(ctx, "bob@example.com", "right-password")
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, result.Status)

	f.clock.Advance(2 * time.Second)
	result, err = f.authenticator.Authenticate(ctx, "bob@example.com", "right-password")
	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, result.Status)

	stored, err := f.store.FindByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Nil(t, stored.LockUntil)
	assert.Equal(t, 0, stored.FailedAttempts)
}

func TestAuthenticatorSuccessResetsCounter(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, err := f.authenticator.Register(ctx, "carol@example.com", "right-password")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := f.authenticator.Authenticate(ctx, "carol@example.com", "wrong-password")
		require.NoError(t, err)
	}
	stored, err := f.store.FindByEmail(ctx, "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, 4, stored.FailedAttempts)

	result, err := f.authenticator.Authenticate(ctx, "carol@example.com", "right-password")
	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, result.Status)

	stored, err = f.store.FindByEmail(ctx, "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailedAttempts)

	for i := 0; i < 4; i++ {
		result, err := f.authenticator.Authenticate(ctx, "carol@example.com", "wrong-password")
		require.NoError(t, err)
		assert.Equal(t, StatusInvalidCredentials, result.Status)
	}
	result, err = f.authenticator.Authenticate(ctx, "carol@example.com", "right-password")
	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, result.Status)
}

func TestAuthenticatorCorruptDigestIsMismatch(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, &models.Account{
		Email:          "dave@example.com",
		PasswordDigest: "not-a-digest",
		Salt:           "00112233445566778899aabbccddeeff",
	}))

	result, err := f.authenticator.Authenticate(ctx, "dave@example.com", "anything")
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidCredentials, result.Status)

	stored, err := f.store.FindByEmail(ctx, "dave@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailedAttempts)
}

func TestAuthenticatorConcurrentFailuresAreCounted(t *testing.T) {
	store := repository.NewMemoryStore()
	clock := newTestClock()
	authenticator := NewAuthenticator(store, newFastHasher(t), zap.NewNop(), nil, AuthenticatorConfig{
		LockoutThreshold: 10,
		LockoutDuration:  15 * time.Minute,
		Clock:            clock.Now,
	})
	ctx := context.Background()
	_, err := authenticator.Register(ctx, "erin@example.com", "right-password")
	require.NoError(t, err)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := authenticator.Authenticate(ctx, "erin@example.com", "wrong-password")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := store.FindByEmail(ctx, "erin@example.com")
	require.NoError(t, err)
	assert.Equal(t, attempts, stored.FailedAttempts)
}

type contendedStore struct {
	*repository.MemoryStore
}

func (s contendedStore) UpdateLockout(ctx context.Context, id string, expectedVersion int64, state models.LockoutState, updatedAt time.Time) (bool, error) {
	return false, nil
}

func TestAuthenticatorGivesUpAfterBoundedRetries(t *testing.T) {
	store := contendedStore{repository.NewMemoryStore()}
	authenticator := NewAuthenticator(store, newFastHasher(t), zap.NewNop(), nil, AuthenticatorConfig{})
	ctx := context.Background()
	_, err := authenticator.Register(ctx, "frank@example.com", "right-password")
	require.NoError(t, err)

	_, err = authenticator.Authenticate(ctx, "frank@example.com", "wrong-password")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}
