package service

import (
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/secure-login-api/internal/repository"
	"github.com/noah-isme/secure-login-api/pkg/jobs"
	"github.com/noah-isme/secure-login-api/pkg/password"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFastHasher(t *testing.T) *password.Hasher {
	t.Helper()
	hasher, err := password.NewHasher(password.Config{
		Time:       1,
		MemoryKB:   8 * 1024,
		Threads:    1,
		KeyLength:  32,
		SaltLength: 16,
	})
	require.NoError(t, err)
	return hasher
}

type authFixture struct {
	store         *repository.MemoryStore
	clock         *testClock
	tokens        *TokenService
	authenticator *Authenticator
	chains        *RefreshChainService
	audit         *AuditService
	metrics       *MetricsService
	service       *AuthService
}

type fixtureOption func(*fixtureSettings)

type fixtureSettings struct {
	reuseDetection bool
	reuseGrace     time.Duration
}

func withoutReuseDetection() fixtureOption {
	return func(s *fixtureSettings) { s.reuseDetection = false }
}

func withReuseGrace(d time.Duration) fixtureOption {
	return func(s *fixtureSettings) { s.reuseGrace = d }
}

// newAuthFixture wires the full service graph over a MemoryStore. The audit
// queue is left stopped so rows are written inline and visible immediately.
func newAuthFixture(t *testing.T, opts ...fixtureOption) *authFixture {
	t.Helper()
	settings := fixtureSettings{reuseDetection: true}
	for _, opt := range opts {
		opt(&settings)
	}

	store := repository.NewMemoryStore()
	clock := newTestClock()
	logger := zap.NewNop()
	metrics := NewMetricsService()

	tokens := NewTokenService(TokenConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 30 * 24 * time.Hour,
		RefreshSecretBytes: 64,
		Issuer:             "secure-login-api",
		Audience:           []string{"secure-login-web"},
		Clock:              clock.Now,
	})
	authenticator := NewAuthenticator(store, newFastHasher(t), logger, metrics, AuthenticatorConfig{
		LockoutThreshold: 5,
		LockoutDuration:  15 * time.Minute,
		Clock:            clock.Now,
	})
	audit := NewAuditService(store, jobs.QueueConfig{Workers: 1, BufferSize: 8}, logger, metrics)
	chains := NewRefreshChainService(store, tokens, audit, metrics, logger, RefreshChainConfig{
		ReuseDetection: settings.reuseDetection,
		ReuseGrace:     settings.reuseGrace,
		Clock:          clock.Now,
	})
	service := NewAuthService(authenticator, chains, tokens, store, validator.New(), audit, metrics, logger)

	return &authFixture{
		store:         store,
		clock:         clock,
		tokens:        tokens,
		authenticator: authenticator,
		chains:        chains,
		audit:         audit,
		metrics:       metrics,
		service:       service,
	}
}
