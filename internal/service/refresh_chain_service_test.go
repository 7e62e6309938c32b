package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/secure-login-api/internal/models"
	appErrors "github.com/noah-isme/secure-login-api/pkg/errors"
)

var testMeta = models.ClientMeta{IP: "203.0.113.7", UserAgent: "go-test"}

func startChain(t *testing.T, f *authFixture) *models.TokenPair {
	t.Helper()
	pair, err := f.chains.StartChain(context.Background(), "account-1", testMeta)
	require.NoError(t, err)
	return pair
}

func recordFor(t *testing.T, f *authFixture, plaintext string) *models.RefreshToken {
	t.Helper()
	record, err := f.store.FindRefreshTokenByHash(context.Background(), DigestRefreshSecret(plaintext))
	require.NoError(t, err)
	return record
}

func assertInvalidToken(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidToken.Code, appErr.Code)
	assert.Equal(t, 401, appErr.Status)
}

func TestStartChainPersistsDigestOnly(t *testing.T) {
	f := newAuthFixture(t)
	pair := startChain(t, f)

	assert.Len(t, pair.RefreshToken, 128)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), pair.AccessExpiresAt)
	assert.Equal(t, f.clock.Now().Add(30*24*time.Hour), pair.RefreshExpiresAt)

	record := recordFor(t, f, pair.RefreshToken)
	assert.NotEqual(t, pair.RefreshToken, record.TokenHash)
	assert.Nil(t, record.ParentID)
	assert.Nil(t, record.ReplacedBy)
	assert.False(t, record.Revoked)
	assert.Equal(t, testMeta.IP, record.IPAddress)
	assert.Equal(t, testMeta.UserAgent, record.UserAgent)
}

func TestRotateLinksSuccessor(t *testing.T) {
	f := newAuthFixture(t)
	first := startChain(t, f)

	second, err := f.chains.Rotate(context.Background(), first.RefreshToken, testMeta)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, "account-1", second.AccountID)

	old := recordFor(t, f, first.RefreshToken)
	next := recordFor(t, f, second.RefreshToken)
	assert.True(t, old.Revoked)
	assert.True(t, old.RotatedOut())
	require.NotNil(t, old.ReplacedBy)
	assert.Equal(t, next.ID, *old.ReplacedBy)
	require.NotNil(t, next.ParentID)
	assert.Equal(t, old.ID, *next.ParentID)
	assert.False(t, next.Revoked)
}

func TestRotateRejectsUnknownEmptyAndExpired(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	_, err := f.chains.Rotate(ctx, "", testMeta)
	assertInvalidToken(t, err)

	_, err = f.chains.Rotate(ctx, "deadbeef", testMeta)
	assertInvalidToken(t, err)

	pair := startChain(t, f)
	f.clock.Advance(30*24*time.Hour + time.Second)
	_, err = f.chains.Rotate(ctx, pair.RefreshToken, testMeta)
	assertInvalidToken(t, err)
}

func TestRotateIsOneTimeUseUnderConcurrency(t *testing.T) {
	cases := map[string][]fixtureOption{
		"reuse detection with grace": {withReuseGrace(time.Minute)},
		"reuse detection off":        {withoutReuseDetection()},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			f := newAuthFixture(t, opts...)
			pair := startChain(t, f)

			const racers = 10
			var wg sync.WaitGroup
			var mu sync.Mutex
			var winners []*models.TokenPair
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					next, err := f.chains.Rotate(context.Background(), pair.RefreshToken, testMeta)
					if err == nil {
						mu.Lock()
						winners = append(winners, next)
						mu.Unlock()
						return
					}
					assert.Equal(t, appErrors.ErrInvalidToken.Code, appErrors.FromError(err).Code)
				}()
			}
			wg.Wait()
			require.Len(t, winners, 1)

			_, err := f.chains.Rotate(context.Background(), winners[0].RefreshToken, testMeta)
			assert.NoError(t, err, "losing racers must not revoke the winner's token")
		})
	}
}

func TestReplayWithinGraceKeepsSuccessor(t *testing.T) {
	f := newAuthFixture(t, withReuseGrace(5*time.Second))
	ctx := context.Background()
	first := startChain(t, f)

	second, err := f.chains.Rotate(ctx, first.RefreshToken, testMeta)
	require.NoError(t, err)

	f.clock.Advance(4 * time.Second)
	_, err = f.chains.Rotate(ctx, first.RefreshToken, testMeta)
	assertInvalidToken(t, err)

	live := recordFor(t, f, second.RefreshToken)
	assert.False(t, live.Revoked)
	assert.Zero(t, testutil.ToFloat64(f.metrics.reuseDetected))
	for _, entry := range f.store.AuditLogs() {
		assert.NotEqual(t, models.AuditActionTokenReuse, entry.Action)
	}

	third, err := f.chains.Rotate(ctx, second.RefreshToken, testMeta)
	require.NoError(t, err)
	assert.NotEmpty(t, third.RefreshToken)
}

func TestReplayAfterGraceRevokesChain(t *testing.T) {
	f := newAuthFixture(t, withReuseGrace(5*time.Second))
	ctx := context.Background()
	first := startChain(t, f)

	second, err := f.chains.Rotate(ctx, first.RefreshToken, testMeta)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Second)
	_, err = f.chains.Rotate(ctx, first.RefreshToken, testMeta)
	assertInvalidToken(t, err)

	live := recordFor(t, f, second.RefreshToken)
	assert.True(t, live.Revoked)
	require.NotNil(t, live.RevokeReason)
	assert.Equal(t, models.RevokeReasonReuseDetected, *live.RevokeReason)
}

func TestChainLinkageAfterSequentialRotations(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	pair := startChain(t, f)
	root := recordFor(t, f, pair.RefreshToken)

	const rotations = 6
	for i := 0; i < rotations; i++ {
		f.clock.Advance(time.Minute)
		next, err := f.chains.Rotate(ctx, pair.RefreshToken, testMeta)
		require.NoError(t, err)
		pair = next
	}
	current := recordFor(t, f, pair.RefreshToken)

	root, err := f.store.FindRefreshTokenByID(ctx, root.ID)
	require.NoError(t, err)

	hops := 0
	cursor := root
	for cursor.ReplacedBy != nil {
		next, err := f.store.FindRefreshTokenByID(ctx, *cursor.ReplacedBy)
		require.NoError(t, err)
		assert.True(t, cursor.Revoked)
		cursor = next
		hops++
	}
	assert.Equal(t, rotations, hops)
	assert.Equal(t, current.ID, cursor.ID)
	assert.False(t, cursor.Revoked)

	chain, err := f.chains.Chain(ctx, current.ID)
	require.NoError(t, err)
	require.Len(t, chain, rotations+1)
	assert.Equal(t, root.ID, chain[0].ID)
	assert.Equal(t, current.ID, chain[rotations].ID)

	fromMiddle, err := f.chains.Chain(ctx, chain[3].ID)
	require.NoError(t, err)
	assert.Equal(t, chain, fromMiddle)
}

func TestReplayRevokesWholeChain(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	first := startChain(t, f)

	second, err := f.chains.Rotate(ctx, first.RefreshToken, testMeta)
	require.NoError(t, err)

	_, err = f.chains.Rotate(ctx, first.RefreshToken, testMeta)
	assertInvalidToken(t, err)

	live := recordFor(t, f, second.RefreshToken)
	assert.True(t, live.Revoked)
	require.NotNil(t, live.RevokeReason)
	assert.Equal(t, models.RevokeReasonReuseDetected, *live.RevokeReason)

	_, err = f.chains.Rotate(ctx, second.RefreshToken, testMeta)
	assertInvalidToken(t, err)

	var actions []string
	for _, entry := range f.store.AuditLogs() {
		actions = append(actions, entry.Action)
	}
	assert.Contains(t, actions, models.AuditActionTokenReuse)
}

func TestReplayWithoutReuseDetectionKeepsSuccessor(t *testing.T) {
	f := newAuthFixture(t, withoutReuseDetection())
	ctx := context.Background()
	first := startChain(t, f)

	second, err := f.chains.Rotate(ctx, first.RefreshToken, testMeta)
	require.NoError(t, err)

	_, err = f.chains.Rotate(ctx, first.RefreshToken, testMeta)
	assertInvalidToken(t, err)

	_, err = f.chains.Rotate(ctx, second.RefreshToken, testMeta)
	assert.NoError(t, err)
}

func TestReplayOfExpiredTokenDoesNotCascade(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	first := startChain(t, f)

	f.clock.Advance(29 * 24 * time.Hour)
	second, err := f.chains.Rotate(ctx, first.RefreshToken, testMeta)
	require.NoError(t, err)

	f.clock.Advance(2 * 24 * time.Hour)
	_, err = f.chains.Rotate(ctx, first.RefreshToken, testMeta)
	assertInvalidToken(t, err)

	_, err = f.chains.Rotate(ctx, second.RefreshToken, testMeta)
	assert.NoError(t, err)
}

func TestTerminateIsIdempotent(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	pair := startChain(t, f)

	record, err := f.chains.Terminate(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, record)

	_, err = f.chains.Terminate(ctx, pair.RefreshToken)
	require.NoError(t, err)

	record, err = f.chains.Terminate(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, record)

	record, err = f.chains.Terminate(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, record)

	stored := recordFor(t, f, pair.RefreshToken)
	assert.True(t, stored.Revoked)
	require.NotNil(t, stored.RevokeReason)
	assert.Equal(t, models.RevokeReasonLogout, *stored.RevokeReason)

	_, err = f.chains.Rotate(ctx, pair.RefreshToken, testMeta)
	assertInvalidToken(t, err)
}

func TestRevokeChainFromAnyLink(t *testing.T) {
	f := newAuthFixture(t, withoutReuseDetection())
	ctx := context.Background()
	pair := startChain(t, f)
	root := recordFor(t, f, pair.RefreshToken)

	for i := 0; i < 3; i++ {
		next, err := f.chains.Rotate(ctx, pair.RefreshToken, testMeta)
		require.NoError(t, err)
		pair = next
	}

	revoked, err := f.chains.RevokeChain(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, revoked)

	chain, err := f.chains.Chain(ctx, root.ID)
	require.NoError(t, err)
	for _, link := range chain {
		assert.True(t, link.Revoked)
	}

	revoked, err = f.chains.RevokeChain(ctx, root.ID)
	require.NoError(t, err)
	assert.Zero(t, revoked)
}
