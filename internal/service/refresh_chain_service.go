package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/secure-login-api/internal/models"
	"github.com/noah-isme/secure-login-api/internal/repository"
	appErrors "github.com/noah-isme/secure-login-api/pkg/errors"
)

// maxChainLength guards chain walks against corrupted links.
const maxChainLength = 100000

// RefreshTokenStore persists refresh token records. RotateRefreshToken must
// revoke the current record and insert its successor atomically.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshTokenByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	FindRefreshTokenByID(ctx context.Context, id string) (*models.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, currentID string, next *models.RefreshToken, at time.Time) error
	RevokeRefreshToken(ctx context.Context, id, reason string, at time.Time) (bool, error)
}

// RefreshChainConfig controls rotation behaviour.
type RefreshChainConfig struct {
	ReuseDetection bool
	// ReuseGrace is how long after a rotation the rotated-out token may be
	// presented again without revoking the chain. Zero disables the window.
	ReuseGrace time.Duration
	Clock      func() time.Time
}

// RefreshChainService manages refresh chains: one chain per login, advanced
// one link per rotation, with each link usable exactly once.
type RefreshChainService struct {
	tokens  RefreshTokenStore
	issuer  *TokenService
	audit   *AuditService
	metrics *MetricsService
	logger  *zap.Logger
	config  RefreshChainConfig
}

// NewRefreshChainService constructs a RefreshChainService instance.
func NewRefreshChainService(tokens RefreshTokenStore, issuer *TokenService, audit *AuditService, metrics *MetricsService, logger *zap.Logger, config RefreshChainConfig) *RefreshChainService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &RefreshChainService{tokens: tokens, issuer: issuer, audit: audit, metrics: metrics, logger: logger, config: config}
}

// StartChain issues the first token pair of a new chain for accountID.
func (s *RefreshChainService) StartChain(ctx context.Context, accountID string, meta models.ClientMeta) (*models.TokenPair, error) {
	accessToken, accessExpiresAt, err := s.issuer.IssueAccessToken(accountID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	plaintext, digest, err := s.issuer.GenerateRefreshSecret()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	now := s.config.Clock().UTC()
	root := &models.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: digest,
		AccountID: accountID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.issuer.RefreshTokenExpiry()),
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	}
	if err := s.tokens.CreateRefreshToken(ctx, root); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}

	return &models.TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     plaintext,
		RefreshExpiresAt: root.ExpiresAt,
		AccountID:        accountID,
	}, nil
}

// Rotate consumes a live refresh token and returns the next pair of its
// chain. Presenting an already rotated, unexpired token is treated as theft
// and revokes the whole chain when reuse detection is enabled.
func (s *RefreshChainService) Rotate(ctx context.Context, plaintext string, meta models.ClientMeta) (*models.TokenPair, error) {
	if plaintext == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
	}

	current, err := s.tokens.FindRefreshTokenByHash(ctx, DigestRefreshSecret(plaintext))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}

	now := s.config.Clock().UTC()
	if current.Revoked {
		s.handleReplay(ctx, current, now, meta)
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
	}
	if !current.Live(now) {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
	}

	accessToken, accessExpiresAt, err := s.issuer.IssueAccessToken(current.AccountID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	nextPlaintext, nextDigest, err := s.issuer.GenerateRefreshSecret()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	next := &models.RefreshToken{
		ID:        uuid.NewString(),
		TokenHash: nextDigest,
		AccountID: current.AccountID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.issuer.RefreshTokenExpiry()),
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	}
	if err := s.tokens.RotateRefreshToken(ctx, current.ID, next, now); err != nil {
		if errors.Is(err, repository.ErrTokenAlreadyRevoked) {
			s.logger.Warn("refresh token rotated concurrently",
				zap.String("account_id", current.AccountID),
				zap.String("token_id", current.ID),
			)
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate refresh token")
	}

	return &models.TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     nextPlaintext,
		RefreshExpiresAt: next.ExpiresAt,
		AccountID:        current.AccountID,
	}, nil
}

// Terminate revokes the record matching plaintext. Unknown, empty and
// already revoked tokens are ignored; only storage failures are returned.
func (s *RefreshChainService) Terminate(ctx context.Context, plaintext string) (*models.RefreshToken, error) {
	if plaintext == "" {
		return nil, nil
	}

	record, err := s.tokens.FindRefreshTokenByHash(ctx, DigestRefreshSecret(plaintext))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if record.Revoked {
		return record, nil
	}

	if _, err := s.tokens.RevokeRefreshToken(ctx, record.ID, models.RevokeReasonLogout, s.config.Clock().UTC()); err != nil {
		return record, fmt.Errorf("revoke refresh token: %w", err)
	}
	return record, nil
}

// Chain returns every link of the chain containing recordID, root first.
func (s *RefreshChainService) Chain(ctx context.Context, recordID string) ([]models.RefreshToken, error) {
	record, err := s.tokens.FindRefreshTokenByID(ctx, recordID)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{record.ID: {}}
	for record.ParentID != nil {
		if _, loop := seen[*record.ParentID]; loop || len(seen) > maxChainLength {
			return nil, fmt.Errorf("refresh chain for %s is corrupt", recordID)
		}
		parent, err := s.tokens.FindRefreshTokenByID(ctx, *record.ParentID)
		if err != nil {
			return nil, fmt.Errorf("load parent %s: %w", *record.ParentID, err)
		}
		seen[parent.ID] = struct{}{}
		record = parent
	}

	chain := []models.RefreshToken{*record}
	visited := map[string]struct{}{record.ID: {}}
	for record.ReplacedBy != nil {
		if _, loop := visited[*record.ReplacedBy]; loop || len(chain) > maxChainLength {
			return nil, fmt.Errorf("refresh chain for %s is corrupt", recordID)
		}
		next, err := s.tokens.FindRefreshTokenByID(ctx, *record.ReplacedBy)
		if err != nil {
			return nil, fmt.Errorf("load successor %s: %w", *record.ReplacedBy, err)
		}
		visited[next.ID] = struct{}{}
		chain = append(chain, *next)
		record = next
	}
	return chain, nil
}

// RevokeChain revokes every live link in the chain containing recordID and
// returns how many links it revoked. Successors appended by a rotation that
// committed during the walk are picked up before returning.
func (s *RefreshChainService) RevokeChain(ctx context.Context, recordID string) (int, error) {
	chain, err := s.Chain(ctx, recordID)
	if err != nil {
		return 0, err
	}

	now := s.config.Clock().UTC()
	revoked := 0
	visited := make(map[string]struct{}, len(chain))
	for i := range chain {
		visited[chain[i].ID] = struct{}{}
		if chain[i].Revoked {
			continue
		}
		ok, err := s.tokens.RevokeRefreshToken(ctx, chain[i].ID, models.RevokeReasonReuseDetected, now)
		if err != nil {
			return revoked, err
		}
		if ok {
			revoked++
		}
	}

	tailID := chain[len(chain)-1].ID
	for hops := 0; hops < maxChainLength; hops++ {
		tail, err := s.tokens.FindRefreshTokenByID(ctx, tailID)
		if err != nil {
			return revoked, err
		}
		if tail.ReplacedBy == nil {
			break
		}
		if _, seen := visited[*tail.ReplacedBy]; seen {
			break
		}
		tailID = *tail.ReplacedBy
		visited[tailID] = struct{}{}
		ok, err := s.tokens.RevokeRefreshToken(ctx, tailID, models.RevokeReasonReuseDetected, now)
		if err != nil {
			return revoked, err
		}
		if ok {
			revoked++
		}
	}

	s.metrics.RecordChainRevocations(revoked)
	return revoked, nil
}

func (s *RefreshChainService) handleReplay(ctx context.Context, record *models.RefreshToken, now time.Time, meta models.ClientMeta) {
	if !s.config.ReuseDetection || !record.RotatedOut() || !now.Before(record.ExpiresAt) {
		return
	}
	if s.withinReuseGrace(record, now) {
		s.logger.Info("rotated refresh token presented within grace window",
			zap.String("account_id", record.AccountID),
			zap.String("token_id", record.ID),
		)
		return
	}

	s.metrics.RecordReuseDetected()
	revoked, err := s.RevokeChain(ctx, record.ID)
	if err != nil {
		s.logger.Error("failed to revoke refresh chain after reuse",
			zap.String("account_id", record.AccountID),
			zap.String("token_id", record.ID),
			zap.Error(err),
		)
	} else {
		s.logger.Warn("refresh token reuse detected, chain revoked",
			zap.String("account_id", record.AccountID),
			zap.String("token_id", record.ID),
			zap.Int("revoked", revoked),
		)
	}

	s.audit.Record(ctx, AuditEvent{
		AccountID:  record.AccountID,
		Action:     models.AuditActionTokenReuse,
		ResourceID: record.ID,
		Details:    map[string]interface{}{"revoked": revoked},
		Meta:       meta,
	})
}

// withinReuseGrace reports whether record was rotated out so recently that
// a second presentation is more likely a racing client than a stolen copy.
func (s *RefreshChainService) withinReuseGrace(record *models.RefreshToken, now time.Time) bool {
	if s.config.ReuseGrace <= 0 || record.RevokedAt == nil {
		return false
	}
	return now.Sub(*record.RevokedAt) < s.config.ReuseGrace
}
