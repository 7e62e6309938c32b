package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/secure-login-api/internal/models"
	appErrors "github.com/noah-isme/secure-login-api/pkg/errors"
)

type accountReader interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
}

// AuthService is the entry point used by the HTTP layer. It validates input,
// delegates to the authenticator and refresh chain manager, and records
// audit rows and metrics for every outcome.
type AuthService struct {
	authenticator *Authenticator
	chains        *RefreshChainService
	tokens        *TokenService
	accounts      accountReader
	validator     *validator.Validate
	audit         *AuditService
	metrics       *MetricsService
	logger        *zap.Logger
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	authenticator *Authenticator,
	chains *RefreshChainService,
	tokens *TokenService,
	accounts accountReader,
	validate *validator.Validate,
	audit *AuditService,
	metrics *MetricsService,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		authenticator: authenticator,
		chains:        chains,
		tokens:        tokens,
		accounts:      accounts,
		validator:     validate,
		audit:         audit,
		metrics:       metrics,
		logger:        logger,
	}
}

// Register creates a new account.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.AccountInfo, error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.validator.Struct(req); err != nil {
		s.metrics.RecordRegistration(OutcomeInvalidInput)
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "email and password are required")
	}

	account, err := s.authenticator.Register(ctx, req.Email, req.Password)
	if err != nil {
		switch {
		case appErrors.HasCode(err, appErrors.ErrDuplicateEmail):
			s.metrics.RecordRegistration(OutcomeDuplicate)
		case appErrors.HasCode(err, appErrors.ErrValidation):
			s.metrics.RecordRegistration(OutcomeInvalidInput)
		default:
			s.metrics.RecordRegistration(OutcomeError)
			s.logger.Error("registration failed", zap.Error(err))
		}
		return nil, err
	}

	s.metrics.RecordRegistration(OutcomeSuccess)
	s.audit.Record(ctx, AuditEvent{
		AccountID:  account.ID,
		Action:     models.AuditActionRegister,
		ResourceID: account.ID,
		Meta:       models.ClientMeta{IP: req.IP, UserAgent: req.UserAgent},
	})
	return &models.AccountInfo{ID: account.ID, Email: account.Email}, nil
}

// Login authenticates credentials and starts a new refresh chain.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.TokenPair, error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.validator.Struct(req); err != nil {
		s.metrics.RecordLogin(OutcomeInvalidInput)
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "email and password are required")
	}
	meta := models.ClientMeta{IP: req.IP, UserAgent: req.UserAgent}

	result, err := s.authenticator.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		s.metrics.RecordLogin(OutcomeError)
		s.logger.Error("authentication failed", zap.Error(err))
		return nil, err
	}

	switch result.Status {
	case StatusLocked:
		s.metrics.RecordLogin(OutcomeLocked)
		return nil, appErrors.Clone(appErrors.ErrAccountLocked, "")
	case StatusInvalidCredentials:
		s.metrics.RecordLogin(OutcomeInvalidCredentials)
		if result.Account != nil {
			s.audit.Record(ctx, AuditEvent{
				AccountID:  result.Account.ID,
				Action:     models.AuditActionLoginFailed,
				ResourceID: result.Account.ID,
				Meta:       meta,
			})
			if result.LockTriggered {
				s.audit.Record(ctx, AuditEvent{
					AccountID:  result.Account.ID,
					Action:     models.AuditActionLocked,
					ResourceID: result.Account.ID,
					Details:    map[string]interface{}{"lock_until": result.LockUntil},
					Meta:       meta,
				})
			}
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	pair, err := s.chains.StartChain(ctx, result.Account.ID, meta)
	if err != nil {
		s.metrics.RecordLogin(OutcomeError)
		s.logger.Error("failed to start refresh chain", zap.String("account_id", result.Account.ID), zap.Error(err))
		return nil, err
	}

	s.metrics.RecordLogin(OutcomeSuccess)
	s.audit.Record(ctx, AuditEvent{
		AccountID:  result.Account.ID,
		Action:     models.AuditActionLogin,
		ResourceID: result.Account.ID,
		Meta:       meta,
	})
	return pair, nil
}

// Refresh rotates a refresh token into a new token pair.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.TokenPair, error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.validator.Struct(req); err != nil {
		s.metrics.RecordRefresh(OutcomeInvalidToken)
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
	}
	meta := models.ClientMeta{IP: req.IP, UserAgent: req.UserAgent}

	pair, err := s.chains.Rotate(ctx, req.RefreshToken, meta)
	if err != nil {
		if appErrors.HasCode(err, appErrors.ErrInvalidToken) {
			s.metrics.RecordRefresh(OutcomeInvalidToken)
		} else {
			s.metrics.RecordRefresh(OutcomeError)
			s.logger.Error("refresh rotation failed", zap.Error(err))
		}
		return nil, err
	}

	s.metrics.RecordRefresh(OutcomeSuccess)
	s.audit.Record(ctx, AuditEvent{
		AccountID:  pair.AccountID,
		Action:     models.AuditActionRefresh,
		ResourceID: pair.AccountID,
		Meta:       meta,
	})
	return pair, nil
}

// Logout revokes the presented refresh token. It never fails from the
// caller's point of view; storage errors are logged.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, meta models.ClientMeta) {
	ctx = context.WithoutCancel(ctx)
	record, err := s.chains.Terminate(ctx, refreshToken)
	if err != nil {
		s.logger.Warn("failed to revoke refresh token on logout", zap.Error(err))
	}
	if record == nil {
		return
	}
	s.audit.Record(ctx, AuditEvent{
		AccountID:  record.AccountID,
		Action:     models.AuditActionLogout,
		ResourceID: record.ID,
		Meta:       meta,
	})
}

// RevokeChain revokes every live link of the chain containing recordID.
func (s *AuthService) RevokeChain(ctx context.Context, recordID string) (int, error) {
	ctx = context.WithoutCancel(ctx)
	revoked, err := s.chains.RevokeChain(ctx, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, appErrors.Clone(appErrors.ErrInvalidToken, "refresh token not found")
		}
		return revoked, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh chain")
	}
	s.audit.Record(ctx, AuditEvent{
		Action:     models.AuditActionChainRevoked,
		ResourceID: recordID,
		Details:    map[string]interface{}{"revoked": revoked},
	})
	return revoked, nil
}

// Me returns the account identified by accountID.
func (s *AuthService) Me(ctx context.Context, accountID string) (*models.AccountInfo, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "account no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	return &models.AccountInfo{ID: account.ID, Email: account.Email}, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	return s.tokens.ValidateAccessToken(tokenString)
}
