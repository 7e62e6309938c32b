package service

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/secure-login-api/internal/models"
	"github.com/noah-isme/secure-login-api/pkg/jobs"
)

// AuditStore persists audit rows.
type AuditStore interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditEvent is the input to AuditService.Record.
type AuditEvent struct {
	AccountID  string
	Action     string
	ResourceID string
	Details    map[string]interface{}
	Meta       models.ClientMeta
}

// AuditService persists audit rows off the request path using a worker
// queue. When the queue is unavailable rows are written inline.
type AuditService struct {
	repo       AuditStore
	queue      *jobs.Queue[models.AuditLog]
	maxRetries int
	logger     *zap.Logger
	metrics    *MetricsService
}

// NewAuditService constructs an AuditService. The queue is not started.
func NewAuditService(repo AuditStore, cfg jobs.QueueConfig, logger *zap.Logger, metrics *MetricsService) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	s := &AuditService{repo: repo, maxRetries: cfg.MaxRetries, logger: logger, metrics: metrics}
	s.queue = jobs.NewQueue("audit", s.persist, cfg)
	return s
}

// Start launches the audit workers.
func (s *AuditService) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains buffered audit rows and stops the workers.
func (s *AuditService) Stop() {
	if s == nil {
		return
	}
	s.queue.Stop()
}

// Record enqueues an audit row. Failures are logged and never surface to
// the caller.
func (s *AuditService) Record(ctx context.Context, event AuditEvent) {
	if s == nil {
		return
	}

	entry := models.AuditLog{
		Action:    event.Action,
		Resource:  "auth",
		IPAddress: event.Meta.IP,
		UserAgent: event.Meta.UserAgent,
	}
	if event.AccountID != "" {
		id := event.AccountID
		entry.AccountID = &id
	}
	if event.ResourceID != "" {
		id := event.ResourceID
		entry.ResourceID = &id
	}
	if len(event.Details) > 0 {
		raw, err := json.Marshal(event.Details)
		if err != nil {
			s.logger.Warn("failed to encode audit details", zap.String("action", event.Action), zap.Error(err))
		} else {
			entry.Details = string(raw)
		}
	}

	err := s.queue.TryEnqueue(entry)
	if err == nil {
		return
	}
	if errors.Is(err, jobs.ErrQueueFull) {
		s.logger.Warn("audit queue full, writing inline", zap.String("action", event.Action))
	}
	if err := s.repo.CreateAuditLog(context.WithoutCancel(ctx), &entry); err != nil {
		s.metrics.RecordAuditDropped()
		s.logger.Warn("failed to record audit log", zap.String("action", event.Action), zap.Error(err))
	}
}

func (s *AuditService) persist(ctx context.Context, job jobs.Job[models.AuditLog]) error {
	entry := job.Payload
	if err := s.repo.CreateAuditLog(ctx, &entry); err != nil {
		if job.Attempt >= s.maxRetries {
			s.metrics.RecordAuditDropped()
		}
		return err
	}
	return nil
}
