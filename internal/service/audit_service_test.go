package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/secure-login-api/internal/models"
	"github.com/noah-isme/secure-login-api/pkg/jobs"
)

type recordingAuditStore struct {
	mu      sync.Mutex
	entries []models.AuditLog
	err     error
}

func (s *recordingAuditStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, *log)
	return nil
}

func (s *recordingAuditStore) snapshot() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditLog, len(s.entries))
	copy(out, s.entries)
	return out
}

func TestAuditServiceQueuesAndDrains(t *testing.T) {
	store := &recordingAuditStore{}
	svc := NewAuditService(store, jobs.QueueConfig{Workers: 2, BufferSize: 16}, zap.NewNop(), nil)
	svc.Start(context.Background())

	for i := 0; i < 5; i++ {
		svc.Record(context.Background(), AuditEvent{
			AccountID: "account-1",
			Action:    models.AuditActionLogin,
			Details:   map[string]interface{}{"attempt": i},
			Meta:      models.ClientMeta{IP: "192.0.2.1", UserAgent: "ua"},
		})
	}
	svc.Stop()

	entries := store.snapshot()
	require.Len(t, entries, 5)
	for _, entry := range entries {
		assert.Equal(t, "auth", entry.Resource)
		require.NotNil(t, entry.AccountID)
		assert.Equal(t, "account-1", *entry.AccountID)
		assert.Contains(t, entry.Details, `"attempt"`)
		assert.Equal(t, "192.0.2.1", entry.IPAddress)
	}
}

func TestAuditServiceWritesInlineWhenNotStarted(t *testing.T) {
	store := &recordingAuditStore{}
	svc := NewAuditService(store, jobs.QueueConfig{}, zap.NewNop(), nil)

	svc.Record(context.Background(), AuditEvent{Action: models.AuditActionLogout})

	entries := store.snapshot()
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].AccountID)
	assert.Empty(t, entries[0].Details)
}

func TestAuditServiceSwallowsStoreErrors(t *testing.T) {
	store := &recordingAuditStore{err: errors.New("disk full")}
	metrics := NewMetricsService()
	svc := NewAuditService(store, jobs.QueueConfig{}, zap.NewNop(), metrics)

	assert.NotPanics(t, func() {
		svc.Record(context.Background(), AuditEvent{Action: models.AuditActionLogin})
	})
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.auditDropped))
}

func TestNilAuditServiceIsNoop(t *testing.T) {
	var svc *AuditService
	assert.NotPanics(t, func() {
		svc.Start(context.Background())
		svc.Record(context.Background(), AuditEvent{Action: models.AuditActionLogin})
		svc.Stop()
	})
}
