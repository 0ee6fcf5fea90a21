package service

import (
	"context"
	"sync"
	"time"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const auditWriteTimeout = 5 * time.Second

// AuditServiceImpl implements ports.AuditService with a bounded queue and a
// single writer goroutine. Log never blocks and never fails.
type AuditServiceImpl struct {
	repo    ports.AuditRepository
	queue   chan *domain.AuditLog
	metrics *Metrics
	log     zerolog.Logger

	wg   sync.WaitGroup
	once sync.Once
}

// NewAuditService creates the audit trail. If repo is nil, entries are only logged.
func NewAuditService(repo ports.AuditRepository, queueSize int, metrics *Metrics, log zerolog.Logger) *AuditServiceImpl {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &AuditServiceImpl{
		repo:    repo,
		queue:   make(chan *domain.AuditLog, queueSize),
		metrics: metrics,
		log:     logger.Component(log, "audit"),
	}
}

// Start runs the writer until Close is called.
func (s *AuditServiceImpl) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for entry := range s.queue {
			s.write(entry)
		}
	}()
}

// Close drains queued entries and stops the writer.
func (s *AuditServiceImpl) Close() {
	s.once.Do(func() { close(s.queue) })
	s.wg.Wait()
}

// Log enqueues entry. A full queue drops it with a warning.
func (s *AuditServiceImpl) Log(_ context.Context, entry *domain.AuditLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	defer func() {
		// Log after Close must not panic the caller.
		if r := recover(); r != nil {
			s.log.Warn().Str("action", string(entry.Action)).Msg("audit: trail closed, entry dropped")
		}
	}()

	select {
	case s.queue <- entry:
	default:
		s.metrics.ObserveDrop("audit")
		s.log.Warn().Str("action", string(entry.Action)).Msg("audit: queue full, entry dropped")
	}
}

func (s *AuditServiceImpl) write(entry *domain.AuditLog) {
	ev := s.log.Info().
		Str("audit_id", entry.ID.String()).
		Str("action", string(entry.Action)).
		Str("origin", entry.Origin)
	if entry.ActorID != nil {
		ev = ev.Str("actor_id", entry.ActorID.String())
	}
	ev.Msg("audit")

	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()
	if err := s.repo.Create(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("failed to persist audit log")
	}
}
