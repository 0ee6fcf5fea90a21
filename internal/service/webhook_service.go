package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/logger"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/rs/zerolog"
)

// Ingest result statuses. All of them are acknowledged with 200.
const (
	IngestProcessed = "processed"
	IngestIgnored   = "ignored"
	IngestDuplicate = "duplicate"
	IngestDeferred  = "deferred"
	IngestFailed    = "failed"
)

// Delivery metric labels for requests that never reach the state machine.
const (
	deliveryRejected  = "rejected"
	deliveryMalformed = "malformed"
)

// isTransient reports whether a charge transition failure may succeed on retry.
func isTransient(err error) bool {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == "LED_003" || appErr.Code == "SYS_001"
}

// applySafely runs ApplyEvent and turns a panic into an error.
func applySafely(ctx context.Context, charges ports.ChargeService, ev *domain.ProviderEvent) (out *ports.ChargeOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic applying %s event: %v", ev.Type, r)
		}
	}()
	return charges.ApplyEvent(ctx, ev)
}

type WebhookConfig struct {
	Secret    string
	ReplayTTL time.Duration
}

// WebhookServiceImpl implements ports.WebhookService.
type WebhookServiceImpl struct {
	cfg        WebhookConfig
	charges    ports.ChargeService
	sigSvc     ports.SignatureService
	deliveries ports.DeliveryStore
	redelivery *RedeliveryQueue
	audit      ports.AuditService
	metrics    *Metrics
	log        zerolog.Logger
}

// NewWebhookService creates the ingestion pipeline. deliveries and redelivery
// are optional.
func NewWebhookService(
	cfg WebhookConfig,
	charges ports.ChargeService,
	sigSvc ports.SignatureService,
	deliveries ports.DeliveryStore,
	redelivery *RedeliveryQueue,
	audit ports.AuditService,
	metrics *Metrics,
	log zerolog.Logger,
) *WebhookServiceImpl {
	if cfg.ReplayTTL <= 0 {
		cfg.ReplayTTL = 24 * time.Hour
	}
	return &WebhookServiceImpl{
		cfg:        cfg,
		charges:    charges,
		sigSvc:     sigSvc,
		deliveries: deliveries,
		redelivery: redelivery,
		audit:      audit,
		metrics:    metrics,
		log:        logger.Component(log, "webhook"),
	}
}

// Ingest authenticates a raw delivery and runs it through the charge state
// machine. Only a bad signature or an unparsable body return an error;
// processing failures are logged and reported in the result.
func (s *WebhookServiceImpl) Ingest(ctx context.Context, body []byte, signature string) (*ports.IngestResult, error) {
	fingerprint := domain.DeliveryFingerprint(body)

	if !s.sigSvc.Verify(s.cfg.Secret, body, signature) {
		s.metrics.ObserveDelivery(deliveryRejected)
		s.log.Warn().Str("fingerprint", fingerprint).Msg("webhook: signature mismatch")
		s.audit.Log(ctx, &domain.AuditLog{
			Action:   domain.AuditActionWebhookRejected,
			Metadata: map[string]interface{}{"fingerprint": fingerprint, "size": len(body)},
			Origin:   domain.OriginWebhook,
		})
		return nil, apperror.ErrInvalidSignature()
	}

	ev, err := domain.ParseProviderEvent(body)
	if err != nil {
		s.metrics.ObserveDelivery(deliveryMalformed)
		s.log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("webhook: malformed body")
		return nil, apperror.ErrBadRequest("Malformed webhook body")
	}

	result := &ports.IngestResult{EventType: ev.Type}
	log := s.log.With().
		Str("event_id", ev.ID).
		Str("event", string(ev.Type)).
		Str("provider_id", ev.Charge.ProviderID).
		Logger()

	if s.deliveries != nil {
		seen, err := s.deliveries.Seen(ctx, fingerprint)
		if err != nil {
			log.Warn().Err(err).Msg("webhook: replay cache unavailable")
		} else if seen {
			log.Debug().Msg("webhook: duplicate delivery")
			result.Status = IngestDuplicate
			s.metrics.ObserveDelivery(result.Status)
			return result, nil
		}
	}

	out, err := applySafely(ctx, s.charges, ev)
	switch {
	case err != nil && isTransient(err) && s.redelivery.Enqueue(ev, fingerprint):
		log.Warn().Err(err).Msg("webhook: transient failure, queued for redelivery")
		result.Status = IngestDeferred
	case err != nil:
		log.Error().Err(err).Msg("webhook: processing failed")
		result.Status = IngestFailed
	case out.Charge == nil:
		log.Debug().Msg("webhook: no matching charge")
		result.Status = IngestIgnored
	default:
		result.Status = IngestProcessed
	}

	if result.Status == IngestProcessed || result.Status == IngestIgnored {
		markProcessed(ctx, s.deliveries, fingerprint, s.cfg.ReplayTTL, log)
	}
	s.metrics.ObserveDelivery(result.Status)
	return result, nil
}

func markProcessed(ctx context.Context, store ports.DeliveryStore, fingerprint string, ttl time.Duration, log zerolog.Logger) {
	if store == nil {
		return
	}
	if err := store.MarkProcessed(ctx, fingerprint, ttl); err != nil {
		log.Warn().Err(err).Msg("webhook: failed to record delivery")
	}
}

// RedeliveryConfig bounds the internal retry of transient failures.
type RedeliveryConfig struct {
	QueueSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	ReplayTTL   time.Duration
	// AttemptTimeout caps a single ApplyEvent run.
	AttemptTimeout time.Duration
}

type redelivery struct {
	event       *domain.ProviderEvent
	fingerprint string
}

// RedeliveryQueue re-runs charge transitions that failed transiently. It is
// bounded; when full the provider's own redelivery is the only fallback.
type RedeliveryQueue struct {
	cfg        RedeliveryConfig
	charges    ports.ChargeService
	deliveries ports.DeliveryStore
	exec       failsafe.Executor[any]
	metrics    *Metrics
	log        zerolog.Logger

	queue     chan redelivery
	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

func NewRedeliveryQueue(cfg RedeliveryConfig, charges ports.ChargeService, deliveries ports.DeliveryStore, metrics *Metrics, log zerolog.Logger) *RedeliveryQueue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ReplayTTL <= 0 {
		cfg.ReplayTTL = 24 * time.Hour
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	rc := retryConfig{MaxRetries: cfg.MaxAttempts - 1, BaseDelay: cfg.BaseDelay, MaxDelay: cfg.MaxDelay}.normalize()

	policy := retrypolicy.NewBuilder[any]().
		WithBackoff(rc.BaseDelay, rc.MaxDelay).
		WithMaxRetries(rc.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return isTransient(err)
		}).
		Build()

	return &RedeliveryQueue{
		cfg:        cfg,
		charges:    charges,
		deliveries: deliveries,
		exec:       failsafe.With[any](policy),
		metrics:    metrics,
		log:        logger.Component(log, "redelivery"),
		queue:      make(chan redelivery, cfg.QueueSize),
		stop:       make(chan struct{}),
	}
}

// Enqueue never blocks. It returns false when the queue is full, closed or nil.
func (q *RedeliveryQueue) Enqueue(ev *domain.ProviderEvent, fingerprint string) bool {
	if q == nil {
		return false
	}
	select {
	case <-q.stop:
		return false
	default:
	}
	select {
	case q.queue <- redelivery{event: ev, fingerprint: fingerprint}:
		return true
	default:
		q.metrics.ObserveDrop("redelivery")
		q.log.Error().
			Str("provider_id", ev.Charge.ProviderID).
			Str("event", string(ev.Type)).
			Msg("redelivery queue full, dropping event")
		return false
	}
}

// Start launches the worker. Pending items are abandoned on Close; the
// provider redelivers anything that was not acknowledged as processed.
func (q *RedeliveryQueue) Start() {
	q.startOnce.Do(func() {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-q.stop:
					return
				case item := <-q.queue:
					q.run(item)
				}
			}
		}()
	})
}

func (q *RedeliveryQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.stop)
	})
	q.wg.Wait()
}

func (q *RedeliveryQueue) run(item redelivery) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-q.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	log := q.log.With().
		Str("provider_id", item.event.Charge.ProviderID).
		Str("event", string(item.event.Type)).
		Logger()

	attempt := 0
	_, err := q.exec.WithContext(ctx).Get(func() (any, error) {
		attempt++
		actx, acancel := context.WithTimeout(ctx, q.cfg.AttemptTimeout)
		defer acancel()
		_, err := applySafely(actx, q.charges, item.event)
		return nil, err
	})
	q.metrics.ObserveRedelivery(err)
	if err != nil {
		log.Error().Err(err).Int("attempts", attempt).Msg("redelivery gave up")
		return
	}
	log.Info().Int("attempts", attempt).Msg("redelivery succeeded")
	markProcessed(ctx, q.deliveries, item.fingerprint, q.cfg.ReplayTTL, log)
}
