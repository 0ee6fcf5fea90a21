package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/internal/core/ports/mocks"
	"custody-ledger/pkg/apperror"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testWebhookSecret = "whsec_test"

var confirmedBody = []byte(`{"event":{"id":"evt_1","type":"charge:confirmed","data":{"id":"ch_1","code":"ABCD",
"payments":[{"status":"CONFIRMED","transaction_id":"0xfeed","value":{"crypto":{"amount":"0.05","currency":"BTC"}},"block":{"confirmations":3}}]}}}`)

type webhookTestDeps struct {
	svc        *WebhookServiceImpl
	charges    *mocks.MockChargeService
	deliveries *mocks.MockDeliveryStore
	audit      *mocks.MockAuditService
	registry   *prometheus.Registry
	metrics    *Metrics
	signer     *HMACSignatureService
}

func setupWebhookService(t *testing.T, queue func(d *webhookTestDeps) *RedeliveryQueue) *webhookTestDeps {
	ctrl := gomock.NewController(t)
	reg := prometheus.NewRegistry()
	d := &webhookTestDeps{
		charges:    mocks.NewMockChargeService(ctrl),
		deliveries: mocks.NewMockDeliveryStore(ctrl),
		audit:      mocks.NewMockAuditService(ctrl),
		registry:   reg,
		metrics:    NewMetrics(reg),
		signer:     NewHMACSignatureService(),
	}
	var q *RedeliveryQueue
	if queue != nil {
		q = queue(d)
	}
	d.svc = NewWebhookService(WebhookConfig{Secret: testWebhookSecret, ReplayTTL: time.Hour},
		d.charges, d.signer, d.deliveries, q, d.audit, d.metrics, newTestLogger())
	return d
}

func (d *webhookTestDeps) sign(body []byte) string {
	return d.signer.Sign(testWebhookSecret, body)
}

func processedOutcome() *ports.ChargeOutcome {
	return &ports.ChargeOutcome{
		Charge:   &domain.DepositCharge{ProviderID: "ch_1"},
		Decision: domain.ChargeDecision{Action: domain.ChargeActionCredit},
		Credited: true,
	}
}

func TestWebhookService_Ingest_Processed(t *testing.T) {
	d := setupWebhookService(t, nil)
	ctx := context.Background()
	fp := domain.DeliveryFingerprint(confirmedBody)

	d.deliveries.EXPECT().Seen(ctx, fp).Return(false, nil)
	d.charges.EXPECT().ApplyEvent(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, ev *domain.ProviderEvent) (*ports.ChargeOutcome, error) {
		assert.Equal(t, domain.EventConfirmed, ev.Type)
		assert.Equal(t, "ch_1", ev.Charge.ProviderID)
		assert.Equal(t, 3, ev.Confirmations())
		return processedOutcome(), nil
	})
	d.deliveries.EXPECT().MarkProcessed(ctx, fp, time.Hour).Return(nil)

	res, err := d.svc.Ingest(ctx, confirmedBody, d.sign(confirmedBody))
	require.NoError(t, err)
	assert.Equal(t, IngestProcessed, res.Status)
	assert.Equal(t, domain.EventConfirmed, res.EventType)
	assert.Equal(t, float64(1), counterValue(t, d.registry, "custody_ledger_webhook_deliveries_total", "status", IngestProcessed))
}

func TestWebhookService_Ingest_BadSignature(t *testing.T) {
	d := setupWebhookService(t, nil)
	ctx := context.Background()

	tests := map[string]string{
		"wrong secret": d.signer.Sign("other", confirmedBody),
		"empty":        "",
		"garbage":      "not-hex",
	}
	d.audit.EXPECT().Log(ctx, gomock.Any()).Do(func(_ context.Context, e *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionWebhookRejected, e.Action)
		assert.Equal(t, domain.OriginWebhook, e.Origin)
		assert.Nil(t, e.ActorID)
	}).Times(len(tests))

	for name, sig := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := d.svc.Ingest(ctx, confirmedBody, sig)
			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, "SEC_002", appErr.Code)
			assert.Equal(t, 401, appErr.HTTPStatus)
		})
	}
	assert.Equal(t, float64(3), counterValue(t, d.registry, "custody_ledger_webhook_deliveries_total", "status", "rejected"))
}

func TestWebhookService_Ingest_Malformed(t *testing.T) {
	d := setupWebhookService(t, nil)
	body := []byte(`{"event":`)

	_, err := d.svc.Ingest(context.Background(), body, d.sign(body))
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 400, appErr.HTTPStatus)
	assert.Equal(t, float64(1), counterValue(t, d.registry, "custody_ledger_webhook_deliveries_total", "status", "malformed"))
}

func TestWebhookService_Ingest_Duplicate(t *testing.T) {
	d := setupWebhookService(t, nil)
	ctx := context.Background()

	d.deliveries.EXPECT().Seen(ctx, gomock.Any()).Return(true, nil)

	res, err := d.svc.Ingest(ctx, confirmedBody, d.sign(confirmedBody))
	require.NoError(t, err)
	assert.Equal(t, IngestDuplicate, res.Status)
}

func TestWebhookService_Ingest_ReplayCacheDownStillProcesses(t *testing.T) {
	d := setupWebhookService(t, nil)
	ctx := context.Background()

	d.deliveries.EXPECT().Seen(ctx, gomock.Any()).Return(false, errors.New("redis down"))
	d.charges.EXPECT().ApplyEvent(ctx, gomock.Any()).Return(processedOutcome(), nil)
	d.deliveries.EXPECT().MarkProcessed(ctx, gomock.Any(), time.Hour).Return(errors.New("redis down"))

	res, err := d.svc.Ingest(ctx, confirmedBody, d.sign(confirmedBody))
	require.NoError(t, err)
	assert.Equal(t, IngestProcessed, res.Status)
}

func TestWebhookService_Ingest_UnknownCharge(t *testing.T) {
	d := setupWebhookService(t, nil)
	ctx := context.Background()

	d.deliveries.EXPECT().Seen(ctx, gomock.Any()).Return(false, nil)
	d.charges.EXPECT().ApplyEvent(ctx, gomock.Any()).Return(&ports.ChargeOutcome{}, nil)
	d.deliveries.EXPECT().MarkProcessed(ctx, gomock.Any(), time.Hour).Return(nil)

	res, err := d.svc.Ingest(ctx, confirmedBody, d.sign(confirmedBody))
	require.NoError(t, err)
	assert.Equal(t, IngestIgnored, res.Status)
}

func TestWebhookService_Ingest_FailureIsAcknowledged(t *testing.T) {
	d := setupWebhookService(t, nil)
	ctx := context.Background()

	d.deliveries.EXPECT().Seen(ctx, gomock.Any()).Return(false, nil)
	d.charges.EXPECT().ApplyEvent(ctx, gomock.Any()).Return(nil, apperror.ErrPersistenceConflict(domain.ErrConflict))
	// No redelivery queue: the failure is final for this delivery and it is not marked processed.

	res, err := d.svc.Ingest(ctx, confirmedBody, d.sign(confirmedBody))
	require.NoError(t, err)
	assert.Equal(t, IngestFailed, res.Status)
}

func TestWebhookService_Ingest_PanicIsAcknowledged(t *testing.T) {
	d := setupWebhookService(t, nil)
	ctx := context.Background()

	d.deliveries.EXPECT().Seen(ctx, gomock.Any()).Return(false, nil)
	d.charges.EXPECT().ApplyEvent(ctx, gomock.Any()).DoAndReturn(func(context.Context, *domain.ProviderEvent) (*ports.ChargeOutcome, error) {
		panic("nil map")
	})

	res, err := d.svc.Ingest(ctx, confirmedBody, d.sign(confirmedBody))
	require.NoError(t, err)
	assert.Equal(t, IngestFailed, res.Status)
}

func TestWebhookService_Ingest_TransientFailureIsRedelivered(t *testing.T) {
	marked := make(chan string, 1)
	d := setupWebhookService(t, func(d *webhookTestDeps) *RedeliveryQueue {
		q := NewRedeliveryQueue(RedeliveryConfig{QueueSize: 4, MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, ReplayTTL: time.Hour},
			d.charges, d.deliveries, d.metrics, newTestLogger())
		q.Start()
		t.Cleanup(q.Close)
		return q
	})
	ctx := context.Background()

	d.deliveries.EXPECT().Seen(ctx, gomock.Any()).Return(false, nil)
	gomock.InOrder(
		d.charges.EXPECT().ApplyEvent(ctx, gomock.Any()).Return(nil, apperror.ErrPersistenceConflict(domain.ErrConflict)),
		d.charges.EXPECT().ApplyEvent(gomock.Any(), gomock.Any()).Return(nil, apperror.InternalError(errors.New("conn reset"))),
		d.charges.EXPECT().ApplyEvent(gomock.Any(), gomock.Any()).Return(processedOutcome(), nil),
	)
	d.deliveries.EXPECT().MarkProcessed(gomock.Any(), gomock.Any(), time.Hour).DoAndReturn(func(_ context.Context, fp string, _ time.Duration) error {
		marked <- fp
		return nil
	})

	res, err := d.svc.Ingest(ctx, confirmedBody, d.sign(confirmedBody))
	require.NoError(t, err)
	assert.Equal(t, IngestDeferred, res.Status)

	select {
	case fp := <-marked:
		assert.Equal(t, domain.DeliveryFingerprint(confirmedBody), fp)
	case <-time.After(2 * time.Second):
		t.Fatal("redelivery never succeeded")
	}
	require.Eventually(t, func() bool {
		return counterValue(t, d.registry, "custody_ledger_webhook_redeliveries_total", "result", "ok") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestWebhookService_Ingest_NonTransientSkipsQueue(t *testing.T) {
	d := setupWebhookService(t, func(d *webhookTestDeps) *RedeliveryQueue {
		return NewRedeliveryQueue(RedeliveryConfig{QueueSize: 1}, d.charges, d.deliveries, d.metrics, newTestLogger())
	})
	ctx := context.Background()

	d.deliveries.EXPECT().Seen(ctx, gomock.Any()).Return(false, nil)
	d.charges.EXPECT().ApplyEvent(ctx, gomock.Any()).Return(nil, errors.New("bad event"))

	res, err := d.svc.Ingest(ctx, confirmedBody, d.sign(confirmedBody))
	require.NoError(t, err)
	assert.Equal(t, IngestFailed, res.Status)
}

func TestRedeliveryQueue_DropsWhenFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	q := NewRedeliveryQueue(RedeliveryConfig{QueueSize: 1}, nil, nil, metrics, newTestLogger())
	ev := &domain.ProviderEvent{Type: domain.EventConfirmed, Charge: domain.ChargeRef{ProviderID: "ch_1"}}

	assert.True(t, q.Enqueue(ev, "a"))
	assert.False(t, q.Enqueue(ev, "b"))
	assert.Equal(t, float64(1), counterValue(t, reg, "custody_ledger_queue_dropped_total", "queue", "redelivery"))

	q.Close()
	assert.False(t, q.Enqueue(ev, "c"), "closed queue refuses work")
}

func TestRedeliveryQueue_NilIsSafe(t *testing.T) {
	var q *RedeliveryQueue
	assert.False(t, q.Enqueue(&domain.ProviderEvent{}, "x"))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(apperror.ErrPersistenceConflict(nil)))
	assert.True(t, isTransient(apperror.InternalError(errors.New("x"))))
	assert.False(t, isTransient(apperror.ErrInsufficientFunds()))
	assert.False(t, isTransient(errors.New("plain")))
}
