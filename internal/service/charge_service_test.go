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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type chargeTestDeps struct {
	svc          *ChargeServiceImpl
	charges      *mocks.MockChargeRepository
	balances     *mocks.MockBalanceRepository
	transactions *mocks.MockTransactionRepository
	transactor   *mocks.MockDBTransactor
	provider     *mocks.MockChargeProvider
	prices       *mocks.MockPriceQuoter
	audit        *mocks.MockAuditService
	notifier     *mocks.MockNotificationDispatcher
	ctrl         *gomock.Controller
}

func setupChargeService(t *testing.T) *chargeTestDeps {
	ctrl := gomock.NewController(t)
	d := &chargeTestDeps{
		charges:      mocks.NewMockChargeRepository(ctrl),
		balances:     mocks.NewMockBalanceRepository(ctrl),
		transactions: mocks.NewMockTransactionRepository(ctrl),
		transactor:   mocks.NewMockDBTransactor(ctrl),
		provider:     mocks.NewMockChargeProvider(ctrl),
		prices:       mocks.NewMockPriceQuoter(ctrl),
		audit:        mocks.NewMockAuditService(ctrl),
		notifier:     mocks.NewMockNotificationDispatcher(ctrl),
		ctrl:         ctrl,
	}
	d.svc = NewChargeService(ChargeServiceDeps{
		Charges:      d.charges,
		Balances:     d.balances,
		Transactions: d.transactions,
		Transactor:   d.transactor,
		Provider:     d.provider,
		Prices:       d.prices,
		Assets:       testCatalog(),
		Audit:        d.audit,
		Notifier:     d.notifier,
	}, newTestLogger())
	return d
}

func confirmingCharge() *domain.DepositCharge {
	return &domain.DepositCharge{
		ID:               uuid.New(),
		ProviderID:       "ch_btc_1",
		UserID:           uuid.New(),
		Asset:            "BTC",
		USDAmount:        decimal.NewFromInt(3000),
		CryptoAmount:     decimal.RequireFromString("0.05"),
		Status:           domain.ChargeStatusConfirming,
		Confirmations:    1,
		ConfirmThreshold: 3,
	}
}

func confirmedEvent(providerID string, confirmations int, amount string) *domain.ProviderEvent {
	ev := &domain.ProviderEvent{
		ID:     uuid.NewString(),
		Type:   domain.EventConfirmed,
		Charge: domain.ChargeRef{ProviderID: providerID},
	}
	info := &domain.PaymentInfo{Status: "CONFIRMED", Confirmations: &confirmations}
	if amount != "" {
		a := decimal.RequireFromString(amount)
		info.CryptoAmount = &a
	}
	ev.Payment = info
	return ev
}

// ==================== ApplyEvent ====================

func TestChargeService_ApplyEvent_Credits(t *testing.T) {
	d := setupChargeService(t)
	ctx := context.Background()
	tx := &mockTx{}
	charge := confirmingCharge()

	d.charges.EXPECT().GetByProviderID(ctx, "ch_btc_1").Return(charge, nil)
	d.prices.EXPECT().QuoteUSD(ctx, "BTC").Return(ports.Quote{Asset: "BTC", Price: decimal.NewFromInt(60000), Source: QuoteSourceFeed})
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.charges.EXPECT().GetByProviderIDForUpdate(ctx, tx, "ch_btc_1").Return(charge, nil)
	d.balances.EXPECT().ApplyDelta(ctx, tx, charge.UserID, "BTC", decEq("0.049")).Return(decimal.RequireFromString("1.049"), nil)

	var recorded *domain.Transaction
	d.transactions.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
		recorded = txn
		return nil
	})
	d.charges.EXPECT().MarkCredited(ctx, tx, charge.ID, gomock.Any(), 3, nil).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, _ uuid.UUID, txID uuid.UUID, _ int, _ *string) error {
			assert.Equal(t, recorded.ID, txID)
			return nil
		})
	d.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, e *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionDepositCredited, e.Action)
		assert.Equal(t, domain.OriginWebhook, e.Origin)
	})
	d.notifier.EXPECT().Dispatch(gomock.Any()).Do(func(n domain.Notification) {
		assert.Equal(t, NotifyDepositCredited, n.Event)
		assert.Equal(t, charge.UserID, *n.UserID)
	})

	out, err := d.svc.ApplyEvent(ctx, confirmedEvent("ch_btc_1", 3, "0.049"))
	require.NoError(t, err)
	assert.True(t, out.Credited)
	assert.Equal(t, "1.049", out.Balance.String())
	assert.True(t, tx.committed)

	require.NotNil(t, recorded)
	assert.Equal(t, domain.TransactionTypeDeposit, recorded.Type)
	assert.Equal(t, domain.TransactionStatusCompleted, recorded.Status)
	assert.Equal(t, "2940", recorded.USDValue.String())
	assert.Equal(t, &charge.ID, recorded.ChargeID)
}

func TestChargeService_ApplyEvent_BelowThreshold(t *testing.T) {
	d := setupChargeService(t)
	ctx := context.Background()
	tx := &mockTx{}
	charge := confirmingCharge()
	charge.Status = domain.ChargeStatusDetected
	charge.Confirmations = 0

	d.charges.EXPECT().GetByProviderID(ctx, "ch_btc_1").Return(charge, nil)
	d.prices.EXPECT().QuoteUSD(ctx, "BTC").Return(ports.Quote{Price: decimal.NewFromInt(60000)})
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.charges.EXPECT().GetByProviderIDForUpdate(ctx, tx, "ch_btc_1").Return(charge, nil)
	d.charges.EXPECT().UpdateProgress(ctx, tx, charge.ID, domain.ChargeStatusConfirming, 1, nil).Return(nil)
	d.audit.EXPECT().Log(gomock.Any(), gomock.Any())
	d.notifier.EXPECT().Dispatch(gomock.Any())

	out, err := d.svc.ApplyEvent(ctx, confirmedEvent("ch_btc_1", 1, "0.05"))
	require.NoError(t, err)
	assert.False(t, out.Credited)
	assert.Equal(t, domain.ChargeActionUpdate, out.Decision.Action)
	assert.True(t, tx.committed)
}

func TestChargeService_ApplyEvent_AlreadyCredited(t *testing.T) {
	d := setupChargeService(t)
	ctx := context.Background()
	tx := &mockTx{}
	charge := confirmingCharge()
	charge.Credited = true
	charge.Status = domain.ChargeStatusCompleted

	d.charges.EXPECT().GetByProviderID(ctx, "ch_btc_1").Return(charge, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.charges.EXPECT().GetByProviderIDForUpdate(ctx, tx, "ch_btc_1").Return(charge, nil)

	out, err := d.svc.ApplyEvent(ctx, confirmedEvent("ch_btc_1", 5, "0.05"))
	require.NoError(t, err)
	assert.False(t, out.Credited)
	assert.Equal(t, domain.ChargeActionNone, out.Decision.Action)
	assert.False(t, tx.committed)
}

func TestChargeService_ApplyEvent_UnknownCharge(t *testing.T) {
	d := setupChargeService(t)
	ctx := context.Background()

	d.charges.EXPECT().GetByProviderID(ctx, "ch_unknown").Return(nil, nil)

	out, err := d.svc.ApplyEvent(ctx, confirmedEvent("ch_unknown", 3, "1"))
	require.NoError(t, err)
	assert.Nil(t, out.Charge)
}

func TestChargeService_ApplyEvent_MissingChargeID(t *testing.T) {
	d := setupChargeService(t)

	out, err := d.svc.ApplyEvent(context.Background(), &domain.ProviderEvent{Type: domain.EventPending})
	require.NoError(t, err)
	assert.Nil(t, out.Charge)
}

func TestChargeService_ApplyEvent_LostCreditRace(t *testing.T) {
	d := setupChargeService(t)
	ctx := context.Background()
	tx := &mockTx{}
	charge := confirmingCharge()

	d.charges.EXPECT().GetByProviderID(ctx, "ch_btc_1").Return(charge, nil)
	d.prices.EXPECT().QuoteUSD(ctx, "BTC").Return(ports.Quote{Price: decimal.NewFromInt(60000)})
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.charges.EXPECT().GetByProviderIDForUpdate(ctx, tx, "ch_btc_1").Return(charge, nil)
	d.balances.EXPECT().ApplyDelta(ctx, tx, charge.UserID, "BTC", gomock.Any()).Return(decimal.NewFromInt(1), nil)
	d.transactions.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.charges.EXPECT().MarkCredited(ctx, tx, charge.ID, gomock.Any(), 3, nil).Return(domain.ErrConflict)

	_, err := d.svc.ApplyEvent(ctx, confirmedEvent("ch_btc_1", 3, ""))
	require.Error(t, err)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "LED_003", appErr.Code)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestChargeService_ApplyEvent_BeginFails(t *testing.T) {
	d := setupChargeService(t)
	ctx := context.Background()

	d.charges.EXPECT().GetByProviderID(ctx, "ch_btc_1").Return(confirmingCharge(), nil)
	d.prices.EXPECT().QuoteUSD(ctx, "BTC").Return(ports.Quote{})
	d.transactor.EXPECT().Begin(ctx).Return(nil, errors.New("pool exhausted"))

	_, err := d.svc.ApplyEvent(ctx, confirmedEvent("ch_btc_1", 3, ""))
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "SYS_001", appErr.Code)
}

// ==================== CreateCharge / GetCharge ====================

func TestChargeService_CreateCharge(t *testing.T) {
	d := setupChargeService(t)
	ctx := context.Background()
	user := uuid.New()
	expires := time.Date(2026, 10, 18, 13, 0, 0, 0, time.UTC)

	d.prices.EXPECT().QuoteUSD(ctx, "BTC").Return(ports.Quote{Asset: "BTC", Price: decimal.NewFromInt(60000), Source: QuoteSourceCache})
	d.provider.EXPECT().CreateCharge(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, req ports.ProviderChargeRequest) (*ports.ProviderCharge, error) {
		assert.Equal(t, "0.05", req.CryptoAmount.String())
		assert.Equal(t, user.String(), req.Metadata["user_id"])
		return &ports.ProviderCharge{ProviderID: "ch_new", Code: "ABCD", Address: "bc1q", HostedURL: "https://pay/ABCD", ExpiresAt: expires}, nil
	})
	d.charges.EXPECT().Create(ctx, gomock.Any()).Return(nil)
	d.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, e *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionChargeCreated, e.Action)
		assert.Equal(t, "203.0.113.9; curl/8", e.Origin)
	})

	charge, err := d.svc.CreateCharge(ctx, ports.CreateChargeRequest{
		UserID: user, Asset: "btc", USDAmount: decimal.NewFromInt(3000), Origin: "203.0.113.9; curl/8",
	})
	require.NoError(t, err)
	assert.Equal(t, "BTC", charge.Asset)
	assert.Equal(t, domain.ChargeStatusPending, charge.Status)
	assert.Equal(t, 3, charge.ConfirmThreshold)
	assert.Equal(t, expires, charge.ExpiresAt)
	assert.False(t, charge.Credited)
}

func TestChargeService_CreateCharge_Validation(t *testing.T) {
	d := setupChargeService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  ports.CreateChargeRequest
		code string
	}{
		{"unsupported asset", ports.CreateChargeRequest{Asset: "DOGE", USDAmount: decimal.NewFromInt(50)}, "REQ_002"},
		{"zero amount", ports.CreateChargeRequest{Asset: "BTC", USDAmount: decimal.Zero}, "REQ_001"},
		{"below minimum", ports.CreateChargeRequest{Asset: "BTC", USDAmount: decimal.NewFromInt(5)}, "REQ_003"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.svc.CreateCharge(ctx, tt.req)
			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestChargeService_CreateCharge_ProviderDown(t *testing.T) {
	d := setupChargeService(t)
	ctx := context.Background()

	d.prices.EXPECT().QuoteUSD(ctx, "ETH").Return(ports.Quote{Price: decimal.NewFromInt(3000)})
	d.provider.EXPECT().CreateCharge(ctx, gomock.Any()).Return(nil, errors.New("503"))

	_, err := d.svc.CreateCharge(ctx, ports.CreateChargeRequest{UserID: uuid.New(), Asset: "ETH", USDAmount: decimal.NewFromInt(100)})
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "UPS_001", appErr.Code)
}

func TestChargeService_GetCharge_OwnerOnly(t *testing.T) {
	d := setupChargeService(t)
	ctx := context.Background()
	charge := confirmingCharge()

	d.charges.EXPECT().GetByID(ctx, charge.ID).Return(charge, nil).Times(2)

	got, err := d.svc.GetCharge(ctx, charge.UserID, charge.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.ID, got.ID)

	_, err = d.svc.GetCharge(ctx, uuid.New(), charge.ID)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "LED_002", appErr.Code)
}
