package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"custody-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCharge() *domain.DepositCharge {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.DepositCharge{
		ID:               uuid.New(),
		ProviderID:       "ch_" + uuid.NewString()[:8],
		Code:             "K7Q2",
		UserID:           uuid.New(),
		Asset:            "BTC",
		USDAmount:        decimal.RequireFromString("3000"),
		CryptoAmount:     decimal.RequireFromString("0.05"),
		Address:          "bc1qexample",
		HostedURL:        "https://pay.example.com/K7Q2",
		Status:           domain.ChargeStatusPending,
		ConfirmThreshold: 3,
		ExpiresAt:        now.Add(time.Hour),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func chargeColumnNames() []string {
	return []string{"id", "provider_id", "code", "user_id", "asset", "usd_amount", "crypto_amount",
		"address", "hosted_url", "status", "confirmations", "confirm_threshold", "credited", "network_tx",
		"expires_at", "transaction_id", "created_at", "updated_at"}
}

func chargeRow(c *domain.DepositCharge) *pgxmock.Rows {
	return pgxmock.NewRows(chargeColumnNames()).AddRow(
		c.ID, c.ProviderID, c.Code, c.UserID, c.Asset, c.USDAmount.String(), c.CryptoAmount.String(),
		c.Address, c.HostedURL, c.Status, c.Confirmations, c.ConfirmThreshold, c.Credited, c.NetworkTx,
		c.ExpiresAt, c.TransactionID, c.CreatedAt, c.UpdatedAt,
	)
}

func TestChargeRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewChargeRepo(mock)
	c := newTestCharge()

	mock.ExpectExec("INSERT INTO deposit_charges").
		WithArgs(
			c.ID, c.ProviderID, c.Code, c.UserID, c.Asset, "3000", "0.05",
			c.Address, c.HostedURL, c.Status, 0, 3, false, c.NetworkTx,
			c.ExpiresAt, c.TransactionID, c.CreatedAt, c.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), c))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeRepo_Create_DuplicateProviderID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewChargeRepo(mock)

	mock.ExpectExec("INSERT INTO deposit_charges").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = repo.Create(context.Background(), newTestCharge())
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestChargeRepo_GetByProviderID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewChargeRepo(mock)
	c := newTestCharge()
	tx := "0xabc"
	c.NetworkTx = &tx
	c.Confirmations = 2
	c.Status = domain.ChargeStatusConfirming

	mock.ExpectQuery("SELECT .+ FROM deposit_charges WHERE provider_id = \\$1$").
		WithArgs(c.ProviderID).
		WillReturnRows(chargeRow(c))

	got, err := repo.GetByProviderID(context.Background(), c.ProviderID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, domain.ChargeStatusConfirming, got.Status)
	assert.Equal(t, 2, got.Confirmations)
	assert.True(t, got.CryptoAmount.Equal(c.CryptoAmount))
	require.NotNil(t, got.NetworkTx)
	assert.Equal(t, "0xabc", *got.NetworkTx)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeRepo_GetByProviderIDForUpdate_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewChargeRepo(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM deposit_charges WHERE provider_id = \\$1 FOR UPDATE").
		WithArgs("ch_missing").
		WillReturnRows(pgxmock.NewRows(chargeColumnNames()))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	got, err := repo.GetByProviderIDForUpdate(context.Background(), dbTx, "ch_missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeRepo_UpdateProgress(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewChargeRepo(mock)
	id := uuid.New()
	tx := "0xfeed"

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE deposit_charges SET status = \\$2, confirmations = GREATEST\\(confirmations, \\$3\\)").
		WithArgs(id, domain.ChargeStatusConfirming, 1, &tx).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, repo.UpdateProgress(context.Background(), dbTx, id, domain.ChargeStatusConfirming, 1, &tx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeRepo_MarkCredited(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewChargeRepo(mock)
	id, txID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE deposit_charges .+ WHERE id = \\$1 AND credited = FALSE").
		WithArgs(id, domain.ChargeStatusCompleted, txID, 3, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, repo.MarkCredited(context.Background(), dbTx, id, txID, 3, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChargeRepo_MarkCredited_AlreadyCredited(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewChargeRepo(mock)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE deposit_charges").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.MarkCredited(context.Background(), dbTx, uuid.New(), uuid.New(), 3, nil)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestChargeRepo_MarkCredited_StoreError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewChargeRepo(mock)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE deposit_charges").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(fmt.Errorf("connection reset"))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.MarkCredited(context.Background(), dbTx, uuid.New(), uuid.New(), 3, nil)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrConflict)
}
