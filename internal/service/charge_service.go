package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	NotifyDepositCredited = "deposit.credited"
	NotifyDepositStatus   = "deposit.status_changed"
)

// ChargeServiceDeps groups ChargeServiceImpl collaborators.
type ChargeServiceDeps struct {
	Charges      ports.ChargeRepository
	Balances     ports.BalanceRepository
	Transactions ports.TransactionRepository
	Transactor   ports.DBTransactor
	Provider     ports.ChargeProvider
	Prices       ports.PriceQuoter
	Assets       *domain.AssetCatalog
	Audit        ports.AuditService
	Notifier     ports.NotificationDispatcher
	Metrics      *Metrics
	ChargeTTL    time.Duration
}

// ChargeServiceImpl implements ports.ChargeService.
type ChargeServiceImpl struct {
	ChargeServiceDeps
	log zerolog.Logger
	now func() time.Time
}

func NewChargeService(deps ChargeServiceDeps, log zerolog.Logger) *ChargeServiceImpl {
	if deps.ChargeTTL <= 0 {
		deps.ChargeTTL = time.Hour
	}
	return &ChargeServiceImpl{
		ChargeServiceDeps: deps,
		log:               logger.Component(log, "charges"),
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// CreateCharge opens a hosted charge at the provider and records it as pending.
func (s *ChargeServiceImpl) CreateCharge(ctx context.Context, req ports.CreateChargeRequest) (*domain.DepositCharge, error) {
	rule, ok := s.Assets.Lookup(req.Asset)
	if !ok {
		return nil, apperror.ErrUnsupportedAsset(req.Asset)
	}
	if !req.USDAmount.IsPositive() {
		return nil, apperror.ErrBadRequest("usd_amount must be positive")
	}
	if req.USDAmount.LessThan(rule.MinDepositUSD) {
		return nil, apperror.ErrBelowMinimum(rule.MinDepositUSD.String() + " USD")
	}

	quote := s.Prices.QuoteUSD(ctx, rule.Symbol)
	if !quote.Price.IsPositive() {
		return nil, apperror.ErrUpstreamUnavailable("prices", fmt.Errorf("no usable %s quote", rule.Symbol))
	}
	cryptoAmount := req.USDAmount.DivRound(quote.Price, rule.Decimals)

	id := uuid.New()
	pc, err := s.Provider.CreateCharge(ctx, ports.ProviderChargeRequest{
		Reference:    id.String(),
		Asset:        rule.Symbol,
		USDAmount:    req.USDAmount,
		CryptoAmount: cryptoAmount,
		Metadata: map[string]string{
			"charge_id": id.String(),
			"user_id":   req.UserID.String(),
			"asset":     rule.Symbol,
		},
	})
	if err != nil {
		return nil, apperror.ErrUpstreamUnavailable("payment provider", err)
	}

	now := s.now()
	expiresAt := pc.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.ChargeTTL)
	}
	charge := &domain.DepositCharge{
		ID:               id,
		ProviderID:       pc.ProviderID,
		Code:             pc.Code,
		UserID:           req.UserID,
		Asset:            rule.Symbol,
		USDAmount:        req.USDAmount,
		CryptoAmount:     cryptoAmount,
		Address:          pc.Address,
		HostedURL:        pc.HostedURL,
		Status:           domain.ChargeStatusPending,
		ConfirmThreshold: rule.Confirmations,
		ExpiresAt:        expiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.Charges.Create(ctx, charge); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, apperror.ErrPersistenceConflict(err)
		}
		return nil, apperror.InternalError(fmt.Errorf("create charge: %w", err))
	}

	actor := req.UserID
	s.Audit.Log(ctx, &domain.AuditLog{
		ActorID: &actor,
		Action:  domain.AuditActionChargeCreated,
		Metadata: map[string]interface{}{
			"charge_id":     charge.ID.String(),
			"provider_id":   charge.ProviderID,
			"asset":         charge.Asset,
			"usd_amount":    charge.USDAmount.String(),
			"crypto_amount": charge.CryptoAmount.String(),
			"price_source":  quote.Source,
		},
		Origin: req.Origin,
	})

	s.log.Info().
		Str("charge_id", charge.ID.String()).
		Str("provider_id", charge.ProviderID).
		Str("asset", charge.Asset).
		Str("crypto_amount", charge.CryptoAmount.String()).
		Msg("deposit charge created")

	return charge, nil
}

// GetCharge returns a charge owned by userID.
func (s *ChargeServiceImpl) GetCharge(ctx context.Context, userID, chargeID uuid.UUID) (*domain.DepositCharge, error) {
	charge, err := s.Charges.GetByID(ctx, chargeID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get charge: %w", err))
	}
	if charge == nil || charge.UserID != userID {
		return nil, apperror.ErrNotFound("charge")
	}
	return charge, nil
}

// ApplyEvent runs one provider event through the charge state machine.
//
// The charge row is locked for the whole transaction. On credit the balance
// delta, the deposit ledger entry and the credited flag commit together, so
// a redelivered event either sees credited=true or finds nothing applied.
func (s *ChargeServiceImpl) ApplyEvent(ctx context.Context, ev *domain.ProviderEvent) (*ports.ChargeOutcome, error) {
	providerID := ev.Charge.ProviderID
	if providerID == "" {
		return &ports.ChargeOutcome{}, nil
	}

	// Unlocked read: skips unknown charges without a transaction and tells us
	// which asset to price before any lock is held.
	peek, err := s.Charges.GetByProviderID(ctx, providerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load charge: %w", err))
	}
	if peek == nil {
		return &ports.ChargeOutcome{}, nil
	}

	var quote ports.Quote
	if ev.Type == domain.EventConfirmed && !peek.Credited {
		quote = s.Prices.QuoteUSD(ctx, peek.Asset)
	}

	dbTx, err := s.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	charge, err := s.Charges.GetByProviderIDForUpdate(ctx, dbTx, providerID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock charge: %w", err))
	}
	if charge == nil {
		return &ports.ChargeOutcome{}, nil
	}

	decision := charge.Decide(ev)
	outcome := &ports.ChargeOutcome{Charge: charge, Decision: decision}

	var txn *domain.Transaction
	switch decision.Action {
	case domain.ChargeActionNone:
		s.log.Debug().
			Str("provider_id", providerID).
			Str("event", string(ev.Type)).
			Str("reason", decision.Reason).
			Msg("charge event is a no-op")
		return outcome, nil

	case domain.ChargeActionUpdate:
		if err := s.Charges.UpdateProgress(ctx, dbTx, charge.ID, decision.Status, decision.Confirmations, decision.NetworkTx); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("update charge: %w", err))
		}

	case domain.ChargeActionCredit:
		newBalance, err := s.Balances.ApplyDelta(ctx, dbTx, charge.UserID, charge.Asset, decision.CreditAmount)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("credit balance: %w", err))
		}

		now := s.now()
		txn = &domain.Transaction{
			ID:        uuid.New(),
			UserID:    charge.UserID,
			Type:      domain.TransactionTypeDeposit,
			Asset:     charge.Asset,
			Amount:    decision.CreditAmount,
			USDValue:  usdValue(decision.CreditAmount, quote.Price),
			Fee:       decimal.Zero,
			FeeUSD:    decimal.Zero,
			Status:    domain.TransactionStatusCompleted,
			ChargeID:  &charge.ID,
			NetworkTx: decision.NetworkTx,
			Notes:     []string{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.Transactions.Create(ctx, dbTx, txn); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				return nil, apperror.ErrPersistenceConflict(err)
			}
			return nil, apperror.InternalError(fmt.Errorf("record deposit: %w", err))
		}

		if err := s.Charges.MarkCredited(ctx, dbTx, charge.ID, txn.ID, decision.Confirmations, decision.NetworkTx); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return nil, apperror.ErrPersistenceConflict(err)
			}
			return nil, apperror.InternalError(fmt.Errorf("mark credited: %w", err))
		}
		outcome.Credited = true
		outcome.Balance = newBalance
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if outcome.Credited {
		s.afterCredit(ctx, charge, decision, txn, quote)
	} else {
		s.afterUpdate(ctx, charge, decision, ev)
	}
	return outcome, nil
}

func (s *ChargeServiceImpl) afterCredit(ctx context.Context, charge *domain.DepositCharge, d domain.ChargeDecision, txn *domain.Transaction, quote ports.Quote) {
	s.Metrics.ObserveCredit(charge.Asset)

	s.log.Info().
		Str("charge_id", charge.ID.String()).
		Str("tx_id", txn.ID.String()).
		Str("user_id", charge.UserID.String()).
		Str("asset", charge.Asset).
		Str("amount", d.CreditAmount.String()).
		Int("confirmations", d.Confirmations).
		Msg("deposit credited")

	s.Audit.Log(ctx, &domain.AuditLog{
		Action: domain.AuditActionDepositCredited,
		Metadata: map[string]interface{}{
			"charge_id":      charge.ID.String(),
			"transaction_id": txn.ID.String(),
			"user_id":        charge.UserID.String(),
			"asset":          charge.Asset,
			"amount":         d.CreditAmount.String(),
			"usd_value":      txn.USDValue.String(),
			"price_source":   quote.Source,
			"confirmations":  d.Confirmations,
		},
		Origin: domain.OriginWebhook,
	})

	user := charge.UserID
	s.Notifier.Dispatch(domain.Notification{
		Audience: domain.AudienceUser,
		UserID:   &user,
		Event:    NotifyDepositCredited,
		Data: map[string]interface{}{
			"charge_id": charge.ID.String(),
			"asset":     charge.Asset,
			"amount":    d.CreditAmount.String(),
		},
	})
}

func (s *ChargeServiceImpl) afterUpdate(ctx context.Context, charge *domain.DepositCharge, d domain.ChargeDecision, ev *domain.ProviderEvent) {
	s.log.Info().
		Str("charge_id", charge.ID.String()).
		Str("event", string(ev.Type)).
		Str("from", string(charge.Status)).
		Str("to", string(d.Status)).
		Int("confirmations", d.Confirmations).
		Msg("charge progressed")

	s.Audit.Log(ctx, &domain.AuditLog{
		Action: domain.AuditActionChargeUpdated,
		Metadata: map[string]interface{}{
			"charge_id":     charge.ID.String(),
			"event":         string(ev.Type),
			"from":          string(charge.Status),
			"to":            string(d.Status),
			"confirmations": d.Confirmations,
		},
		Origin: domain.OriginWebhook,
	})

	if d.Status == charge.Status {
		return
	}
	user := charge.UserID
	s.Notifier.Dispatch(domain.Notification{
		Audience: domain.AudienceUser,
		UserID:   &user,
		Event:    NotifyDepositStatus,
		Data: map[string]interface{}{
			"charge_id": charge.ID.String(),
			"status":    string(d.Status),
		},
	})
}

func usdValue(amount, price decimal.Decimal) decimal.Decimal {
	return amount.Mul(price).Round(2)
}
