package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
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
	NotifyWithdrawalRequested = "withdrawal.requested"
	NotifyWithdrawalRefunded  = "withdrawal.refunded"
	NotifyBalanceAdjusted     = "balance.adjusted"
	NotifyTransactionStatus   = "transaction.status_changed"
)

const (
	idempotencyTTL  = 24 * time.Hour
	defaultPageSize = 20
	maxPageSize     = 100
	maxNoteLength   = 1000
)

// LedgerServiceDeps groups LedgerServiceImpl collaborators.
type LedgerServiceDeps struct {
	Balances     ports.BalanceRepository
	Transactions ports.TransactionRepository
	Transactor   ports.DBTransactor
	IdempCache   ports.IdempotencyCache
	Prices       ports.PriceQuoter
	Assets       *domain.AssetCatalog
	Audit        ports.AuditService
	Notifier     ports.NotificationDispatcher
	Metrics      *Metrics
}

// LedgerServiceImpl implements ports.LedgerService.
type LedgerServiceImpl struct {
	LedgerServiceDeps
	log zerolog.Logger
	now func() time.Time
}

func NewLedgerService(deps LedgerServiceDeps, log zerolog.Logger) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		LedgerServiceDeps: deps,
		log:               logger.Component(log, "ledger"),
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// RequestWithdrawal debits amount+fee and records a pending withdrawal.
//
// A repeated Idempotency-Key returns the original transaction. The redis
// cache is a fast path only; the unique (user_id, idempotency_key) index is
// what actually prevents a second debit.
func (s *LedgerServiceImpl) RequestWithdrawal(ctx context.Context, req ports.WithdrawalRequest) (*domain.Transaction, error) {
	rule, ok := s.Assets.Lookup(req.Asset)
	if !ok {
		return nil, apperror.ErrUnsupportedAsset(req.Asset)
	}
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrBadRequest("amount must be positive")
	}
	if !rule.FitsPrecision(req.Amount) {
		return nil, apperror.ErrBadRequest(fmt.Sprintf("amount has more than %d decimal places", rule.Decimals))
	}
	if req.Amount.LessThan(rule.MinWithdrawal) {
		return nil, apperror.ErrBelowMinimum(rule.MinWithdrawal.String() + " " + rule.Symbol)
	}
	address := strings.TrimSpace(req.Address)
	if address == "" {
		return nil, apperror.ErrBadRequest("address is required")
	}

	var idempKey *string
	if k := strings.TrimSpace(req.IdempotencyKey); k != "" {
		key := domain.BuildWithdrawalIdempotencyKey(req.UserID, k)
		idempKey = &key
		if existing, err := s.lookupIdempotent(ctx, key); err != nil || existing != nil {
			return existing, err
		}
	}

	quote := s.Prices.QuoteUSD(ctx, rule.Symbol)
	fee := rule.WithdrawalFee

	dbTx, err := s.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	newBalance, err := s.Balances.ApplyDelta(ctx, dbTx, req.UserID, rule.Symbol, req.Amount.Add(fee).Neg())
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return nil, apperror.ErrInsufficientFunds()
		}
		return nil, apperror.InternalError(fmt.Errorf("debit balance: %w", err))
	}

	now := s.now()
	txn := &domain.Transaction{
		ID:             uuid.New(),
		UserID:         req.UserID,
		Type:           domain.TransactionTypeWithdrawal,
		Asset:          rule.Symbol,
		Amount:         req.Amount,
		USDValue:       usdValue(req.Amount, quote.Price),
		Fee:            fee,
		FeeUSD:         usdValue(fee, quote.Price),
		Status:         domain.TransactionStatusPending,
		Address:        &address,
		IdempotencyKey: idempKey,
		Notes:          []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Transactions.Create(ctx, dbTx, txn); err != nil {
		if errors.Is(err, domain.ErrDuplicate) && idempKey != nil {
			// A concurrent request with the same key won; nothing of ours commits.
			_ = dbTx.Rollback(ctx)
			existing, lerr := s.lookupIdempotent(ctx, *idempKey)
			if lerr != nil || existing != nil {
				return existing, lerr
			}
			return nil, apperror.ErrPersistenceConflict(err)
		}
		return nil, apperror.InternalError(fmt.Errorf("record withdrawal: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if idempKey != nil {
		s.cacheIdempotent(ctx, *idempKey, txn.ID)
	}

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("user_id", req.UserID.String()).
		Str("asset", rule.Symbol).
		Str("amount", req.Amount.String()).
		Str("fee", fee.String()).
		Str("balance", newBalance.String()).
		Str("address", logger.MaskAddress(address)).
		Msg("withdrawal requested")

	actor := req.UserID
	s.Audit.Log(ctx, &domain.AuditLog{
		ActorID: &actor,
		Action:  domain.AuditActionWithdrawalRequested,
		Metadata: map[string]interface{}{
			"transaction_id": txn.ID.String(),
			"asset":          rule.Symbol,
			"amount":         req.Amount.String(),
			"fee":            fee.String(),
			"address":        address,
			"price_source":   quote.Source,
		},
		Origin: req.Origin,
	})

	s.Notifier.Dispatch(domain.Notification{
		Audience: domain.AudienceAdmin,
		Event:    NotifyWithdrawalRequested,
		Data: map[string]interface{}{
			"transaction_id": txn.ID.String(),
			"user_id":        req.UserID.String(),
			"asset":          rule.Symbol,
			"amount":         req.Amount.String(),
			"usd_value":      txn.USDValue.String(),
		},
	})

	return txn, nil
}

// lookupIdempotent resolves a key to the transaction it created: redis for the
// id, then the store. The row is always re-read so a replay reports the
// current status. A redis failure falls through.
func (s *LedgerServiceImpl) lookupIdempotent(ctx context.Context, key string) (*domain.Transaction, error) {
	if s.IdempCache != nil {
		id, err := s.IdempCache.Lookup(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
		}
		if id != uuid.Nil {
			txn, err := s.Transactions.GetByID(ctx, id)
			if err == nil && txn != nil {
				return txn, nil
			}
			s.log.Warn().Err(err).Str("key", key).Str("tx_id", id.String()).Msg("stale idempotency cache entry")
		}
	}

	txn, err := s.Transactions.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("db idempotency check: %w", err))
	}
	if txn != nil {
		s.cacheIdempotent(ctx, key, txn.ID)
	}
	return txn, nil
}

func (s *LedgerServiceImpl) cacheIdempotent(ctx context.Context, key string, txID uuid.UUID) {
	if s.IdempCache == nil {
		return
	}
	if err := s.IdempCache.Remember(ctx, key, txID, idempotencyTTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache idempotency in redis")
	}
}

// AdjustBalance applies a signed manual correction and records it as a
// completed transaction.
func (s *LedgerServiceImpl) AdjustBalance(ctx context.Context, req ports.AdjustmentRequest) (*domain.Transaction, error) {
	rule, ok := s.Assets.Lookup(req.Asset)
	if !ok {
		return nil, apperror.ErrUnsupportedAsset(req.Asset)
	}
	if req.Delta.IsZero() {
		return nil, apperror.ErrBadRequest("delta must not be zero")
	}
	if !rule.FitsPrecision(req.Delta) {
		return nil, apperror.ErrBadRequest(fmt.Sprintf("delta has more than %d decimal places", rule.Decimals))
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, apperror.ErrBadRequest("reason is required")
	}

	quote := s.Prices.QuoteUSD(ctx, rule.Symbol)

	dbTx, err := s.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	newBalance, err := s.Balances.ApplyDelta(ctx, dbTx, req.UserID, rule.Symbol, req.Delta)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return nil, apperror.ErrInsufficientFunds()
		}
		return nil, apperror.InternalError(fmt.Errorf("adjust balance: %w", err))
	}

	txType := domain.TransactionTypeDeposit
	if req.Delta.IsNegative() {
		txType = domain.TransactionTypeWithdrawal
	}
	amount := req.Delta.Abs()
	now := s.now()
	txn := &domain.Transaction{
		ID:        uuid.New(),
		UserID:    req.UserID,
		Type:      txType,
		Asset:     rule.Symbol,
		Amount:    amount,
		USDValue:  usdValue(amount, quote.Price),
		Fee:       decimal.Zero,
		FeeUSD:    decimal.Zero,
		Status:    domain.TransactionStatusCompleted,
		Notes:     []string{reason},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Transactions.Create(ctx, dbTx, txn); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("record adjustment: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("admin_id", req.AdminID.String()).
		Str("user_id", req.UserID.String()).
		Str("asset", rule.Symbol).
		Str("delta", req.Delta.String()).
		Str("balance", newBalance.String()).
		Msg("balance adjusted")

	admin := req.AdminID
	s.Audit.Log(ctx, &domain.AuditLog{
		ActorID: &admin,
		Action:  domain.AuditActionBalanceAdjusted,
		Metadata: map[string]interface{}{
			"transaction_id": txn.ID.String(),
			"user_id":        req.UserID.String(),
			"asset":          rule.Symbol,
			"delta":          req.Delta.String(),
			"reason":         reason,
		},
		Origin: domain.OriginAdmin,
	})

	user := req.UserID
	s.Notifier.Dispatch(domain.Notification{
		Audience: domain.AudienceUser,
		UserID:   &user,
		Event:    NotifyBalanceAdjusted,
		Data: map[string]interface{}{
			"asset":   rule.Symbol,
			"delta":   req.Delta.String(),
			"balance": newBalance.String(),
		},
	})

	return txn, nil
}

// UpdateTransactionStatus moves a transaction to a new review status.
//
// A terminal transaction is returned unchanged. The status write is a
// compare-and-swap on the previous status, so exactly one caller can move a
// withdrawal into failed or cancelled, and only that caller refunds it.
func (s *LedgerServiceImpl) UpdateTransactionStatus(ctx context.Context, req ports.StatusUpdateRequest) (*domain.Transaction, error) {
	if !req.Status.Valid() {
		return nil, apperror.ErrBadRequest(fmt.Sprintf("unknown status %q", req.Status))
	}
	note := strings.TrimSpace(req.Note)
	if len(note) > maxNoteLength {
		return nil, apperror.ErrBadRequest("note is too long")
	}

	dbTx, err := s.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.Transactions.GetByIDForUpdate(ctx, dbTx, req.TransactionID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}

	prev := txn.Status
	if prev.IsTerminal() || prev == req.Status {
		s.log.Debug().
			Str("tx_id", txn.ID.String()).
			Str("status", string(prev)).
			Str("requested", string(req.Status)).
			Msg("status update is a no-op")
		return txn, nil
	}
	if !prev.CanMoveTo(req.Status) {
		return nil, apperror.ErrInvalidStatusTransition(string(prev), string(req.Status))
	}
	refundDue := txn.RefundDue(req.Status)

	if err := s.Transactions.UpdateStatus(ctx, dbTx, txn.ID, prev, req.Status); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, apperror.ErrPersistenceConflict(err)
		}
		return nil, apperror.InternalError(fmt.Errorf("update status: %w", err))
	}
	if note != "" {
		if err := s.Transactions.AppendNote(ctx, dbTx, txn.ID, note); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("append note: %w", err))
		}
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	txn.Status = req.Status
	txn.UpdatedAt = s.now()
	if note != "" {
		txn.Notes = append(txn.Notes, note)
	}

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("admin_id", req.AdminID.String()).
		Str("from", string(prev)).
		Str("to", string(req.Status)).
		Msg("transaction status updated")

	admin := req.AdminID
	s.Audit.Log(ctx, &domain.AuditLog{
		ActorID: &admin,
		Action:  domain.AuditActionTxStatusUpdated,
		Metadata: map[string]interface{}{
			"transaction_id": txn.ID.String(),
			"from":           string(prev),
			"to":             string(req.Status),
			"note":           note,
		},
		Origin: domain.OriginAdmin,
	})

	if refundDue {
		s.refundWithdrawal(ctx, txn, admin)
	}

	user := txn.UserID
	s.Notifier.Dispatch(domain.Notification{
		Audience: domain.AudienceUser,
		UserID:   &user,
		Event:    NotifyTransactionStatus,
		Data: map[string]interface{}{
			"transaction_id": txn.ID.String(),
			"type":           string(txn.Type),
			"status":         string(txn.Status),
		},
	})

	return txn, nil
}

// refundWithdrawal returns amount+fee after a withdrawal was failed or
// cancelled. Failures are logged and audited for manual reconciliation; the
// status change has already committed.
func (s *LedgerServiceImpl) refundWithdrawal(ctx context.Context, txn *domain.Transaction, admin uuid.UUID) {
	credit := txn.Debit()
	log := s.log.With().
		Str("tx_id", txn.ID.String()).
		Str("user_id", txn.UserID.String()).
		Str("asset", txn.Asset).
		Str("refund", credit.String()).
		Logger()

	balance, err := s.applyRefund(ctx, txn, credit)
	s.Metrics.ObserveRefund(err)

	meta := map[string]interface{}{
		"transaction_id": txn.ID.String(),
		"user_id":        txn.UserID.String(),
		"asset":          txn.Asset,
		"amount":         credit.String(),
	}
	if err != nil {
		log.Error().Err(err).Msg("withdrawal refund failed, manual reconciliation required")
		meta["error"] = err.Error()
		s.Audit.Log(ctx, &domain.AuditLog{
			ActorID:  &admin,
			Action:   domain.AuditActionRefundFailed,
			Metadata: meta,
			Origin:   domain.OriginSystem,
		})
		return
	}

	log.Info().Str("balance", balance.String()).Msg("withdrawal refunded")
	s.Audit.Log(ctx, &domain.AuditLog{
		ActorID:  &admin,
		Action:   domain.AuditActionWithdrawalRefunded,
		Metadata: meta,
		Origin:   domain.OriginSystem,
	})

	user := txn.UserID
	s.Notifier.Dispatch(domain.Notification{
		Audience: domain.AudienceUser,
		UserID:   &user,
		Event:    NotifyWithdrawalRefunded,
		Data: map[string]interface{}{
			"transaction_id": txn.ID.String(),
			"asset":          txn.Asset,
			"amount":         credit.String(),
		},
	})
}

func (s *LedgerServiceImpl) applyRefund(ctx context.Context, txn *domain.Transaction, credit decimal.Decimal) (decimal.Decimal, error) {
	dbTx, err := s.Transactor.Begin(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	balance, err := s.Balances.ApplyDelta(ctx, dbTx, txn.UserID, txn.Asset, credit)
	if err != nil {
		return decimal.Zero, fmt.Errorf("credit refund: %w", err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("commit tx: %w", err)
	}
	return balance, nil
}

// AppendNote adds an admin note. Notes are never edited or removed.
func (s *LedgerServiceImpl) AppendNote(ctx context.Context, adminID, txID uuid.UUID, note string) (*domain.Transaction, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, apperror.ErrBadRequest("note is required")
	}
	if len(note) > maxNoteLength {
		return nil, apperror.ErrBadRequest("note is too long")
	}

	dbTx, err := s.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.Transactions.GetByIDForUpdate(ctx, dbTx, txID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if err := s.Transactions.AppendNote(ctx, dbTx, txID, note); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("append note: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	txn.Notes = append(txn.Notes, note)

	s.Audit.Log(ctx, &domain.AuditLog{
		ActorID: &adminID,
		Action:  domain.AuditActionTxNoteAppended,
		Metadata: map[string]interface{}{
			"transaction_id": txID.String(),
			"note":           note,
		},
		Origin: domain.OriginAdmin,
	})
	return txn, nil
}

func (s *LedgerServiceImpl) ListBalances(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error) {
	balances, err := s.Balances.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list balances: %w", err))
	}
	if balances == nil {
		balances = []domain.Balance{}
	}
	return balances, nil
}

// ListTransactions returns one page of a user's transactions, newest first.
func (s *LedgerServiceImpl) ListTransactions(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}
	if params.Asset != nil {
		asset := domain.NormalizeAsset(*params.Asset)
		params.Asset = &asset
	}
	if params.Status != nil && !params.Status.Valid() {
		return nil, 0, apperror.ErrBadRequest(fmt.Sprintf("unknown status %q", *params.Status))
	}
	if params.Type != nil && *params.Type != domain.TransactionTypeDeposit && *params.Type != domain.TransactionTypeWithdrawal {
		return nil, 0, apperror.ErrBadRequest(fmt.Sprintf("unknown type %q", *params.Type))
	}

	txns, total, err := s.Transactions.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(fmt.Errorf("list transactions: %w", err))
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	return txns, total, nil
}
