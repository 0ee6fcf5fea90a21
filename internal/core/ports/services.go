package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"time"

	"custody-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secret string, payload []byte) string
	Verify(secret string, payload []byte, signature string) bool
}

// Role is the privilege level carried in a bearer token.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(userID uuid.UUID, role Role) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID uuid.UUID
	Role   Role
}

// IdempotencyCache maps a withdrawal idempotency key to the transaction it
// created. It is a fast path only; the transactions table is authoritative.
type IdempotencyCache interface {
	// Lookup returns uuid.Nil, nil on a miss.
	Lookup(ctx context.Context, key string) (uuid.UUID, error)
	Remember(ctx context.Context, key string, txID uuid.UUID, ttl time.Duration) error
}

// DeliveryStore remembers webhook bodies that were processed successfully.
type DeliveryStore interface {
	Seen(ctx context.Context, fingerprint string) (bool, error)
	MarkProcessed(ctx context.Context, fingerprint string, ttl time.Duration) error
}

// PriceCache holds recent USD quotes.
type PriceCache interface {
	Get(ctx context.Context, asset string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, asset string, price decimal.Decimal, ttl time.Duration) error
}

// --- Outbound collaborators ---

// Quote is a USD price and where it came from ("cache", "feed", "fallback").
type Quote struct {
	Asset  string
	Price  decimal.Decimal
	Source string
}

// PriceQuoter never fails; it degrades to configured fallback prices.
type PriceQuoter interface {
	QuoteUSD(ctx context.Context, asset string) Quote
}

// ChargeProvider creates hosted charges at the payment processor.
type ChargeProvider interface {
	CreateCharge(ctx context.Context, req ProviderChargeRequest) (*ProviderCharge, error)
}

type ProviderChargeRequest struct {
	Reference    string
	Asset        string
	USDAmount    decimal.Decimal
	CryptoAmount decimal.Decimal
	Metadata     map[string]string
}

type ProviderCharge struct {
	ProviderID string
	Code       string
	Address    string
	HostedURL  string
	ExpiresAt  time.Time
}

// Notifier delivers one notification. Implementations may block; callers go
// through NotificationDispatcher instead.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// --- Service Ports (Business Logic) ---

// AuditService records audit entries. It never returns an error.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// NotificationDispatcher hands notifications off without blocking.
type NotificationDispatcher interface {
	Dispatch(n domain.Notification)
}

// ChargeService drives deposit charges.
type ChargeService interface {
	CreateCharge(ctx context.Context, req CreateChargeRequest) (*domain.DepositCharge, error)
	GetCharge(ctx context.Context, userID, chargeID uuid.UUID) (*domain.DepositCharge, error)
	ApplyEvent(ctx context.Context, ev *domain.ProviderEvent) (*ChargeOutcome, error)
}

type CreateChargeRequest struct {
	UserID    uuid.UUID
	Asset     string
	USDAmount decimal.Decimal
	Origin    string
}

// ChargeOutcome reports what ApplyEvent did. Charge is nil for unknown charges.
type ChargeOutcome struct {
	Charge   *domain.DepositCharge
	Decision domain.ChargeDecision
	Credited bool
	Balance  decimal.Decimal
}

// WebhookService authenticates and dispatches provider deliveries.
type WebhookService interface {
	Ingest(ctx context.Context, body []byte, signature string) (*IngestResult, error)
}

// IngestResult is returned for every authenticated, parseable delivery.
type IngestResult struct {
	EventType domain.EventType
	Status    string // processed, ignored, duplicate, deferred, failed
}

// LedgerService covers withdrawals, admin adjustments and ledger reads.
type LedgerService interface {
	RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*domain.Transaction, error)
	AdjustBalance(ctx context.Context, req AdjustmentRequest) (*domain.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, req StatusUpdateRequest) (*domain.Transaction, error)
	AppendNote(ctx context.Context, adminID, txID uuid.UUID, note string) (*domain.Transaction, error)
	ListBalances(ctx context.Context, userID uuid.UUID) ([]domain.Balance, error)
	ListTransactions(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
}

type WithdrawalRequest struct {
	UserID         uuid.UUID
	Asset          string
	Amount         decimal.Decimal
	Address        string
	IdempotencyKey string
	Origin         string
}

type AdjustmentRequest struct {
	AdminID uuid.UUID
	UserID  uuid.UUID
	Asset   string
	Delta   decimal.Decimal
	Reason  string
}

type StatusUpdateRequest struct {
	AdminID       uuid.UUID
	TransactionID uuid.UUID
	Status        domain.TransactionStatus
	Note          string
}
