package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction tags the kind of audited action.
type AuditAction string

const (
	AuditActionChargeCreated       AuditAction = "deposit.charge_created"
	AuditActionChargeUpdated       AuditAction = "deposit.charge_updated"
	AuditActionDepositCredited     AuditAction = "deposit.credited"
	AuditActionWebhookRejected     AuditAction = "webhook.signature_rejected"
	AuditActionWithdrawalRequested AuditAction = "ledger.withdrawal_requested"
	AuditActionWithdrawalRefunded  AuditAction = "ledger.withdrawal_refunded"
	AuditActionRefundFailed        AuditAction = "ledger.refund_failed"
	AuditActionBalanceAdjusted     AuditAction = "admin.balance_adjusted"
	AuditActionTxStatusUpdated     AuditAction = "admin.transaction_status_updated"
	AuditActionTxNoteAppended      AuditAction = "admin.transaction_note_appended"
	AuditActionAccessDenied        AuditAction = "security.access_denied"
)

// Origins for non-interactive actions. Interactive requests record "ip; user-agent".
const (
	OriginWebhook = "webhook"
	OriginAdmin   = "admin"
	OriginSystem  = "system"
)

// AuditLog is one immutable audit row. ActorID is nil for system actions.
type AuditLog struct {
	ID        uuid.UUID              `json:"id"`
	ActorID   *uuid.UUID             `json:"actor_id,omitempty"`
	Action    AuditAction            `json:"action"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Origin    string                 `json:"origin"`
	CreatedAt time.Time              `json:"created_at"`
}
