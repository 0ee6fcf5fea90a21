package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChargeStatus is the provider-side lifecycle of a deposit charge.
type ChargeStatus string

const (
	ChargeStatusPending    ChargeStatus = "pending"
	ChargeStatusDetected   ChargeStatus = "detected"
	ChargeStatusConfirming ChargeStatus = "confirming"
	ChargeStatusCompleted  ChargeStatus = "completed"
	ChargeStatusFailed     ChargeStatus = "failed"
	ChargeStatusUnderpaid  ChargeStatus = "underpaid"
	ChargeStatusResolved   ChargeStatus = "resolved"
)

// IsTerminal reports whether ordinary progress events stop applying.
// Underpaid waits for manual review, so it counts as terminal here.
func (s ChargeStatus) IsTerminal() bool {
	switch s {
	case ChargeStatusCompleted, ChargeStatusFailed, ChargeStatusUnderpaid, ChargeStatusResolved:
		return true
	}
	return false
}

// DepositCharge is one request to receive an on-chain payment.
type DepositCharge struct {
	ID               uuid.UUID       `json:"id"`
	ProviderID       string          `json:"provider_id"`
	Code             string          `json:"code"`
	UserID           uuid.UUID       `json:"user_id"`
	Asset            string          `json:"asset"`
	USDAmount        decimal.Decimal `json:"usd_amount"`
	CryptoAmount     decimal.Decimal `json:"crypto_amount"`
	Address          string          `json:"address"`
	HostedURL        string          `json:"hosted_url"`
	Status           ChargeStatus    `json:"status"`
	Confirmations    int             `json:"confirmations"`
	ConfirmThreshold int             `json:"confirm_threshold"`
	Credited         bool            `json:"credited"`
	NetworkTx        *string         `json:"network_tx,omitempty"`
	ExpiresAt        time.Time       `json:"expires_at"`
	TransactionID    *uuid.UUID      `json:"transaction_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ChargeAction is what the caller must persist after Decide.
type ChargeAction int

const (
	ChargeActionNone ChargeAction = iota
	ChargeActionUpdate
	ChargeActionCredit
)

func (a ChargeAction) String() string {
	switch a {
	case ChargeActionUpdate:
		return "update"
	case ChargeActionCredit:
		return "credit"
	default:
		return "none"
	}
}

// ChargeDecision is the next persisted state of a charge for one event.
type ChargeDecision struct {
	Action        ChargeAction
	Status        ChargeStatus
	Confirmations int
	NetworkTx     *string
	CreditAmount  decimal.Decimal
	Reason        string
}

// Decide computes the transition for ev without side effects.
//
// The credited flag gates crediting, not the status: a confirmed event that
// arrives after failed or resolved still credits once, and any confirmed
// event after the credit is a no-op. Confirmations never decrease. A payment
// in another currency than the charge asset is never credited; the charge is
// parked as underpaid for manual review.
func (c *DepositCharge) Decide(ev *ProviderEvent) ChargeDecision {
	d := ChargeDecision{
		Action:        ChargeActionNone,
		Status:        c.Status,
		Confirmations: c.Confirmations,
		NetworkTx:     c.NetworkTx,
	}
	changed := false

	observe := func() {
		if n := ev.Confirmations(); n > d.Confirmations {
			d.Confirmations = n
			changed = true
		}
		if tx := ev.NetworkTx(); tx != "" && (d.NetworkTx == nil || *d.NetworkTx != tx) {
			d.NetworkTx = &tx
			changed = true
		}
	}
	setStatus := func(s ChargeStatus) {
		if d.Status != s {
			d.Status = s
			changed = true
		}
	}

	switch ev.Type {
	case EventCreated:
		d.Reason = "charge already recorded"

	case EventPending:
		if c.Status.IsTerminal() {
			d.Reason = "charge is terminal"
			break
		}
		observe()
		if c.Status == ChargeStatusPending {
			setStatus(ChargeStatusDetected)
		}

	case EventConfirmed:
		if c.Credited {
			d.Reason = "already credited"
			return d
		}
		observe()
		if cur := ev.PaymentCurrency(); cur != "" && cur != c.Asset {
			setStatus(ChargeStatusUnderpaid)
			d.Reason = "payment currency " + cur + " does not match charge asset " + c.Asset
			break
		}
		if d.Confirmations < c.ConfirmThreshold {
			if !c.Status.IsTerminal() {
				setStatus(ChargeStatusConfirming)
			}
			d.Reason = "below confirmation threshold"
			break
		}
		amount := c.CryptoAmount
		if a := ev.CryptoAmount(); a != nil && a.IsPositive() {
			amount = *a
		}
		if !amount.IsPositive() {
			d.Reason = "no creditable amount"
			break
		}
		d.Action = ChargeActionCredit
		d.Status = ChargeStatusCompleted
		d.CreditAmount = amount
		d.Reason = "confirmation threshold reached"
		return d

	case EventFailed, EventExpired:
		if c.Status.IsTerminal() {
			d.Reason = "charge is terminal"
			break
		}
		setStatus(ChargeStatusFailed)

	case EventDelayed:
		setStatus(ChargeStatusUnderpaid)

	case EventResolved:
		setStatus(ChargeStatusResolved)

	default:
		d.Reason = "unrecognized event type"
	}

	if changed {
		d.Action = ChargeActionUpdate
	}
	return d
}
