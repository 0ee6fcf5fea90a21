package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// EventType is the provider event kind with any "charge:" prefix removed.
type EventType string

const (
	EventCreated   EventType = "created"
	EventPending   EventType = "pending"
	EventConfirmed EventType = "confirmed"
	EventFailed    EventType = "failed"
	EventExpired   EventType = "expired"
	EventDelayed   EventType = "delayed"
	EventResolved  EventType = "resolved"
	EventUnknown   EventType = "unknown"
)

func parseEventType(raw string) EventType {
	t := EventType(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "charge:"))
	switch t {
	case EventCreated, EventPending, EventConfirmed, EventFailed, EventExpired, EventDelayed, EventResolved:
		return t
	}
	return EventUnknown
}

// ChargeRef identifies the charge an event refers to.
type ChargeRef struct {
	ProviderID string
	Code       string
	Metadata   map[string]interface{}
}

// PaymentInfo is the most recent payment attached to a charge event.
// Absent fields stay nil rather than defaulting.
type PaymentInfo struct {
	Status         string
	NetworkTx      string
	CryptoAmount   *decimal.Decimal
	CryptoCurrency string
	Confirmations  *int
}

// ProviderEvent is a parsed payment-provider webhook.
type ProviderEvent struct {
	ID      string
	Type    EventType
	RawType string
	Charge  ChargeRef
	Payment *PaymentInfo
}

func (e *ProviderEvent) Confirmations() int {
	if e.Payment == nil || e.Payment.Confirmations == nil || *e.Payment.Confirmations < 0 {
		return 0
	}
	return *e.Payment.Confirmations
}

func (e *ProviderEvent) NetworkTx() string {
	if e.Payment == nil {
		return ""
	}
	return e.Payment.NetworkTx
}

func (e *ProviderEvent) CryptoAmount() *decimal.Decimal {
	if e.Payment == nil {
		return nil
	}
	return e.Payment.CryptoAmount
}

// PaymentCurrency is the normalized currency of the payment, or "" when the
// payload does not say.
func (e *ProviderEvent) PaymentCurrency() string {
	if e.Payment == nil {
		return ""
	}
	return NormalizeAsset(e.Payment.CryptoCurrency)
}

type wireEnvelope struct {
	Event *wireEvent `json:"event"`
}

type wireEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wireCharge struct {
	ID       string                 `json:"id"`
	Code     string                 `json:"code"`
	Metadata map[string]interface{} `json:"metadata"`
	Payments []wirePayment          `json:"payments"`
}

type wirePayment struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Value         struct {
		Crypto struct {
			Amount   *decimal.Decimal `json:"amount"`
			Currency string           `json:"currency"`
		} `json:"crypto"`
	} `json:"value"`
	Block struct {
		Confirmations *int `json:"confirmations"`
	} `json:"block"`
}

// ParseProviderEvent decodes a webhook body. It fails with ErrMalformedEvent
// when the body is not JSON or lacks an event type. A missing charge id is
// not an error; the caller acknowledges such events without side effects.
func ParseProviderEvent(body []byte) (*ProviderEvent, error) {
	var env wireEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Event == nil || strings.TrimSpace(env.Event.Type) == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	}

	ev := &ProviderEvent{
		ID:      env.Event.ID,
		RawType: env.Event.Type,
		Type:    parseEventType(env.Event.Type),
	}

	if len(env.Event.Data) == 0 || string(env.Event.Data) == "null" {
		return ev, nil
	}
	var ch wireCharge
	if err := json.Unmarshal(env.Event.Data, &ch); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformedEvent, err)
	}
	ev.Charge = ChargeRef{ProviderID: ch.ID, Code: ch.Code, Metadata: ch.Metadata}

	if n := len(ch.Payments); n > 0 {
		p := ch.Payments[n-1]
		ev.Payment = &PaymentInfo{
			Status:         p.Status,
			NetworkTx:      p.TransactionID,
			CryptoAmount:   p.Value.Crypto.Amount,
			CryptoCurrency: p.Value.Crypto.Currency,
			Confirmations:  p.Block.Confirmations,
		}
	}
	return ev, nil
}
