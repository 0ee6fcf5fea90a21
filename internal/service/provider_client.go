package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/logger"

	"github.com/failsafe-go/failsafe-go"
	"github.com/rs/zerolog"
)

const providerAPIVersion = "2018-03-22"

// networkByAsset maps ledger symbols to the provider's address keys.
var networkByAsset = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"USDC": "usdc",
	"LTC":  "litecoin",
}

// ProviderClientConfig configures ProviderClient.
type ProviderClientConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	Retries     int
	RedirectURL string
}

// ProviderClient implements ports.ChargeProvider against a hosted-checkout
// charge API.
type ProviderClient struct {
	cfg      ProviderClientConfig
	client   HTTPClient
	executor failsafe.Executor[*http.Response]
	log      zerolog.Logger
}

func NewProviderClient(cfg ProviderClientConfig, client HTTPClient, log zerolog.Logger) *ProviderClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ProviderClient{
		cfg:      cfg,
		client:   client,
		executor: newHTTPExecutor(retryConfig{MaxRetries: cfg.Retries, BaseDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second}),
		log:      logger.Component(log, "provider"),
	}
}

type providerMoney struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type createChargeBody struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	PricingType string            `json:"pricing_type"`
	LocalPrice  providerMoney     `json:"local_price"`
	Metadata    map[string]string `json:"metadata"`
	RedirectURL string            `json:"redirect_url,omitempty"`
}

type chargeEnvelope struct {
	Data struct {
		ID        string            `json:"id"`
		Code      string            `json:"code"`
		HostedURL string            `json:"hosted_url"`
		ExpiresAt time.Time         `json:"expires_at"`
		Addresses map[string]string `json:"addresses"`
	} `json:"data"`
}

func (c *ProviderClient) CreateCharge(ctx context.Context, req ports.ProviderChargeRequest) (*ports.ProviderCharge, error) {
	body, err := json.Marshal(createChargeBody{
		Name:        req.Asset + " deposit",
		Description: "Deposit " + req.CryptoAmount.String() + " " + req.Asset,
		PricingType: "fixed_price",
		LocalPrice:  providerMoney{Amount: req.USDAmount.StringFixed(2), Currency: "USD"},
		Metadata:    req.Metadata,
		RedirectURL: c.cfg.RedirectURL,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal charge request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := doHTTP(ctx, c.client, c.executor, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/charges", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-CC-Api-Key", c.cfg.APIKey)
		httpReq.Header.Set("X-CC-Version", providerAPIVersion)
		return httpReq, nil
	})
	if err != nil {
		return nil, fmt.Errorf("create provider charge: %w", err)
	}
	defer resp.Body.Close()

	var env chargeEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode provider charge: %w", err)
	}
	if env.Data.ID == "" {
		return nil, fmt.Errorf("provider charge response has no id")
	}

	c.log.Debug().Str("provider_id", env.Data.ID).Str("code", env.Data.Code).Msg("provider charge created")

	return &ports.ProviderCharge{
		ProviderID: env.Data.ID,
		Code:       env.Data.Code,
		Address:    env.Data.Addresses[networkByAsset[req.Asset]],
		HostedURL:  env.Data.HostedURL,
		ExpiresAt:  env.Data.ExpiresAt,
	}, nil
}
