package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/logger"

	"github.com/failsafe-go/failsafe-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	QuoteSourceCache    = "cache"
	QuoteSourceFeed     = "feed"
	QuoteSourceFallback = "fallback"
)

// PriceQuoterConfig configures PriceService.
type PriceQuoterConfig struct {
	URL      string
	Timeout  time.Duration
	CacheTTL time.Duration
	Retries  int
}

// PriceService implements ports.PriceQuoter. A quote is always produced;
// feed or cache failures degrade to the asset's configured fallback price.
type PriceService struct {
	cfg      PriceQuoterConfig
	assets   *domain.AssetCatalog
	cache    ports.PriceCache
	client   HTTPClient
	executor failsafe.Executor[*http.Response]
	metrics  *Metrics
	log      zerolog.Logger
}

// NewPriceService creates a quoter. cache may be nil; an empty URL disables the feed.
func NewPriceService(cfg PriceQuoterConfig, assets *domain.AssetCatalog, cache ports.PriceCache, client HTTPClient, metrics *Metrics, log zerolog.Logger) *PriceService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &PriceService{
		cfg:      cfg,
		assets:   assets,
		cache:    cache,
		client:   client,
		executor: newHTTPExecutor(retryConfig{MaxRetries: cfg.Retries, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}),
		metrics:  metrics,
		log:      logger.Component(log, "prices"),
	}
}

type priceFeedResponse struct {
	OK   bool `json:"ok"`
	Data []struct {
		Sym      string          `json:"sym"`
		PriceRaw json.RawMessage `json:"priceRaw"`
	} `json:"data"`
}

func (s *PriceService) QuoteUSD(ctx context.Context, asset string) ports.Quote {
	asset = domain.NormalizeAsset(asset)

	if s.cache != nil {
		price, ok, err := s.cache.Get(ctx, asset)
		if err != nil {
			s.log.Warn().Err(err).Str("asset", asset).Msg("price cache read failed")
		} else if ok {
			s.metrics.ObserveQuote(QuoteSourceCache)
			return ports.Quote{Asset: asset, Price: price, Source: QuoteSourceCache}
		}
	}

	if s.cfg.URL != "" {
		prices, err := s.fetch(ctx)
		if err != nil {
			s.log.Warn().Err(err).Str("asset", asset).Msg("price feed unavailable, using fallback")
		} else if price, ok := prices[asset]; ok {
			s.store(ctx, prices)
			s.metrics.ObserveQuote(QuoteSourceFeed)
			return ports.Quote{Asset: asset, Price: price, Source: QuoteSourceFeed}
		} else {
			s.log.Warn().Str("asset", asset).Msg("price feed has no quote for asset, using fallback")
		}
	}

	s.metrics.ObserveQuote(QuoteSourceFallback)
	rule, ok := s.assets.Lookup(asset)
	if !ok {
		return ports.Quote{Asset: asset, Price: decimal.Zero, Source: QuoteSourceFallback}
	}
	return ports.Quote{Asset: asset, Price: rule.FallbackUSD, Source: QuoteSourceFallback}
}

// fetch returns every positive quote in the feed, keyed by upper-case symbol.
func (s *PriceService) fetch(ctx context.Context) (map[string]decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := doHTTP(ctx, s.client, s.executor, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var feed priceFeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode price feed: %w", err)
	}
	if !feed.OK {
		return nil, fmt.Errorf("price feed reported ok=false")
	}

	out := make(map[string]decimal.Decimal, len(feed.Data))
	for _, q := range feed.Data {
		price, err := decimal.NewFromString(strings.Trim(string(q.PriceRaw), `"`))
		if err != nil || !price.IsPositive() {
			continue
		}
		out[domain.NormalizeAsset(q.Sym)] = price
	}
	return out, nil
}

func (s *PriceService) store(ctx context.Context, prices map[string]decimal.Decimal) {
	if s.cache == nil || s.cfg.CacheTTL <= 0 {
		return
	}
	for sym, price := range prices {
		if _, ok := s.assets.Lookup(sym); !ok {
			continue
		}
		if err := s.cache.Set(ctx, sym, price, s.cfg.CacheTTL); err != nil {
			s.log.Warn().Err(err).Str("asset", sym).Msg("price cache write failed")
			return
		}
	}
}
