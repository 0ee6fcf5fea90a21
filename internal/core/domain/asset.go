package domain

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// AssetRule holds the ledger parameters of one supported asset.
type AssetRule struct {
	Symbol        string
	Confirmations int
	MinWithdrawal decimal.Decimal
	WithdrawalFee decimal.Decimal
	MinDepositUSD decimal.Decimal
	FallbackUSD   decimal.Decimal
	Decimals      int32
}

// AssetCatalog is the set of assets the ledger accepts.
type AssetCatalog struct {
	rules map[string]AssetRule
}

func NewAssetCatalog(rules ...AssetRule) *AssetCatalog {
	c := &AssetCatalog{rules: make(map[string]AssetRule, len(rules))}
	for _, r := range rules {
		r.Symbol = NormalizeAsset(r.Symbol)
		if r.Decimals == 0 {
			r.Decimals = 8
		}
		c.rules[r.Symbol] = r
	}
	return c
}

// FitsPrecision reports whether amount has no digits below the asset's
// smallest unit. Trailing zeros do not count.
func (r AssetRule) FitsPrecision(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(r.Decimals))
}

// Lookup returns the rule for a symbol, case-insensitively.
func (c *AssetCatalog) Lookup(symbol string) (AssetRule, bool) {
	r, ok := c.rules[NormalizeAsset(symbol)]
	return r, ok
}

// Symbols returns the supported symbols in sorted order.
func (c *AssetCatalog) Symbols() []string {
	out := make([]string, 0, len(c.rules))
	for s := range c.rules {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func NormalizeAsset(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
