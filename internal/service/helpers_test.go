package service

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"custody-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.uber.org/mock/gomock"
)

// mockHTTPClient implements HTTPClient for testing.
type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.doFunc(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// mockTx implements pgx.Tx for testing
type mockTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (m *mockTx) Rollback(_ context.Context) error {
	if !m.committed {
		m.rolledBack = true
	}
	return nil
}

func (m *mockTx) Commit(_ context.Context) error {
	m.committed = true
	return nil
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	return decimal.RequireFromString(s)
}

// decEq matches a decimal.Decimal by value, ignoring scale.
func decEq(s string) gomock.Matcher {
	return decimalMatcher{want: decimal.RequireFromString(s)}
}

type decimalMatcher struct {
	want decimal.Decimal
}

func (m decimalMatcher) Matches(x any) bool {
	d, ok := x.(decimal.Decimal)
	return ok && d.Equal(m.want)
}

func (m decimalMatcher) String() string {
	return "is decimal " + m.want.String()
}

func testCatalog() *domain.AssetCatalog {
	return domain.NewAssetCatalog(
		domain.AssetRule{Symbol: "BTC", Confirmations: 3, MinWithdrawal: decimal.RequireFromString("0.0005"),
			WithdrawalFee: decimal.RequireFromString("0.0002"), MinDepositUSD: decimal.NewFromInt(10), FallbackUSD: decimal.NewFromInt(60000)},
		domain.AssetRule{Symbol: "ETH", Confirmations: 12, MinWithdrawal: decimal.RequireFromString("0.01"),
			WithdrawalFee: decimal.RequireFromString("0.001"), MinDepositUSD: decimal.NewFromInt(10), FallbackUSD: decimal.NewFromInt(3000)},
	)
}
