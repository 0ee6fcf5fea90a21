package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"custody-ledger/internal/adapter/http/middleware"
	redisStore "custody-ledger/internal/adapter/storage/redis"
	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/internal/core/ports/mocks"
	"custody-ledger/internal/service"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type routerFixture struct {
	router  *httptest.Server
	ledger  *mocks.MockLedgerService
	webhook *mocks.MockWebhookService
	audit   *mocks.MockAuditService
	tokens  *service.JWTTokenService
}

// denyAllLimiter rejects every request it is asked about.
type denyAllLimiter struct{}

func (denyAllLimiter) Allow(_ context.Context, _ string, limit int64, _ time.Duration) (*redisStore.RateLimitResult, error) {
	return &redisStore.RateLimitResult{Allowed: false, Limit: limit, ResetAt: time.Now().Add(time.Minute).Unix()}, nil
}

func newRouterFixture(t *testing.T) *routerFixture {
	return newRouterFixtureWithLimiter(t, nil)
}

func newRouterFixtureWithLimiter(t *testing.T, limiter middleware.RateLimitStore) *routerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &routerFixture{
		ledger:  mocks.NewMockLedgerService(ctrl),
		webhook: mocks.NewMockWebhookService(ctrl),
		audit:   mocks.NewMockAuditService(ctrl),
		tokens:  service.NewJWTTokenService("router-test-secret", time.Hour, "custody-ledger"),
	}

	reg := prometheus.NewRegistry()
	service.NewMetrics(reg).ObserveDelivery("processed")

	engine := SetupRouter(RouterDeps{
		ChargeSvc:       mocks.NewMockChargeService(ctrl),
		LedgerSvc:       f.ledger,
		WebhookSvc:      f.webhook,
		TokenSvc:        f.tokens,
		SignatureHeader: "X-CC-Webhook-Signature",
		RateLimitStore:  limiter,
		AuditSvc:        f.audit,
		Gatherer:        reg,
		Logger:          zerolog.Nop(),
	})
	f.router = httptest.NewServer(engine)
	t.Cleanup(f.router.Close)
	return f
}

func (f *routerFixture) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.router.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *routerFixture) token(t *testing.T, role ports.Role) (uuid.UUID, string) {
	t.Helper()
	id := uuid.New()
	tok, _, err := f.tokens.Generate(id, role)
	require.NoError(t, err)
	return id, tok
}

func TestRouter_AdminRequiresAdminRole(t *testing.T) {
	f := newRouterFixture(t)
	userID, userToken := f.token(t, ports.RoleUser)
	_, adminToken := f.token(t, ports.RoleAdmin)
	txID := uuid.New()
	path := "/api/v1/admin/transactions/" + txID.String() + "/notes"

	f.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, entry *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionAccessDenied, entry.Action)
		if assert.NotNil(t, entry.ActorID) {
			assert.Equal(t, userID, *entry.ActorID)
		}
	})
	resp := f.do(t, http.MethodPost, path, userToken, `{"note":"x"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	f.ledger.EXPECT().AppendNote(gomock.Any(), gomock.Any(), txID, "x").
		Return(&domain.Transaction{ID: txID, Notes: []string{"x"}}, nil)
	resp = f.do(t, http.MethodPost, path, adminToken, `{"note":"x"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_UserRoutesRequireToken(t *testing.T) {
	f := newRouterFixture(t)

	f.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Times(2)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/v1/balances", "", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/v1/balances", "garbage", "").StatusCode)

	userID, tok := f.token(t, ports.RoleUser)
	f.ledger.EXPECT().ListBalances(gomock.Any(), userID).Return([]domain.Balance{}, nil)
	resp := f.do(t, http.MethodGet, "/api/v1/balances", tok, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRouter_WebhookBypassesRateLimit(t *testing.T) {
	f := newRouterFixtureWithLimiter(t, denyAllLimiter{})

	f.webhook.EXPECT().Ingest(gomock.Any(), []byte(`{"event":{}}`), "sig").
		Return(&ports.IngestResult{EventType: domain.EventConfirmed, Status: "processed"}, nil).
		Times(3)
	for i := 0; i < 3; i++ {
		req, err := http.NewRequest(http.MethodPost, f.router.URL+"/api/v1/webhooks/payments", strings.NewReader(`{"event":{}}`))
		require.NoError(t, err)
		req.Header.Set("X-CC-Webhook-Signature", "sig")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Header.Get("X-RateLimit-Limit"))
	}

	// The same limiter still guards user routes.
	_, tok := f.token(t, ports.RoleUser)
	resp := f.do(t, http.MethodGet, "/api/v1/balances", tok, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRouter_MetricsAndDocs(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/swagger/spec", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-yaml", resp.Header.Get("Content-Type"))
}

func TestOpenAPISpecListsRoutes(t *testing.T) {
	spec := string(openAPISpec)
	for _, path := range []string{
		"/api/v1/webhooks/payments",
		"/api/v1/deposits",
		"/api/v1/withdrawals",
		"/api/v1/admin/transactions/{id}/status",
	} {
		assert.Contains(t, spec, path)
	}
}
