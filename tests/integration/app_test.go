package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"exchange-ledger/config"
	httpHandler "exchange-ledger/internal/adapter/http/handler"
	"exchange-ledger/internal/adapter/http/middleware"
	"exchange-ledger/internal/adapter/storage/memory"
	redisStorage "exchange-ledger/internal/adapter/storage/redis"
	"exchange-ledger/internal/core/domain"
	"exchange-ledger/internal/core/ports"
	"exchange-ledger/internal/service"
	"exchange-ledger/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// testApp runs the full HTTP stack over the in-memory ledger with Redis
// served by miniredis. It exercises middleware, handlers, services and the
// Redis stores end-to-end.
type testApp struct {
	server   *httptest.Server
	redis    *miniredis.Miniredis
	ledger   *memory.Ledger
	audit    *memory.AuditRepo
	auditSvc *service.AuditServiceImpl
	tokenSvc *service.JWTTokenService
}

func newTestApp(t *testing.T, limits config.RateLimitConfig) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logger.New("error", false)
	currencies := domain.NewCurrencies(domain.DefaultCurrencyScales())
	fiat, _ := currencies.Lookup("USD")

	accounts := memory.NewAccountRepo()
	ledger := memory.NewLedger(accounts)
	transfers := memory.NewTransferLog()
	audit := memory.NewAuditRepo()

	accountSvc := service.NewAccountService(accounts, ledger, fiat, log)
	ledgerSvc := service.NewLedgerService(accounts, ledger, currencies, log)
	transferSvc := service.NewTransferService(accounts, ledger, transfers, currencies, log,
		service.WithIdempotencyCache(redisStorage.NewTransferCache(rdb)),
		service.WithRetryPolicy(service.RetryPolicy{
			MaxRetries:             2,
			CompensationMaxRetries: 5,
			InitialInterval:        time.Millisecond,
			MaxInterval:            5 * time.Millisecond,
		}),
	)
	historySvc := service.NewHistoryService(accounts, transfers)
	auditSvc := service.NewAuditService(audit, log)
	tokenSvc := service.NewJWTTokenService("test-jwt-secret-key-32bytes!!", time.Hour, "test-issuer")

	deps := httpHandler.RouterDeps{
		AccountSvc:      accountSvc,
		LedgerSvc:       ledgerSvc,
		TransferSvc:     transferSvc,
		HistorySvc:      historySvc,
		TokenSvc:        tokenSvc,
		RateLimitRules:  middleware.RateLimitRules(limits),
		HealthCheckers:  []ports.HealthChecker{redisStorage.NewHealthCheck(rdb)},
		AuditSvc:        auditSvc,
		MaxBodyBytes:    1 << 20,
		TransferTimeout: 5 * time.Second,
		Logger:          log,
	}
	if limits.Enabled {
		deps.RateLimiter = redisStorage.NewRateLimitStore(rdb)
	}

	server := httptest.NewServer(httpHandler.SetupRouter(deps))
	t.Cleanup(server.Close)

	return &testApp{
		server:   server,
		redis:    mr,
		ledger:   ledger,
		audit:    audit,
		auditSvc: auditSvc,
		tokenSvc: tokenSvc,
	}
}

func noLimits() config.RateLimitConfig {
	return config.RateLimitConfig{}
}

type apiResponse struct {
	status int
	body   map[string]interface{}
}

func (r apiResponse) data() map[string]interface{} {
	d, _ := r.body["data"].(map[string]interface{})
	return d
}

func (a *testApp) request(t *testing.T, method, path string, body interface{}, headers map[string]string) apiResponse {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := apiResponse{status: resp.StatusCode}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out.body))
	}
	return out
}

func (a *testApp) adminHeaders(t *testing.T) map[string]string {
	t.Helper()
	token, _, err := a.tokenSvc.Generate("ops-alice", ports.RoleAdmin)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func (a *testApp) register(t *testing.T, id, fiat string) {
	t.Helper()
	resp := a.request(t, http.MethodPost, "/api/v1/accounts", map[string]string{
		"id":           id,
		"username":     id,
		"email":        id + "@example.com",
		"fiat_balance": fiat,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.status, "register %s: %v", id, resp.body)
}

func (a *testApp) transfer(t *testing.T, from, to, amount, key string) apiResponse {
	t.Helper()
	headers := map[string]string{}
	if key != "" {
		headers[httpHandler.HeaderIdempotencyKey] = key
	}
	return a.request(t, http.MethodPost, "/api/v1/transfers", map[string]string{
		"sender_id":    from,
		"recipient_id": to,
		"currency":     "USD",
		"amount":       amount,
	}, headers)
}

func (a *testApp) balance(t *testing.T, id string) string {
	t.Helper()
	resp := a.request(t, http.MethodGet, "/api/v1/accounts/"+id+"/balances/USD", nil, nil)
	require.Equal(t, http.StatusOK, resp.status)
	return resp.data()["amount"].(string)
}
