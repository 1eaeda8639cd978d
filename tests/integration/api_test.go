package integration

import (
	"net/http"
	"strings"
	"testing"

	"exchange-ledger/config"
	"exchange-ledger/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_HealthAndIndex(t *testing.T) {
	app := newTestApp(t, noLimits())

	resp := app.request(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "healthy", resp.body["status"])

	res, err := http.Get(app.server.URL + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestIntegration_HealthDegradedWhenRedisDown(t *testing.T) {
	app := newTestApp(t, noLimits())
	app.redis.Close()

	resp := app.request(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.status)
	assert.Equal(t, "degraded", resp.body["status"])
}

func TestIntegration_TransferLifecycle(t *testing.T) {
	app := newTestApp(t, noLimits())
	app.register(t, "alice", "100")
	app.register(t, "bob", "0")

	// bob registered without a fiat balance has no wallet yet
	assert.Equal(t, "0", app.balance(t, "bob"))

	resp := app.transfer(t, "alice", "bob", "30", "")
	require.Equal(t, http.StatusOK, resp.status, "%v", resp.body)
	assert.Equal(t, "COMMITTED", resp.data()["status"])
	assert.Equal(t, "70", app.balance(t, "alice"))
	assert.Equal(t, "30", app.balance(t, "bob"))

	resp = app.transfer(t, "alice", "bob", "1000", "")
	assert.Equal(t, http.StatusPaymentRequired, resp.status)
	assert.Equal(t, "PAY_001", resp.body["error_code"])
	assert.Equal(t, "FAILED", resp.data()["status"])
	assert.Equal(t, string(domain.ReasonInsufficientFunds), resp.data()["reason"])
	assert.Equal(t, "70", app.balance(t, "alice"))
	assert.Equal(t, "30", app.balance(t, "bob"))

	// History lists both outcomes, oldest first
	hist := app.request(t, http.MethodGet, "/api/v1/accounts/alice/transfers?limit=1", nil, nil)
	require.Equal(t, http.StatusOK, hist.status)
	items := hist.data()["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "COMMITTED", items[0].(map[string]interface{})["status"])
	cursor := hist.data()["next_cursor"].(string)
	require.NotEmpty(t, cursor)

	hist = app.request(t, http.MethodGet, "/api/v1/accounts/alice/transfers?cursor="+cursor, nil, nil)
	require.Equal(t, http.StatusOK, hist.status)
	items = hist.data()["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "FAILED", items[0].(map[string]interface{})["status"])
	assert.Nil(t, hist.data()["next_cursor"])

	// Single record lookup
	id := items[0].(map[string]interface{})["id"].(string)
	one := app.request(t, http.MethodGet, "/api/v1/transfers/"+id, nil, nil)
	assert.Equal(t, http.StatusOK, one.status)
	assert.Equal(t, id, one.data()["id"])
}

func TestIntegration_TransferValidation(t *testing.T) {
	app := newTestApp(t, noLimits())
	app.register(t, "alice", "100")
	app.register(t, "bob", "0")

	tests := []struct {
		name     string
		from, to string
		amount   string
		want     int
		wantCode string
	}{
		{"zero amount", "alice", "bob", "0", http.StatusBadRequest, "PAY_002"},
		{"too many decimals", "alice", "bob", "1.001", http.StatusBadRequest, "PAY_002"},
		{"negative amount", "alice", "bob", "-5", http.StatusBadRequest, "VAL_001"},
		{"same account", "alice", "alice", "5", http.StatusBadRequest, "PAY_005"},
		{"unknown recipient", "alice", "ghost", "5", http.StatusNotFound, "ACC_003"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := app.transfer(t, tt.from, tt.to, tt.amount, "")
			assert.Equal(t, tt.want, resp.status)
			assert.Equal(t, tt.wantCode, resp.body["error_code"])
		})
	}
	assert.Equal(t, "100", app.balance(t, "alice"))
}

func TestIntegration_IdempotentTransfer(t *testing.T) {
	app := newTestApp(t, noLimits())
	app.register(t, "alice", "100")
	app.register(t, "bob", "0")

	first := app.transfer(t, "alice", "bob", "30", "order-42")
	require.Equal(t, http.StatusOK, first.status)
	second := app.transfer(t, "alice", "bob", "30", "order-42")
	require.Equal(t, http.StatusOK, second.status)

	assert.Equal(t, first.data()["id"], second.data()["id"])
	assert.Equal(t, "70", app.balance(t, "alice"))

	// The terminal outcome is cached in Redis under the sender-scoped key
	keys := app.redis.Keys()
	found := false
	for _, k := range keys {
		if strings.HasPrefix(k, "ledger:idempotency:") {
			found = true
		}
	}
	assert.True(t, found, "idempotency cache entry in %v", keys)

	// The same client key from another sender is a different transfer
	app.register(t, "carol", "50")
	third := app.transfer(t, "carol", "bob", "30", "order-42")
	require.Equal(t, http.StatusOK, third.status)
	assert.NotEqual(t, first.data()["id"], third.data()["id"])
}

func TestIntegration_AdminAndAudit(t *testing.T) {
	app := newTestApp(t, noLimits())
	app.register(t, "alice", "100")
	app.register(t, "bob", "0")
	admin := app.adminHeaders(t)

	// Admin routes reject anonymous callers
	resp := app.request(t, http.MethodPost, "/api/v1/admin/accounts/alice/deposits",
		map[string]string{"currency": "USD", "amount": "5"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = app.request(t, http.MethodPost, "/api/v1/admin/accounts/alice/deposits",
		map[string]string{"currency": "USD", "amount": "50"}, admin)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "150", resp.data()["amount"])

	resp = app.request(t, http.MethodPost, "/api/v1/admin/accounts/alice/withdrawals",
		map[string]string{"currency": "USD", "amount": "500"}, admin)
	assert.Equal(t, http.StatusPaymentRequired, resp.status)

	// Freeze bob: transfers to him are refused before any funds move
	resp = app.request(t, http.MethodPatch, "/api/v1/admin/accounts/bob/status",
		map[string]string{"status": "FROZEN"}, admin)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "FROZEN", resp.data()["status"])

	// Same status again succeeds without a second audit entry
	resp = app.request(t, http.MethodPatch, "/api/v1/admin/accounts/bob/status",
		map[string]string{"status": "FROZEN"}, admin)
	require.Equal(t, http.StatusOK, resp.status)

	resp = app.transfer(t, "alice", "bob", "10", "")
	assert.Equal(t, http.StatusConflict, resp.status)
	assert.Equal(t, "ACC_004", resp.body["error_code"])
	assert.Equal(t, "150", app.balance(t, "alice"))

	app.auditSvc.Wait()
	var actions []domain.AuditAction
	for _, e := range app.audit.Entries() {
		actions = append(actions, e.Action)
		if e.Action == domain.AuditActionStatusChange {
			assert.Equal(t, "ops-alice", e.Actor)
			assert.Equal(t, "bob", e.ResourceID)
		}
	}
	assert.ElementsMatch(t, []domain.AuditAction{
		domain.AuditActionRegister,
		domain.AuditActionRegister,
		domain.AuditActionDeposit,
		domain.AuditActionStatusChange,
	}, actions)
}

func TestIntegration_LegacyRoutes(t *testing.T) {
	app := newTestApp(t, noLimits())

	resp := app.request(t, http.MethodPost, "/register", map[string]string{
		"username": "testuser11", "email": "testuser11@example.com", "password": "ignored", "fiat_balance": "1000",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.status, "%v", resp.body)
	resp = app.request(t, http.MethodPost, "/register", map[string]string{
		"username": "testuser2", "email": "testuser2@example.com", "password": "ignored", "fiat_balance": "2000",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.status)

	resp = app.request(t, http.MethodPost, "/wallets", map[string]string{
		"userId": "testuser2", "currency": "BTC", "balance": "0.5",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.status, "%v", resp.body)

	resp = app.request(t, http.MethodPost, "/wallets", map[string]string{
		"userId": "testuser2", "currency": "BTC",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.status)

	resp = app.request(t, http.MethodPost, "/transfer", map[string]string{
		"senderId": "testuser11", "recipientId": "testuser2", "currency": "USD", "amount": "250.50",
	}, nil)
	require.Equal(t, http.StatusOK, resp.status, "%v", resp.body)
	assert.Equal(t, "749.5", app.balance(t, "testuser11"))
	assert.Equal(t, "2250.5", app.balance(t, "testuser2"))

	account := app.request(t, http.MethodGet, "/api/v1/accounts/testuser2", nil, nil)
	require.Equal(t, http.StatusOK, account.status)
	assert.Len(t, account.data()["balances"], 2)
}

func TestIntegration_RateLimit(t *testing.T) {
	app := newTestApp(t, config.RateLimitConfig{
		Enabled:             true,
		TransfersPerMin:     100,
		RegistrationsPerMin: 2,
		ReadsPerMin:         100,
	})

	app.register(t, "alice", "10")
	app.register(t, "bob", "10")

	resp := app.request(t, http.MethodPost, "/api/v1/accounts", map[string]string{
		"username": "carol", "email": "carol@example.com",
	}, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.status)
	assert.Equal(t, "RATE_001", resp.body["error_code"])

	// Other groups keep their own budget
	assert.Equal(t, "10", app.balance(t, "alice"))
}

func TestIntegration_PayloadTooLarge(t *testing.T) {
	app := newTestApp(t, noLimits())

	resp := app.request(t, http.MethodPost, "/api/v1/accounts", map[string]string{
		"username": "alice", "email": "alice@example.com", "padding": strings.Repeat("x", 2<<20),
	}, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.status)
}
