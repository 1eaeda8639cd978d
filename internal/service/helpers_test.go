package service

import (
	"io"
	"testing"
	"time"

	"exchange-ledger/internal/core/domain"
	"exchange-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testCurrencies() *domain.Currencies {
	return domain.NewCurrencies(map[string]int32{"USD": 2, "BTC": 8, "JPY": 0})
}

func account(id string, status domain.AccountStatus) *domain.Account {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Account{
		ID:        id,
		Username:  id,
		Email:     id + "@example.com",
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}
