package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the amount an account holds in one currency. The pair
// (AccountID, Currency) is the unit of locking in the ledger.
type Balance struct {
	AccountID string          `json:"account_id"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// BalanceKey identifies a single balance row.
type BalanceKey struct {
	AccountID string
	Currency  string
}

// Less orders keys by account identifier, then currency. Every code path
// that holds more than one balance lock acquires them in this order.
func (k BalanceKey) Less(other BalanceKey) bool {
	if k.AccountID != other.AccountID {
		return k.AccountID < other.AccountID
	}
	return k.Currency < other.Currency
}

// OrderedKeys returns a and b sorted by Less.
func OrderedKeys(a, b BalanceKey) (BalanceKey, BalanceKey) {
	if b.Less(a) {
		return b, a
	}
	return a, b
}
