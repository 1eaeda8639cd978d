package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"exchange-ledger/internal/core/domain"
	"exchange-ledger/pkg/apperror"

	"github.com/shopspring/decimal"
)

// Ledger implements ports.LedgerStore. Every balance key has its own mutex,
// so writers on one key queue while other keys proceed in parallel.
type Ledger struct {
	accounts *AccountRepo
	now      func() time.Time

	mu       sync.RWMutex
	balances map[domain.BalanceKey]*balanceEntry
}

type balanceEntry struct {
	mu        sync.Mutex
	amount    decimal.Decimal
	updatedAt time.Time
}

// NewLedger creates a ledger that checks account status against accounts.
func NewLedger(accounts *AccountRepo) *Ledger {
	return &Ledger{
		accounts: accounts,
		now:      func() time.Time { return time.Now().UTC() },
		balances: make(map[domain.BalanceKey]*balanceEntry),
	}
}

// entry returns the entry for key, creating an empty one when create is set.
func (l *Ledger) entry(key domain.BalanceKey, create bool) *balanceEntry {
	l.mu.RLock()
	e, ok := l.balances[key]
	l.mu.RUnlock()
	if ok || !create {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.balances[key]; !ok {
		e = &balanceEntry{}
		l.balances[key] = e
	}
	return e
}

// GetBalance returns the committed amount for the key, zero if none exists.
func (l *Ledger) GetBalance(ctx context.Context, accountID, currency string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	e := l.entry(domain.BalanceKey{AccountID: accountID, Currency: currency}, false)
	if e == nil {
		return decimal.Zero, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.amount, nil
}

// ApplyDelta adds delta to one balance under that key's lock. The status
// check and the update happen under the registry read lock, so a concurrent
// freeze or close either lands first and fails the call or waits for it.
func (l *Ledger) ApplyDelta(ctx context.Context, accountID, currency string, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	var next decimal.Decimal
	err := l.accounts.withAccount(accountID, true, func() error {
		var err error
		next, err = l.add(domain.BalanceKey{AccountID: accountID, Currency: currency}, delta)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

// Reverse credits amount back to the key whatever the account status.
func (l *Ledger) Reverse(ctx context.Context, accountID, currency string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, apperror.ErrInvalidAmount()
	}
	var next decimal.Decimal
	err := l.accounts.withAccount(accountID, false, func() error {
		var err error
		next, err = l.add(domain.BalanceKey{AccountID: accountID, Currency: currency}, amount)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

// add applies delta under the entry lock. A debit never creates an entry.
func (l *Ledger) add(key domain.BalanceKey, delta decimal.Decimal) (decimal.Decimal, error) {
	e := l.entry(key, !delta.IsNegative())
	if e == nil {
		return decimal.Zero, apperror.ErrInsufficientFunds()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.amount.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, apperror.ErrInsufficientFunds()
	}
	e.amount = next
	e.updatedAt = l.now()
	return next, nil
}

// CreateWallet opens the balance for the key.
func (l *Ledger) CreateWallet(ctx context.Context, accountID, currency string, initial decimal.Decimal) (*domain.Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := domain.BalanceKey{AccountID: accountID, Currency: currency}
	now := l.now()

	err := l.accounts.withAccount(accountID, true, func() error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.balances[key]; ok {
			return apperror.ErrWalletExists(accountID, currency)
		}
		l.balances[key] = &balanceEntry{amount: initial, updatedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &domain.Balance{AccountID: accountID, Currency: currency, Amount: initial, UpdatedAt: now}, nil
}

// ListBalances returns all balances of an account ordered by currency.
func (l *Ledger) ListBalances(ctx context.Context, accountID string) ([]domain.Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	keys := make([]domain.BalanceKey, 0, 4)
	entries := make(map[domain.BalanceKey]*balanceEntry)
	for key, e := range l.balances {
		if key.AccountID == accountID {
			keys = append(keys, key)
			entries[key] = e
		}
	}
	l.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	balances := make([]domain.Balance, 0, len(keys))
	for _, key := range keys {
		e := entries[key]
		e.mu.Lock()
		balances = append(balances, domain.Balance{
			AccountID: key.AccountID,
			Currency:  key.Currency,
			Amount:    e.amount,
			UpdatedAt: e.updatedAt,
		})
		e.mu.Unlock()
	}
	return balances, nil
}
