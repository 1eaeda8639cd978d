package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"exchange-ledger/internal/core/domain"
	"exchange-ledger/internal/core/ports"
	"exchange-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// LedgerServiceImpl implements ports.LedgerService.
type LedgerServiceImpl struct {
	accounts   ports.AccountRepository
	ledger     ports.LedgerStore
	currencies *domain.Currencies
	log        zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	accounts ports.AccountRepository,
	ledger ports.LedgerStore,
	currencies *domain.Currencies,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		accounts:   accounts,
		ledger:     ledger,
		currencies: currencies,
		log:        log,
	}
}

// CreateWallet opens a currency wallet with an optional initial balance.
func (s *LedgerServiceImpl) CreateWallet(ctx context.Context, req ports.CreateWalletRequest) (*domain.Balance, error) {
	accountID, err := s.requireAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	cur, err := s.currency(req.Currency)
	if err != nil {
		return nil, err
	}
	if req.InitialBalance.IsNegative() || !cur.Accepts(req.InitialBalance) {
		return nil, apperror.ErrInvalidAmount()
	}

	balance, err := s.ledger.CreateWallet(ctx, accountID, cur.Code, req.InitialBalance)
	if err != nil {
		return nil, storageErr("create wallet", err)
	}

	s.log.Info().
		Str("account_id", accountID).
		Str("currency", cur.Code).
		Str("initial_balance", req.InitialBalance.String()).
		Msg("wallet created")

	return balance, nil
}

// GetBalance returns one balance. Unknown accounts are NotFound, a missing
// wallet on a known account is zero.
func (s *LedgerServiceImpl) GetBalance(ctx context.Context, accountID, currency string) (*domain.Balance, error) {
	accountID, err := s.requireAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	cur, err := s.currency(currency)
	if err != nil {
		return nil, err
	}

	amount, err := s.ledger.GetBalance(ctx, accountID, cur.Code)
	if err != nil {
		return nil, storageErr("get balance", err)
	}
	return &domain.Balance{AccountID: accountID, Currency: cur.Code, Amount: amount}, nil
}

// ListBalances returns every wallet of the account.
func (s *LedgerServiceImpl) ListBalances(ctx context.Context, accountID string) ([]domain.Balance, error) {
	accountID, err := s.requireAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	balances, err := s.ledger.ListBalances(ctx, accountID)
	if err != nil {
		return nil, storageErr("list balances", err)
	}
	return balances, nil
}

// Deposit credits an account from outside the ledger.
func (s *LedgerServiceImpl) Deposit(ctx context.Context, req ports.AdjustmentRequest) (*domain.Balance, error) {
	return s.adjust(ctx, req, false)
}

// Withdraw debits an account to outside the ledger.
func (s *LedgerServiceImpl) Withdraw(ctx context.Context, req ports.AdjustmentRequest) (*domain.Balance, error) {
	return s.adjust(ctx, req, true)
}

func (s *LedgerServiceImpl) adjust(ctx context.Context, req ports.AdjustmentRequest, debit bool) (*domain.Balance, error) {
	accountID, err := s.requireAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	cur, err := s.currency(req.Currency)
	if err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() || !cur.Accepts(req.Amount) {
		return nil, apperror.ErrInvalidAmount()
	}

	delta := req.Amount
	op := "deposit"
	if debit {
		delta = delta.Neg()
		op = "withdrawal"
	}

	amount, err := s.ledger.ApplyDelta(ctx, accountID, cur.Code, delta)
	if err != nil {
		return nil, storageErr(op, err)
	}

	s.log.Info().
		Str("account_id", accountID).
		Str("currency", cur.Code).
		Str("delta", delta.String()).
		Str("balance", amount.String()).
		Msgf("%s applied", op)

	return &domain.Balance{AccountID: accountID, Currency: cur.Code, Amount: amount, UpdatedAt: time.Now().UTC()}, nil
}

func (s *LedgerServiceImpl) requireAccount(ctx context.Context, id string) (string, error) {
	id = domain.NormalizeAccountID(id)
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return "", storageErr("get account", err)
	}
	if account == nil {
		return "", apperror.ErrAccountNotFound(id)
	}
	return id, nil
}

func (s *LedgerServiceImpl) currency(code string) (domain.Currency, error) {
	cur, ok := s.currencies.Lookup(code)
	if !ok {
		return domain.Currency{}, apperror.Validation(fmt.Sprintf("unsupported currency %q, expected one of %s",
			code, strings.Join(s.currencies.Codes(), ", ")))
	}
	return cur, nil
}
