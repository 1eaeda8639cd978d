package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"exchange-ledger/internal/core/domain"
	"exchange-ledger/internal/core/ports"
	"exchange-ledger/pkg/apperror"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// AccountServiceImpl implements ports.AccountService.
type AccountServiceImpl struct {
	accounts ports.AccountRepository
	ledger   ports.LedgerStore
	fiat     domain.Currency
	validate *validator.Validate
	now      func() time.Time
	log      zerolog.Logger
}

// NewAccountService creates the account registry. fiat is the currency of
// the wallet opened by a registration carrying a fiat balance.
func NewAccountService(
	accounts ports.AccountRepository,
	ledger ports.LedgerStore,
	fiat domain.Currency,
	log zerolog.Logger,
) *AccountServiceImpl {
	return &AccountServiceImpl{
		accounts: accounts,
		ledger:   ledger,
		fiat:     fiat,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// Register creates an ACTIVE account.
func (s *AccountServiceImpl) Register(ctx context.Context, req ports.RegisterAccountRequest) (*domain.Account, error) {
	account, err := s.newAccount(req)
	if err != nil {
		return nil, err
	}
	if req.FiatBalance.IsNegative() || !s.fiat.Accepts(req.FiatBalance) {
		return nil, apperror.ErrInvalidAmount()
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, storageErr("create account", err)
	}

	if req.FiatBalance.IsPositive() {
		if _, err := s.ledger.CreateWallet(ctx, account.ID, s.fiat.Code, req.FiatBalance); err != nil {
			s.rollbackRegistration(ctx, account.ID, err)
			return nil, storageErr("open fiat wallet", err)
		}
	}

	s.log.Info().
		Str("account_id", account.ID).
		Str("fiat_balance", req.FiatBalance.String()).
		Msg("account registered")

	return account, nil
}

// rollbackRegistration removes an account whose opening wallet could not be
// written, so the caller can retry the registration.
func (s *AccountServiceImpl) rollbackRegistration(ctx context.Context, id string, cause error) {
	if err := s.accounts.Delete(context.WithoutCancel(ctx), id); err != nil {
		s.log.Error().Err(err).
			AnErr("wallet_error", cause).
			Str("account_id", id).
			Str("currency", s.fiat.Code).
			Msg("account registered without its fiat wallet")
		return
	}
	s.log.Warn().Err(cause).Str("account_id", id).Msg("fiat wallet failed, registration rolled back")
}

func (s *AccountServiceImpl) newAccount(req ports.RegisterAccountRequest) (*domain.Account, error) {
	id := domain.NormalizeAccountID(req.ID)
	if !domain.ValidAccountID(id) {
		return nil, apperror.ErrInvalidMetadata("id must be 3-64 characters of a-z, 0-9, '_' or '-'")
	}

	username := strings.TrimSpace(req.Username)
	if err := s.validate.Var(username, "required,min=3,max=64"); err != nil {
		return nil, apperror.ErrInvalidMetadata("username must be 3-64 characters")
	}

	email := strings.TrimSpace(req.Email)
	if err := s.validate.Var(email, "required,email,max=254"); err != nil {
		return nil, apperror.ErrInvalidMetadata(fmt.Sprintf("invalid email %q", email))
	}

	now := s.now()
	return &domain.Account{
		ID:        id,
		Username:  username,
		Email:     strings.ToLower(email),
		Status:    domain.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Lookup returns the account or NotFound.
func (s *AccountServiceImpl) Lookup(ctx context.Context, id string) (*domain.Account, error) {
	id = domain.NormalizeAccountID(id)
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, storageErr("get account", err)
	}
	if account == nil {
		return nil, apperror.ErrAccountNotFound(id)
	}
	return account, nil
}

// SetStatus changes the account status. Setting the current status is a
// no-op and performs no write.
func (s *AccountServiceImpl) SetStatus(ctx context.Context, id string, status domain.AccountStatus) (*domain.Account, error) {
	if !status.Valid() {
		return nil, apperror.ErrInvalidMetadata(fmt.Sprintf("unknown account status %q", status))
	}

	account, err := s.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.Status == status {
		return account, nil
	}

	now := s.now()
	if err := s.accounts.UpdateStatus(ctx, account.ID, status, now); err != nil {
		return nil, storageErr("update account status", err)
	}

	s.log.Info().
		Str("account_id", account.ID).
		Str("from", string(account.Status)).
		Str("to", string(status)).
		Msg("account status changed")

	account.Status = status
	account.UpdatedAt = now
	return account, nil
}
