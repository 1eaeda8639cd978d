package service

import (
	"context"

	"exchange-ledger/internal/core/ports"
	"exchange-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DemoAccounts are the accounts created by the seed option.
func DemoAccounts() []ports.RegisterAccountRequest {
	return []ports.RegisterAccountRequest{
		{ID: "testuser11", Username: "testuser11", Email: "testuser11@example.com", FiatBalance: decimal.NewFromInt(1000)},
		{ID: "testuser2", Username: "testuser2", Email: "testuser2@example.com", FiatBalance: decimal.NewFromInt(2000)},
	}
}

// Seed registers each account that does not exist yet. Existing accounts
// are left untouched, so running it on every start is safe.
func Seed(ctx context.Context, accounts ports.AccountService, seeds []ports.RegisterAccountRequest, log zerolog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, req := range seeds {
		g.Go(func() error {
			_, err := accounts.Register(gctx, req)
			switch {
			case err == nil:
				log.Info().Str("account_id", req.ID).Msg("seeded account")
				return nil
			case apperror.Is(err, apperror.CodeDuplicateAccount):
				log.Debug().Str("account_id", req.ID).Msg("seed account already exists")
				return nil
			default:
				return err
			}
		})
	}
	return g.Wait()
}
