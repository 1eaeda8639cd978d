package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"exchange-ledger/internal/core/domain"
	"exchange-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// BalanceRepo implements ports.LedgerStore on the balances table.
// Amounts travel as text so NUMERIC precision is never lost to floats.
type BalanceRepo struct {
	pool Pool
	tx   *Transactor
}

// NewBalanceRepo creates a new BalanceRepo.
func NewBalanceRepo(pool Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool, tx: NewTransactor(pool)}
}

// GetBalance returns the current amount, zero if no balance row exists.
func (r *BalanceRepo) GetBalance(ctx context.Context, accountID, currency string) (decimal.Decimal, error) {
	query := `SELECT amount::text FROM balances WHERE account_id = $1 AND currency = $2`

	var raw string
	err := r.pool.QueryRow(ctx, query, accountID, currency).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, wrapErr("get balance", err)
	}
	return parseAmount(raw)
}

// ApplyDelta adds delta to one balance in its own transaction. The account
// row is share-locked and the balance row is locked FOR UPDATE, so writers
// on the same key queue behind each other.
func (r *BalanceRepo) ApplyDelta(ctx context.Context, accountID, currency string, delta decimal.Decimal) (decimal.Decimal, error) {
	var newAmount decimal.Decimal
	err := r.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if err := lockAccount(ctx, tx, accountID); err != nil {
			return err
		}

		current, found, err := lockBalance(ctx, tx, accountID, currency)
		if err != nil {
			return err
		}

		newAmount = current.Add(delta)
		if newAmount.IsNegative() {
			return apperror.ErrInsufficientFunds()
		}

		if !found {
			// A concurrent first credit may have created the row since the
			// lock attempt, the upsert adds to whatever is there.
			newAmount, err = creditBalance(ctx, tx, accountID, currency, delta)
			return err
		}
		return updateBalance(ctx, tx, accountID, currency, newAmount)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newAmount, nil
}

// Reverse credits amount back to the key in its own transaction. The
// account row is share-locked but its status is not checked, so a debit
// taken from an account that was frozen since can still be returned.
func (r *BalanceRepo) Reverse(ctx context.Context, accountID, currency string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, apperror.ErrInvalidAmount()
	}
	var newAmount decimal.Decimal
	err := r.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := shareAccount(ctx, tx, accountID); err != nil {
			return err
		}
		var err error
		newAmount, err = creditBalance(ctx, tx, accountID, currency, amount)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newAmount, nil
}

// CreateWallet opens a balance for the key with an initial amount.
func (r *BalanceRepo) CreateWallet(ctx context.Context, accountID, currency string, initial decimal.Decimal) (*domain.Balance, error) {
	now := time.Now().UTC()
	err := r.tx.WithTx(ctx, func(tx pgx.Tx) error {
		if err := lockAccount(ctx, tx, accountID); err != nil {
			return err
		}
		return insertBalance(ctx, tx, accountID, currency, initial, now)
	})
	if err != nil {
		return nil, err
	}
	return &domain.Balance{AccountID: accountID, Currency: currency, Amount: initial, UpdatedAt: now}, nil
}

// ListBalances returns all balances of an account ordered by currency.
func (r *BalanceRepo) ListBalances(ctx context.Context, accountID string) ([]domain.Balance, error) {
	query := `SELECT account_id, currency, amount::text, updated_at
		FROM balances WHERE account_id = $1 ORDER BY currency`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, wrapErr("list balances", err)
	}
	defer rows.Close()

	balances := []domain.Balance{}
	for rows.Next() {
		var b domain.Balance
		var raw string
		if err := rows.Scan(&b.AccountID, &b.Currency, &raw, &b.UpdatedAt); err != nil {
			return nil, wrapErr("scan balance", err)
		}
		if b.Amount, err = parseAmount(raw); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate balances", err)
	}
	return balances, nil
}

// lockBalance reads a balance FOR UPDATE. found is false when the row does
// not exist yet, in which case the amount is zero.
func lockBalance(ctx context.Context, tx pgx.Tx, accountID, currency string) (amount decimal.Decimal, found bool, err error) {
	query := `SELECT amount::text FROM balances WHERE account_id = $1 AND currency = $2 FOR UPDATE`

	var raw string
	if err := tx.QueryRow(ctx, query, accountID, currency).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, wrapErr("lock balance", err)
	}
	amount, err = parseAmount(raw)
	return amount, err == nil, err
}

func updateBalance(ctx context.Context, tx pgx.Tx, accountID, currency string, amount decimal.Decimal) error {
	query := `UPDATE balances SET amount = $1::numeric, updated_at = $2 WHERE account_id = $3 AND currency = $4`

	_, err := tx.Exec(ctx, query, amount.String(), time.Now().UTC(), accountID, currency)
	if err != nil {
		if pgCode(err) == codeCheckViolation {
			return apperror.ErrInsufficientFunds()
		}
		return wrapErr("update balance", err)
	}
	return nil
}

// creditBalance adds a non-negative delta, creating the row if needed.
func creditBalance(ctx context.Context, tx pgx.Tx, accountID, currency string, delta decimal.Decimal) (decimal.Decimal, error) {
	query := `INSERT INTO balances (account_id, currency, amount, updated_at) VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (account_id, currency)
		DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = EXCLUDED.updated_at
		RETURNING amount::text`

	var raw string
	err := tx.QueryRow(ctx, query, accountID, currency, delta.String(), time.Now().UTC()).Scan(&raw)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return decimal.Zero, apperror.ErrUnknownAccount(accountID)
		}
		return decimal.Zero, wrapErr("credit balance", err)
	}
	return parseAmount(raw)
}

func insertBalance(ctx context.Context, tx pgx.Tx, accountID, currency string, amount decimal.Decimal, at time.Time) error {
	query := `INSERT INTO balances (account_id, currency, amount, updated_at) VALUES ($1, $2, $3::numeric, $4)`

	_, err := tx.Exec(ctx, query, accountID, currency, amount.String(), at)
	if err != nil {
		switch pgCode(err) {
		case codeUniqueViolation:
			return apperror.ErrWalletExists(accountID, currency)
		case codeForeignKeyViolation:
			return apperror.ErrUnknownAccount(accountID)
		}
		return wrapErr("insert balance", err)
	}
	return nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperror.ErrDatabaseError(fmt.Errorf("parse amount %q: %w", raw, err))
	}
	return amount, nil
}
