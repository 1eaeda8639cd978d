package postgres

import (
	"context"
	"errors"
	"time"

	"exchange-ledger/internal/core/domain"
	"exchange-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
)

// AccountRepo implements ports.AccountRepository.
type AccountRepo struct {
	pool Pool
}

// NewAccountRepo creates a new AccountRepo.
func NewAccountRepo(pool Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// Create inserts a new account.
func (r *AccountRepo) Create(ctx context.Context, a *domain.Account) error {
	query := `INSERT INTO accounts (id, username, email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		a.ID, a.Username, a.Email, a.Status, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return apperror.ErrDuplicateAccount(a.ID)
		}
		return wrapErr("insert account", err)
	}
	return nil
}

// GetByID fetches an account by its identifier.
func (r *AccountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	query := `SELECT id, username, email, status, created_at, updated_at
		FROM accounts WHERE id = $1`

	a := &domain.Account{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.Username, &a.Email, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("get account by id", err)
	}
	return a, nil
}

// UpdateStatus sets the account status. The row lock taken here waits for
// in-flight transfers holding the account FOR SHARE.
func (r *AccountRepo) UpdateStatus(ctx context.Context, id string, status domain.AccountStatus, at time.Time) error {
	query := `UPDATE accounts SET status = $1, updated_at = $2 WHERE id = $3`

	tag, err := r.pool.Exec(ctx, query, status, at, id)
	if err != nil {
		return wrapErr("update account status", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.ErrAccountNotFound(id)
	}
	return nil
}

// Delete removes an account that has no balances or transfers yet.
func (r *AccountRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id); err != nil {
		return wrapErr("delete account", err)
	}
	return nil
}

// lockAccount takes a share lock on the account row inside tx and checks
// that the account may move funds.
func lockAccount(ctx context.Context, tx pgx.Tx, id string) error {
	status, err := shareAccount(ctx, tx, id)
	if err != nil {
		return err
	}
	if status != domain.AccountStatusActive {
		return apperror.ErrAccountUnavailable(id)
	}
	return nil
}

// shareAccount takes a share lock on the account row and returns its status.
func shareAccount(ctx context.Context, tx pgx.Tx, id string) (domain.AccountStatus, error) {
	var status domain.AccountStatus
	err := tx.QueryRow(ctx, `SELECT status FROM accounts WHERE id = $1 FOR SHARE`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperror.ErrUnknownAccount(id)
		}
		return "", wrapErr("lock account", err)
	}
	return status, nil
}
