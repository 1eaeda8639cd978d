// Package memory holds process-local implementations of the storage ports.
// State lives for the lifetime of the process and is lost on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"exchange-ledger/internal/core/domain"
	"exchange-ledger/pkg/apperror"
)

// AccountRepo implements ports.AccountRepository.
type AccountRepo struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
}

// NewAccountRepo creates an empty AccountRepo.
func NewAccountRepo() *AccountRepo {
	return &AccountRepo{accounts: make(map[string]domain.Account)}
}

// Create stores a new account.
func (r *AccountRepo) Create(ctx context.Context, a *domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[a.ID]; ok {
		return apperror.ErrDuplicateAccount(a.ID)
	}
	r.accounts[a.ID] = *a
	return nil
}

// GetByID returns a copy of the account, or nil, nil if it does not exist.
func (r *AccountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// UpdateStatus sets the account status.
func (r *AccountRepo) UpdateStatus(ctx context.Context, id string, status domain.AccountStatus, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return apperror.ErrAccountNotFound(id)
	}
	a.Status = status
	a.UpdatedAt = at
	r.accounts[id] = a
	return nil
}

// Delete removes the account. Missing ids are ignored.
func (r *AccountRepo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
	return nil
}

// withAccount runs fn under the registry read lock, so UpdateStatus cannot
// change the account between the check and fn. With active set the account
// must be ACTIVE, otherwise it only has to exist.
func (r *AccountRepo) withAccount(id string, active bool, fn func() error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return apperror.ErrUnknownAccount(id)
	}
	if active && !a.IsActive() {
		return apperror.ErrAccountUnavailable(id)
	}
	return fn()
}
