package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"
	"time"

	"exchange-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountRepository defines persistence operations for the account registry.
type AccountRepository interface {
	// Create fails with apperror.ErrDuplicateAccount if the id is taken.
	Create(ctx context.Context, account *domain.Account) error
	// GetByID returns nil, nil when the account does not exist.
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	// UpdateStatus fails with apperror.ErrAccountNotFound if the account does not exist.
	UpdateStatus(ctx context.Context, id string, status domain.AccountStatus, at time.Time) error
	// Delete removes a registration that could not be completed. Missing ids
	// are not an error.
	Delete(ctx context.Context, id string) error
}

// LedgerStore holds balances keyed by (account, currency).
//
// ApplyDelta is the only atomic primitive: concurrent calls on the same key
// are serialized and each observes the result of the previous one. Calls on
// different keys run in parallel.
type LedgerStore interface {
	// GetBalance returns zero when no balance exists for the key.
	GetBalance(ctx context.Context, accountID, currency string) (decimal.Decimal, error)
	// ApplyDelta adds delta to the balance and returns the new amount. It fails
	// with InsufficientFunds if the result would be negative, UnknownAccount if
	// the account is not registered and AccountUnavailable if it is not active.
	ApplyDelta(ctx context.Context, accountID, currency string, delta decimal.Decimal) (decimal.Decimal, error)
	// CreateWallet opens a balance with an initial amount. It fails with
	// WalletExists if the key already has a balance.
	CreateWallet(ctx context.Context, accountID, currency string, initial decimal.Decimal) (*domain.Balance, error)
	ListBalances(ctx context.Context, accountID string) ([]domain.Balance, error)
	// Reverse credits amount back to a balance that an earlier debit drew
	// from. It serializes with ApplyDelta on the same key but ignores the
	// account status, so a frozen or closed account still gets its funds
	// back. It fails with UnknownAccount if the account is not registered.
	Reverse(ctx context.Context, accountID, currency string, amount decimal.Decimal) (decimal.Decimal, error)
}

// AtomicTransferExecutor is implemented by stores that can record, debit and
// credit a transfer inside a single storage transaction.
//
// ExecuteTransfer receives a PENDING record and, on a nil return, leaves it
// finalized: COMMITTED, or FAILED with a business reason. A non-nil error
// means the transaction rolled back and nothing was persisted.
type AtomicTransferExecutor interface {
	ExecuteTransfer(ctx context.Context, rec *domain.TransferRecord) error
}

// TransferLog is the append-only store of transfer records.
type TransferLog interface {
	// Append persists a new record. It fails with apperror.ErrDuplicateRecord
	// if the id or idempotency key is already used.
	Append(ctx context.Context, rec *domain.TransferRecord) error
	// Finalize persists rec's terminal status. It fails with
	// apperror.ErrRecordFinalized unless the stored record is still pending.
	Finalize(ctx context.Context, rec *domain.TransferRecord) error
	// GetByID returns nil, nil when the record does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.TransferRecord, error)
	// GetByIdempotencyKey returns nil, nil when no record carries the key.
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.TransferRecord, error)
	// ListByAccount returns up to q.Limit records touching the account,
	// ordered by (created_at, id) ascending, strictly after q.After.
	ListByAccount(ctx context.Context, q HistoryQuery) ([]domain.TransferRecord, error)
}

// HistoryQuery selects one page of an account's transfer history.
type HistoryQuery struct {
	AccountID string
	After     *domain.HistoryCursor
	Limit     int
}

// AuditRepository persists audit log entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}
