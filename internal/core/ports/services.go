package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"time"

	"exchange-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TokenService handles JWT token operations for administrative callers.
type TokenService interface {
	Generate(subject, role string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject string
	Role    string
}

// IsAdmin returns true if the token grants administrative actions.
func (c *TokenClaims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// RoleAdmin is the JWT role allowed to change account status and balances.
const RoleAdmin = "admin"

// IdempotencyCache is the fast path of the idempotency check. Only
// terminal records are cached, keyed by their scoped idempotency key.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (*domain.TransferRecord, error) // nil on miss
	Set(ctx context.Context, rec *domain.TransferRecord, ttl time.Duration) error
}

// EventPublisher delivers transfer events to downstream consumers.
type EventPublisher interface {
	PublishTransfer(ctx context.Context, event domain.TransferEvent) error
}

// AuditService records audited actions.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// --- Service Ports (Business Logic) ---

// AccountService is the account registry.
type AccountService interface {
	Register(ctx context.Context, req RegisterAccountRequest) (*domain.Account, error)
	Lookup(ctx context.Context, id string) (*domain.Account, error)
	SetStatus(ctx context.Context, id string, status domain.AccountStatus) (*domain.Account, error)
}

// RegisterAccountRequest holds input for account registration.
// FiatBalance, when positive, opens a wallet in the configured fiat currency.
type RegisterAccountRequest struct {
	ID          string
	Username    string
	Email       string
	FiatBalance decimal.Decimal
}

// LedgerService exposes wallets and balances.
type LedgerService interface {
	CreateWallet(ctx context.Context, req CreateWalletRequest) (*domain.Balance, error)
	GetBalance(ctx context.Context, accountID, currency string) (*domain.Balance, error)
	ListBalances(ctx context.Context, accountID string) ([]domain.Balance, error)
	Deposit(ctx context.Context, req AdjustmentRequest) (*domain.Balance, error)
	Withdraw(ctx context.Context, req AdjustmentRequest) (*domain.Balance, error)
}

// CreateWalletRequest holds input for opening a currency wallet.
type CreateWalletRequest struct {
	AccountID      string
	Currency       string
	InitialBalance decimal.Decimal
}

// AdjustmentRequest holds input for an administrative deposit or withdrawal.
type AdjustmentRequest struct {
	AccountID string
	Currency  string
	Amount    decimal.Decimal
}

// TransferService moves funds between two accounts.
type TransferService interface {
	// Transfer returns a COMMITTED or FAILED record, never a PENDING one.
	Transfer(ctx context.Context, req TransferRequest) (*domain.TransferRecord, error)
}

// TransferRequest holds validated input for a transfer.
type TransferRequest struct {
	SenderID       string
	RecipientID    string
	Currency       string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// HistoryService reads the transaction log.
type HistoryService interface {
	GetTransferHistory(ctx context.Context, accountID, cursor string, limit int) (*domain.HistoryPage, error)
	GetTransfer(ctx context.Context, id uuid.UUID) (*domain.TransferRecord, error)
}
