package dto

import (
	"time"

	"exchange-ledger/internal/core/domain"
)

// RegisterAccountRequest is the request body for account registration.
// ID defaults to the normalized username, which is how the legacy
// /register route identifies accounts.
type RegisterAccountRequest struct {
	ID          string `json:"id" binding:"omitempty,account_id"`
	Username    string `json:"username" binding:"required,min=3,max=64"`
	Email       string `json:"email" binding:"required,email,max=254"`
	FiatBalance string `json:"fiat_balance" binding:"omitempty,decimal_amount"`
}

// CreateWalletRequest is the request body for POST /api/v1/accounts/:id/wallets.
type CreateWalletRequest struct {
	Currency string `json:"currency" binding:"required,currency"`
	Balance  string `json:"balance" binding:"omitempty,decimal_amount"`
}

// LegacyWalletRequest is the request body for the legacy POST /wallets.
type LegacyWalletRequest struct {
	UserID   string `json:"userId" binding:"required,account_id"`
	Currency string `json:"currency" binding:"required,currency"`
	Balance  string `json:"balance" binding:"omitempty,decimal_amount"`
}

// TransferRequest is the request body for POST /api/v1/transfers. The
// Idempotency-Key header takes precedence over IdempotencyKey.
type TransferRequest struct {
	SenderID       string `json:"sender_id" binding:"required,account_id"`
	RecipientID    string `json:"recipient_id" binding:"required,account_id"`
	Currency       string `json:"currency" binding:"required,currency"`
	Amount         string `json:"amount" binding:"required,decimal_amount"`
	IdempotencyKey string `json:"idempotency_key,omitempty" binding:"omitempty,max=128,safe_id"`
}

// LegacyTransferRequest is the request body for the legacy POST /transfer.
type LegacyTransferRequest struct {
	SenderID    string `json:"senderId" binding:"required,account_id"`
	RecipientID string `json:"recipientId" binding:"required,account_id"`
	Currency    string `json:"currency" binding:"required,currency"`
	Amount      string `json:"amount" binding:"required,decimal_amount"`
}

// SetStatusRequest is the request body for PATCH /api/v1/admin/accounts/:id/status.
type SetStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=ACTIVE FROZEN CLOSED"`
}

// AdjustmentRequest is the request body for admin deposits and withdrawals.
type AdjustmentRequest struct {
	Currency string `json:"currency" binding:"required,currency"`
	Amount   string `json:"amount" binding:"required,decimal_amount"`
}

// AccountResponse is an account with its balances.
type AccountResponse struct {
	ID        string            `json:"id"`
	Username  string            `json:"username"`
	Email     string            `json:"email"`
	Status    string            `json:"status"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
	Balances  []BalanceResponse `json:"balances,omitempty"`
}

// BalanceResponse carries amounts as strings so no precision is lost in JSON.
type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Currency  string `json:"currency"`
	Amount    string `json:"amount"`
}

// TransferResponse is the response body for a transfer record.
type TransferResponse struct {
	ID             string  `json:"id"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
	SenderID       string  `json:"sender_id"`
	RecipientID    string  `json:"recipient_id"`
	Currency       string  `json:"currency"`
	Amount         string  `json:"amount"`
	Status         string  `json:"status"`
	Reason         string  `json:"reason,omitempty"`
	CreatedAt      string  `json:"created_at"`
	FinalizedAt    *string `json:"finalized_at,omitempty"`
}

// HistoryResponse wraps one page of transfer history.
type HistoryResponse struct {
	Items      []TransferResponse `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// ToAccountResponse converts a domain.Account and its balances to DTO.
func ToAccountResponse(a *domain.Account, balances []domain.Balance) AccountResponse {
	resp := AccountResponse{
		ID:        a.ID,
		Username:  a.Username,
		Email:     a.Email,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
		UpdatedAt: a.UpdatedAt.Format(time.RFC3339),
	}
	for i := range balances {
		resp.Balances = append(resp.Balances, ToBalanceResponse(&balances[i]))
	}
	return resp
}

// ToBalanceResponse converts a domain.Balance to DTO.
func ToBalanceResponse(b *domain.Balance) BalanceResponse {
	return BalanceResponse{
		AccountID: b.AccountID,
		Currency:  b.Currency,
		Amount:    b.Amount.String(),
	}
}

// ToTransferResponse converts a domain.TransferRecord to DTO.
func ToTransferResponse(rec *domain.TransferRecord) TransferResponse {
	resp := TransferResponse{
		ID:             rec.ID.String(),
		IdempotencyKey: rec.IdempotencyKey,
		SenderID:       rec.SenderID,
		RecipientID:    rec.RecipientID,
		Currency:       rec.Currency,
		Amount:         rec.Amount.String(),
		Status:         string(rec.Status),
		Reason:         string(rec.Reason),
		CreatedAt:      rec.CreatedAt.Format(time.RFC3339Nano),
	}
	if rec.FinalizedAt != nil {
		s := rec.FinalizedAt.Format(time.RFC3339Nano)
		resp.FinalizedAt = &s
	}
	return resp
}

// ToHistoryResponse converts a domain.HistoryPage to DTO.
func ToHistoryResponse(page *domain.HistoryPage) HistoryResponse {
	resp := HistoryResponse{
		Items:      make([]TransferResponse, 0, len(page.Records)),
		NextCursor: page.NextCursor,
	}
	for i := range page.Records {
		resp.Items = append(resp.Items, ToTransferResponse(&page.Records[i]))
	}
	return resp
}
