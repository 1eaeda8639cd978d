package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferStatus represents the lifecycle state of a transfer record.
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "PENDING"
	TransferStatusCommitted TransferStatus = "COMMITTED"
	TransferStatusFailed    TransferStatus = "FAILED"
)

// FailureReason explains why a transfer ended FAILED.
type FailureReason string

const (
	ReasonInsufficientFunds  FailureReason = "INSUFFICIENT_FUNDS"
	ReasonUnknownAccount     FailureReason = "UNKNOWN_ACCOUNT"
	ReasonAccountUnavailable FailureReason = "ACCOUNT_UNAVAILABLE"
	ReasonStorageUnavailable FailureReason = "STORAGE_UNAVAILABLE"
	ReasonCancelled          FailureReason = "CANCELLED"
	ReasonCompensationFailed FailureReason = "COMPENSATION_FAILED"
)

// TransferRecord is the log entry of a single balance movement. It is
// created PENDING and finalized exactly once.
type TransferRecord struct {
	ID             uuid.UUID       `json:"id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	SenderID       string          `json:"sender_id"`
	RecipientID    string          `json:"recipient_id"`
	Currency       string          `json:"currency"`
	Amount         decimal.Decimal `json:"amount"`
	Status         TransferStatus  `json:"status"`
	Reason         FailureReason   `json:"reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	FinalizedAt    *time.Time      `json:"finalized_at,omitempty"`
}

// NewTransferRecord returns a PENDING record with a fresh id.
func NewTransferRecord(sender, recipient, currency string, amount decimal.Decimal, idempotencyKey string, now time.Time) *TransferRecord {
	return &TransferRecord{
		ID:             uuid.New(),
		IdempotencyKey: idempotencyKey,
		SenderID:       sender,
		RecipientID:    recipient,
		Currency:       currency,
		Amount:         amount,
		Status:         TransferStatusPending,
		CreatedAt:      now,
	}
}

// IsTerminal returns true if the record is in a final state.
func (t *TransferRecord) IsTerminal() bool {
	return t.Status == TransferStatusCommitted || t.Status == TransferStatusFailed
}

// Finalize moves a pending record to a terminal status. It returns false
// and leaves the record untouched if the record is already terminal or
// status is not terminal.
func (t *TransferRecord) Finalize(status TransferStatus, reason FailureReason, at time.Time) bool {
	if t.IsTerminal() || status == TransferStatusPending {
		return false
	}
	t.Status = status
	if status == TransferStatusFailed {
		t.Reason = reason
	} else {
		t.Reason = ""
	}
	t.FinalizedAt = &at
	return true
}

// Touches returns true if accountID is either party of the transfer.
func (t *TransferRecord) Touches(accountID string) bool {
	return t.SenderID == accountID || t.RecipientID == accountID
}

// DeltaFor returns the signed effect the transfer had on accountID's
// balance. Only committed transfers have an effect.
func (t *TransferRecord) DeltaFor(accountID string) decimal.Decimal {
	if t.Status != TransferStatusCommitted {
		return decimal.Zero
	}
	switch accountID {
	case t.SenderID:
		return t.Amount.Neg()
	case t.RecipientID:
		return t.Amount
	}
	return decimal.Zero
}

// Keys returns the sender and recipient balance keys.
func (t *TransferRecord) Keys() (sender, recipient BalanceKey) {
	return BalanceKey{AccountID: t.SenderID, Currency: t.Currency},
		BalanceKey{AccountID: t.RecipientID, Currency: t.Currency}
}
