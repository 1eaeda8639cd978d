package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferEvent is published once a transfer reaches a terminal state.
type TransferEvent struct {
	EventID     uuid.UUID       `json:"event_id"`
	TransferID  uuid.UUID       `json:"transfer_id"`
	SenderID    string          `json:"sender_id"`
	RecipientID string          `json:"recipient_id"`
	Currency    string          `json:"currency"`
	Amount      decimal.Decimal `json:"amount"`
	Status      TransferStatus  `json:"status"`
	Reason      FailureReason   `json:"reason,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// NewTransferEvent builds the event for a finalized record.
func NewTransferEvent(rec *TransferRecord) TransferEvent {
	occurred := rec.CreatedAt
	if rec.FinalizedAt != nil {
		occurred = *rec.FinalizedAt
	}
	return TransferEvent{
		EventID:     uuid.New(),
		TransferID:  rec.ID,
		SenderID:    rec.SenderID,
		RecipientID: rec.RecipientID,
		Currency:    rec.Currency,
		Amount:      rec.Amount,
		Status:      rec.Status,
		Reason:      rec.Reason,
		OccurredAt:  occurred,
	}
}
