package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"exchange-ledger/internal/adapter/http/dto"
	"exchange-ledger/internal/core/domain"
	"exchange-ledger/internal/core/ports"
	"exchange-ledger/pkg/apperror"
	"exchange-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
)

// HeaderIdempotencyKey overrides the idempotency_key body field.
const HeaderIdempotencyKey = "Idempotency-Key"

// TransferHandler handles transfers and transfer history.
type TransferHandler struct {
	transfers ports.TransferService
	history   ports.HistoryService
	timeout   time.Duration
}

// NewTransferHandler creates a new TransferHandler. A positive timeout bounds
// how long a request waits for the transfer outcome.
func NewTransferHandler(transfers ports.TransferService, history ports.HistoryService, timeout time.Duration) *TransferHandler {
	return &TransferHandler{transfers: transfers, history: history, timeout: timeout}
}

// Transfer handles POST /api/v1/transfers.
func (h *TransferHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if key := c.GetHeader(HeaderIdempotencyKey); key != "" {
		req.IdempotencyKey = key
		if err := binding.Validator.ValidateStruct(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
	}
	dto.SanitizeStruct(&req)

	h.transfer(c, req.SenderID, req.RecipientID, req.Currency, req.Amount, req.IdempotencyKey)
}

// LegacyTransfer handles POST /transfer.
func (h *TransferHandler) LegacyTransfer(c *gin.Context) {
	var req dto.LegacyTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	h.transfer(c, req.SenderID, req.RecipientID, req.Currency, req.Amount, "")
}

func (h *TransferHandler) transfer(c *gin.Context, sender, recipient, currency, rawAmount, idemKey string) {
	amount, err := dto.ParseAmount(rawAmount)
	if err != nil {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	rec, err := h.transfers.Transfer(ctx, ports.TransferRequest{
		SenderID:       sender,
		RecipientID:    recipient,
		Currency:       currency,
		Amount:         amount,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if rec.Status == domain.TransferStatusFailed {
		response.ErrorWithData(c, failureError(rec), dto.ToTransferResponse(rec))
		return
	}
	response.OK(c, dto.ToTransferResponse(rec))
}

// failureError maps the reason of a FAILED record to the error sent with it.
func failureError(rec *domain.TransferRecord) error {
	switch rec.Reason {
	case domain.ReasonInsufficientFunds:
		return apperror.ErrInsufficientFunds()
	case domain.ReasonUnknownAccount:
		// the record does not say which party went missing
		return apperror.New(apperror.CodeUnknownAccount,
			fmt.Sprintf("Sender %q or recipient %q is not registered in the ledger", rec.SenderID, rec.RecipientID),
			http.StatusNotFound)
	case domain.ReasonAccountUnavailable:
		return apperror.New(apperror.CodeAccountUnavailable,
			"Account became unavailable during the transfer", http.StatusConflict)
	case domain.ReasonStorageUnavailable:
		return apperror.ErrStorageUnavailable(nil)
	case domain.ReasonCancelled:
		return apperror.New(apperror.CodeTransferTimeout,
			"Transfer cancelled before any funds moved", http.StatusGatewayTimeout)
	default:
		return apperror.New(apperror.CodeInternal,
			"Transfer failed and requires reconciliation", http.StatusInternalServerError)
	}
}

// GetTransfer handles GET /api/v1/transfers/:id.
func (h *TransferHandler) GetTransfer(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("transfer id must be a UUID"))
		return
	}

	rec, err := h.history.GetTransfer(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToTransferResponse(rec))
}

// History handles GET /api/v1/accounts/:id/transfers?cursor=&limit=.
func (h *TransferHandler) History(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.Error(c, apperror.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}

	page, err := h.history.GetTransferHistory(c.Request.Context(), c.Param("id"), c.Query("cursor"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToHistoryResponse(page))
}
