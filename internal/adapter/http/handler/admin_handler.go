package handler

import (
	"context"

	"exchange-ledger/internal/adapter/http/dto"
	"exchange-ledger/internal/adapter/http/middleware"
	"exchange-ledger/internal/core/domain"
	"exchange-ledger/internal/core/ports"
	"exchange-ledger/pkg/apperror"
	"exchange-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// AdminHandler handles the administrative account routes.
type AdminHandler struct {
	accounts ports.AccountService
	ledger   ports.LedgerService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(accounts ports.AccountService, ledger ports.LedgerService) *AdminHandler {
	return &AdminHandler{accounts: accounts, ledger: ledger}
}

// SetStatus handles PATCH /api/v1/admin/accounts/:id/status. Setting the
// current status succeeds without an audit entry.
func (h *AdminHandler) SetStatus(c *gin.Context) {
	var req dto.SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	status := domain.AccountStatus(req.Status)

	current, err := h.accounts.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if current.Status == status {
		middleware.SkipAudit(c)
		response.OK(c, dto.ToAccountResponse(current, nil))
		return
	}

	account, err := h.accounts.SetStatus(c.Request.Context(), current.ID, status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToAccountResponse(account, nil))
}

// Deposit handles POST /api/v1/admin/accounts/:id/deposits.
func (h *AdminHandler) Deposit(c *gin.Context) {
	h.adjust(c, h.ledger.Deposit)
}

// Withdraw handles POST /api/v1/admin/accounts/:id/withdrawals.
func (h *AdminHandler) Withdraw(c *gin.Context) {
	h.adjust(c, h.ledger.Withdraw)
}

func (h *AdminHandler) adjust(c *gin.Context, apply func(ctx context.Context, req ports.AdjustmentRequest) (*domain.Balance, error)) {
	var req dto.AdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	amount, err := dto.ParseAmount(req.Amount)
	if err != nil {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	balance, err := apply(c.Request.Context(), ports.AdjustmentRequest{
		AccountID: c.Param("id"),
		Currency:  req.Currency,
		Amount:    amount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToBalanceResponse(balance))
}
