package handler

import (
	"exchange-ledger/internal/adapter/http/dto"
	"exchange-ledger/internal/adapter/http/middleware"
	"exchange-ledger/internal/core/ports"
	"exchange-ledger/pkg/apperror"
	"exchange-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// AccountHandler handles account registration and lookup.
type AccountHandler struct {
	accounts ports.AccountService
	ledger   ports.LedgerService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accounts ports.AccountService, ledger ports.LedgerService) *AccountHandler {
	return &AccountHandler{accounts: accounts, ledger: ledger}
}

// Register handles POST /api/v1/accounts and POST /register. Without an
// explicit id the username becomes the account id.
func (h *AccountHandler) Register(c *gin.Context) {
	var req dto.RegisterAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	fiat, err := dto.ParseAmount(req.FiatBalance)
	if err != nil {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	id := req.ID
	if id == "" {
		id = req.Username
	}

	account, err := h.accounts.Register(c.Request.Context(), ports.RegisterAccountRequest{
		ID:          id,
		Username:    req.Username,
		Email:       req.Email,
		FiatBalance: fiat,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxResourceID, account.ID)

	balances, err := h.ledger.ListBalances(c.Request.Context(), account.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.ToAccountResponse(account, balances))
}

// Get handles GET /api/v1/accounts/:id.
func (h *AccountHandler) Get(c *gin.Context) {
	account, err := h.accounts.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	balances, err := h.ledger.ListBalances(c.Request.Context(), account.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ToAccountResponse(account, balances))
}
