package handler

import (
	"exchange-ledger/internal/adapter/http/dto"
	"exchange-ledger/internal/adapter/http/middleware"
	"exchange-ledger/internal/core/ports"
	"exchange-ledger/pkg/apperror"
	"exchange-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// WalletHandler handles currency wallets and balances.
type WalletHandler struct {
	ledger ports.LedgerService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(ledger ports.LedgerService) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// CreateWallet handles POST /api/v1/accounts/:id/wallets.
func (h *WalletHandler) CreateWallet(c *gin.Context) {
	var req dto.CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	h.createWallet(c, c.Param("id"), req.Currency, req.Balance)
}

// LegacyCreateWallet handles POST /wallets, which names the account in the body.
func (h *WalletHandler) LegacyCreateWallet(c *gin.Context) {
	var req dto.LegacyWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	h.createWallet(c, req.UserID, req.Currency, req.Balance)
}

func (h *WalletHandler) createWallet(c *gin.Context, accountID, currency, rawBalance string) {
	initial, err := dto.ParseAmount(rawBalance)
	if err != nil {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	balance, err := h.ledger.CreateWallet(c.Request.Context(), ports.CreateWalletRequest{
		AccountID:      accountID,
		Currency:       currency,
		InitialBalance: initial,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.CtxResourceID, balance.AccountID+"/"+balance.Currency)

	response.Created(c, dto.ToBalanceResponse(balance))
}

// GetBalance handles GET /api/v1/accounts/:id/balances/:currency.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	balance, err := h.ledger.GetBalance(c.Request.Context(), c.Param("id"), c.Param("currency"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.ToBalanceResponse(balance))
}
