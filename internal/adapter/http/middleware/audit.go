package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"exchange-ledger/internal/core/domain"
	"exchange-ledger/internal/core/ports"
	"exchange-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// ctxSkipAudit marks a successful write that changed nothing.
	ctxSkipAudit = "skip_audit"
	// CtxResourceID lets handlers name the resource of routes without an :id.
	CtxResourceID = "resource_id"
)

// SkipAudit tells AuditLog not to record the current request.
func SkipAudit(c *gin.Context) {
	c.Set(ctxSkipAudit, true)
}

// AuditLog records successful write operations on audited routes. It runs
// after the handler and keys on the matched route, not the raw path.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < 200 || status >= 300 {
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}
		if c.GetBool(ctxSkipAudit) {
			return
		}

		action, resourceType := mapRouteToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"request_id": c.GetString(response.RequestIDKey),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			Actor:        Actor(c),
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   resourceID(c),
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}

func resourceID(c *gin.Context) string {
	if id := c.Param("id"); id != "" {
		return domain.NormalizeAccountID(id)
	}
	return c.GetString(CtxResourceID)
}

func mapRouteToAction(route, method string) (domain.AuditAction, string) {
	switch {
	case route == "/api/v1/accounts" && method == http.MethodPost,
		route == "/register" && method == http.MethodPost:
		return domain.AuditActionRegister, "account"
	case route == "/api/v1/accounts/:id/wallets" && method == http.MethodPost,
		route == "/wallets" && method == http.MethodPost:
		return domain.AuditActionCreateWallet, "wallet"
	case route == "/api/v1/admin/accounts/:id/status" && method == http.MethodPatch:
		return domain.AuditActionStatusChange, "account"
	case route == "/api/v1/admin/accounts/:id/deposits" && method == http.MethodPost:
		return domain.AuditActionDeposit, "balance"
	case route == "/api/v1/admin/accounts/:id/withdrawals" && method == http.MethodPost:
		return domain.AuditActionWithdrawal, "balance"
	}
	return "", ""
}
