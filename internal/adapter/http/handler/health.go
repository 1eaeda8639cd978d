package handler

import (
	"net/http"

	"exchange-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
)

const welcomeText = "Welcome to the Cryptocurrency Exchange Backend API!"

// Index handles GET /.
func Index(c *gin.Context) {
	c.String(http.StatusOK, welcomeText)
}

// HealthCheck handles GET /health and reports every dependency check.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
