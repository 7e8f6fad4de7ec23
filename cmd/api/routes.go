package main

import (
	"database/sql"
	"net/http"
	"time"

	"teleconsult/internal/httpapi"
	"teleconsult/internal/rbac"
	"teleconsult/internal/signaling"
	"teleconsult/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerPublicRoutes wires health, metrics and the signaling socket, which
// authenticates from its own query token.
func registerPublicRoutes(r *gin.Engine, db *sql.DB, ws *signaling.Handler) {
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws/signal", ws.ServeWS)
}

// registerAPIRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerAPIRoutes(r *gin.Engine, h httpapi.Handlers, authMW, balanceMW gin.HandlerFunc) {
	v1 := r.Group("/v1")

	// Token issuance; the handler refuses outside non-production envs.
	v1.POST("/auth/login", h.Login)

	api := v1.Group("")
	api.Use(authMW, rbac.RequireIdentity())
	{
		calls := api.Group("/calls")
		calls.POST("/initiate", rbac.RequireAnyRole(rbac.RoleRequester), balanceMW, h.InitiateCall)
		calls.POST("/:call_id/end", rbac.RequireAnyRole(rbac.RoleRequester, rbac.RoleProvider), h.EndCall)
		calls.GET("/:call_id", rbac.RequireAnyRole(rbac.RoleRequester, rbac.RoleProvider), h.GetCall)

		api.GET("/history", rbac.RequireAnyRole(rbac.RoleRequester), h.ConsultationHistory)
		api.GET("/wallet/balance", rbac.RequireAnyRole(rbac.RoleRequester), h.GetWalletBalance)

		providers := api.Group("/providers")
		providers.PUT("/me/availability", rbac.RequireAnyRole(rbac.RoleProvider), h.SetAvailability)
		providers.GET("/:provider_id", h.GetProvider)

		// Operators reconcile; they never take a side of a call.
		admin := api.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleOperator))
		{
			admin.GET("/calls/unsettled", h.UnsettledCalls)
			admin.POST("/wallets/:owner_id/credit", h.AdminCreditWallet)
		}
	}
}
