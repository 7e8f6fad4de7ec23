package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"teleconsult/internal/auth"
	"teleconsult/internal/pricing"
	"teleconsult/internal/reporting"
	"teleconsult/internal/wallet"
	"teleconsult/pkg/logger"

	"github.com/gin-gonic/gin"
)

// --- History ---

// ConsultationHistory lists the caller's consultations with a spend summary.
// RBAC: requester.
func (h Handlers) ConsultationHistory(c *gin.Context) {
	requesterID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit invalid"})
			return
		}
		limit = n
	}

	entries, err := h.History.History(c.Request.Context(), reporting.HistoryRequest{RequesterID: requesterID, Limit: limit})
	if err != nil {
		logger.FromGin(c).Error("history lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	summary, err := h.History.SpendSummary(c.Request.Context(), reporting.SpendSummaryRequest{RequesterID: requesterID})
	if err != nil {
		logger.FromGin(c).Error("spend summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "summary": summary})
}

// --- Wallet ---

type adminCreditRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h Handlers) GetWalletBalance(c *gin.Context) {
	ownerID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	bal, err := h.Wallet.GetBalance(c.Request.Context(), ownerID)
	if errors.Is(err, wallet.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, bal)
}

// AdminCreditWallet tops up a requester's wallet.
// RBAC: operator. Every credit is audited.
func (h Handlers) AdminCreditWallet(c *gin.Context) {
	adminUserID, _ := auth.UserID(c.Request.Context())
	adminRole, _ := auth.Role(c.Request.Context())
	ownerID := c.Param("owner_id")

	var req adminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Reason == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "reason required"})
		return
	}

	entry, bal, err := h.Wallet.Credit(c.Request.Context(), ownerID, wallet.CreditRequest{
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		ExternalRef:    "admin_credit",
		IdempotencyKey: req.IdempotencyKey,
	})
	switch {
	case err == nil:
	case errors.Is(err, wallet.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
		return
	case errors.Is(err, wallet.ErrInvalidArgument), errors.Is(err, wallet.ErrWalletDisabled):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	default:
		logger.FromGin(c).Error("wallet credit failed", "owner_id", ownerID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "credit failed"})
		return
	}

	if h.Audit != nil {
		if err := h.Audit.LogAdminAction(c.Request.Context(), adminUserID, adminRole, c.ClientIP(), req.Reason, ownerID, ""); err != nil {
			logger.FromGin(c).Warn("audit append failed", "ledger_id", entry.ID, "err", err)
		}
	}
	c.JSON(http.StatusOK, bal)
}

// --- Providers ---

type availabilityRequest struct {
	Available *bool `json:"available"`
}

// GetProvider returns a provider's directory entry.
func (h Handlers) GetProvider(c *gin.Context) {
	p, err := h.Providers.ProviderRate(c.Request.Context(), c.Param("provider_id"))
	if errors.Is(err, pricing.ErrRateNotFound) || errors.Is(err, pricing.ErrInvalidPricingReq) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "provider not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "provider lookup failed"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// SetAvailability lets a provider open or close themselves to new calls.
// RBAC: provider, own entry only.
func (h Handlers) SetAvailability(c *gin.Context) {
	providerID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Available == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "available required"})
		return
	}

	err = h.Providers.SetAvailability(c.Request.Context(), providerID, *req.Available)
	if errors.Is(err, pricing.ErrRateNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "provider not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("set availability failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider_id": providerID, "available": *req.Available})
}
