package wallet

import (
	"context"
	"errors"
	"net/http"

	"teleconsult/internal/auth"

	"github.com/gin-gonic/gin"
)

// BalanceService is the minimal wallet service interface needed by middleware.
type BalanceService interface {
	GetBalance(ctx context.Context, ownerID string) (Balance, error)
}

// RequirePositiveBalance blocks the request unless the caller's wallet holds
// a positive balance. Charges are only posted after a call ends, so this is
// the single pre-call money check.
func RequirePositiveBalance(svc BalanceService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, err := auth.UserID(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		bal, err := svc.GetBalance(c.Request.Context(), ownerID)
		if errors.Is(err, ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "wallet required"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
			return
		}
		if bal.BalanceMinor <= 0 {
			// 402 Payment Required is semantically appropriate.
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
			return
		}

		c.Next()
	}
}
