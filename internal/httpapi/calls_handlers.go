package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"teleconsult/internal/auth"
	"teleconsult/internal/calls"
	"teleconsult/internal/coordinator"
	"teleconsult/pkg/logger"

	"github.com/gin-gonic/gin"
)

type initiateRequest struct {
	ProviderID string `json:"provider_id"`
}

type initiateResponse struct {
	CallID        string       `json:"call_id"`
	ProviderID    string       `json:"provider_id"`
	RatePerMinute int64        `json:"rate_per_minute"`
	Currency      string       `json:"currency"`
	Status        calls.Status `json:"status"`
}

type endResponse struct {
	CallID   string                    `json:"call_id"`
	Duration int                       `json:"duration"`
	Amount   int64                     `json:"amount"`
	Currency string                    `json:"currency"`
	Status   coordinator.OutcomeStatus `json:"status"`
}

const defaultEndWait = 15 * time.Second

// InitiateCall creates a pending call from the caller to a provider.
// RBAC: requester.
func (h Handlers) InitiateCall(c *gin.Context) {
	requesterID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ProviderID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "provider_id required"})
		return
	}

	rec, err := h.Calls.Initiate(c.Request.Context(), requesterID, req.ProviderID)
	switch {
	case err == nil:
	case errors.Is(err, calls.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid provider"})
		return
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "provider not found"})
		return
	case errors.Is(err, calls.ErrProviderUnavailable):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "provider unavailable"})
		return
	case errors.Is(err, calls.ErrActiveCallExists):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "active call exists"})
		return
	default:
		logger.FromGin(c).Error("initiate call failed", "provider_id", req.ProviderID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "initiate failed"})
		return
	}

	logger.FromGin(c).Info("call initiated", "call_id", rec.CallID, "provider_id", rec.ProviderID)
	c.JSON(http.StatusCreated, initiateResponse{
		CallID:        rec.CallID,
		ProviderID:    rec.ProviderID,
		RatePerMinute: rec.RatePerMinuteMinor,
		Currency:      rec.Currency,
		Status:        rec.Status,
	})
}

// EndCall ends a call on behalf of one of its parties and returns the
// final outcome. A call already ended by another trigger returns that
// trigger's outcome.
func (h Handlers) EndCall(c *gin.Context) {
	rec, role, ok := h.partyRecord(c)
	if !ok {
		return
	}

	out, err := h.endOutcome(c.Request.Context(), rec.CallID, role)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": "call end still in progress"})
		return
	case errors.Is(err, coordinator.ErrCallNotEnded):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "call not ended"})
		return
	default:
		logger.FromGin(c).Error("end call failed", "call_id", rec.CallID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "end failed"})
		return
	}

	c.JSON(http.StatusOK, endResponse{
		CallID:   out.CallID,
		Duration: out.DurationMinutes,
		Amount:   out.AmountMinor,
		Currency: out.Currency,
		Status:   out.Status,
	})
}

func (h Handlers) endOutcome(ctx context.Context, callID string, role calls.Role) (coordinator.Outcome, error) {
	res, err := h.Coord.TryTerminate(ctx, callID, coordinator.Trigger{Kind: coordinator.ExplicitRequest, Role: role})
	if err != nil {
		return coordinator.Outcome{}, err
	}
	if res.Applied {
		return res.Outcome, nil
	}

	wait := h.EndWait
	if wait <= 0 {
		wait = defaultEndWait
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return h.Coord.Await(wctx, callID)
}

// GetCall returns the durable record. RBAC: the call's parties.
func (h Handlers) GetCall(c *gin.Context) {
	rec, _, ok := h.partyRecord(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

// UnsettledCalls lists calls whose final commit failed. RBAC: operator.
func (h Handlers) UnsettledCalls(c *gin.Context) {
	out := h.Coord.Unsettled()
	c.JSON(http.StatusOK, gin.H{"calls": out, "count": len(out)})
}

// partyRecord loads :call_id and checks the caller is one of its parties.
func (h Handlers) partyRecord(c *gin.Context) (calls.Record, calls.Role, bool) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return calls.Record{}, "", false
	}
	callID := c.Param("call_id")
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_id required"})
		return calls.Record{}, "", false
	}

	rec, err := h.Calls.Get(c.Request.Context(), callID)
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return calls.Record{}, "", false
	}
	if err != nil {
		logger.FromGin(c).Error("call lookup failed", "call_id", callID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return calls.Record{}, "", false
	}

	role, ok := rec.RoleOf(userID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return calls.Record{}, "", false
	}
	return rec, role, true
}
