package api

import (
	"credit_system/internal/subscription" // Subscription manager
	"errors"                              // Sentinel error matching
	"net/http"                            // HTTP status codes
	"strconv"                             // Path parameter conversion

	"github.com/gin-gonic/gin" // Gin web framework
)

// SubscribeRequest represents a subscription creation request
type SubscribeRequest struct {
	PlanID uint `json:"plan_id" binding:"required"` // Plan to subscribe to
}

// GetPlanHandler returns one plan by its unique name
func GetPlanHandler(m *subscription.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		plan, err := m.GetPlanByName(c.Request.Context(), c.Param("name"))
		if errors.Is(err, subscription.ErrPlanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Plan not found"})
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load plan"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"plan": plan})
	}
}

// GetSubscriptionHandler returns the caller's active subscription, if any
func GetSubscriptionHandler(m *subscription.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := callerID(c)
		if !ok {
			return
		}
		sub, err := m.GetActiveSubscription(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load subscription"})
			return
		}
		// No active subscription is a normal answer, not an error
		if sub == nil {
			c.JSON(http.StatusOK, gin.H{"subscription": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"subscription": sub})
	}
}

// SubscribeHandler creates a subscription for the caller
func SubscribeHandler(m *subscription.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := callerID(c)
		if !ok {
			return
		}
		var req SubscribeRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
		sub, err := m.CreateSubscription(c.Request.Context(), userID, req.PlanID)
		switch {
		case errors.Is(err, subscription.ErrAlreadySubscribed):
			c.JSON(http.StatusConflict, gin.H{"error": "Already subscribed"})
		case errors.Is(err, subscription.ErrPlanNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Plan not found"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Subscription failed"})
		default:
			c.JSON(http.StatusCreated, gin.H{"subscription": sub})
		}
	}
}

// CancelSubscriptionHandler cancels one of the caller's subscriptions
func CancelSubscriptionHandler(m *subscription.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := callerID(c)
		if !ok {
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription id"})
			return
		}
		sub, err := m.GetSubscription(c.Request.Context(), uint(id))
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Cancel failed"})
			return
		}
		// Callers may only cancel their own subscriptions
		if sub.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "Not your subscription"})
			return
		}
		sub, err = m.CancelSubscription(c.Request.Context(), sub.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Cancel failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"subscription": sub})
	}
}
