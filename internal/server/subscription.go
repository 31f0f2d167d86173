package server

import (
	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/subtrackhq/subtrack/internal/subscription/domain"
)

type createSubscriptionRequest struct {
	BillingCycle string `json:"billingCycle"`
}

type switchBillingCycleRequest struct {
	NewBillingCycle string `json:"newBillingCycle"`
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	key, err := idempotencyKeyFromHeader(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.subscriptionSvc.Create(c.Request.Context(), subscriptiondomain.CreateRequest{
		UserID:         c.GetString(ctxUserID),
		Email:          c.GetString(ctxUserEmail),
		BillingCycle:   req.BillingCycle,
		IdempotencyKey: key,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, resp)
}

// SwitchBillingCycle only changes the provider subscription; the local
// record follows when the update webhook arrives.
func (s *Server) SwitchBillingCycle(c *gin.Context) {
	var req switchBillingCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.subscriptionSvc.SwitchBillingCycle(c.Request.Context(), subscriptiondomain.SwitchBillingCycleRequest{
		UserID:          c.GetString(ctxUserID),
		NewBillingCycle: req.NewBillingCycle,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, resp)
}

func (s *Server) CancelSubscription(c *gin.Context) {
	resp, err := s.subscriptionSvc.Cancel(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, resp)
}

func (s *Server) GetEntitlement(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	resp, err := s.subscriptionSvc.Entitlement(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, resp)
}
