package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	quotadomain "github.com/subtrackhq/subtrack/internal/quota/domain"
	receiptdomain "github.com/subtrackhq/subtrack/internal/receipt/domain"
)

type receiptFailure struct {
	Success     bool   `json:"success"`
	Error       string `json:"error"`
	Status      int    `json:"status,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

type receiptSuccess struct {
	Success          bool                       `json:"success"`
	AlreadyProcessed bool                       `json:"alreadyProcessed,omitempty"`
	Subscription     receiptdomain.Subscription `json:"subscription"`
}

func (s *Server) ValidateAppleReceipt(c *gin.Context) {
	var req receiptdomain.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, receiptFailure{Error: "invalid request body"})
		return
	}

	if s.quota != nil {
		if err := s.quota.AllowReceiptValidation(c.Request.Context(), req.UserID); errors.Is(err, quotadomain.ErrReceiptRateLimited) {
			c.JSON(http.StatusTooManyRequests, receiptFailure{Error: "too many receipt validation attempts", ShouldRetry: true})
			return
		}
	}

	res, err := s.receiptSvc.Validate(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		var verr *receiptdomain.ValidationError
		if errors.As(err, &verr) {
			c.JSON(verr.HTTPStatus(), receiptFailure{
				Error:       verr.Message,
				Status:      verr.Status,
				ShouldRetry: verr.ShouldRetry,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, receiptFailure{Error: "failed to apply subscription"})
		return
	}

	c.JSON(http.StatusOK, receiptSuccess{
		Success:          true,
		AlreadyProcessed: res.AlreadyProcessed,
		Subscription:     res.Subscription,
	})
}
