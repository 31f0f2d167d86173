package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/subtrackhq/subtrack/internal/payment/adapters/stripe"
	"go.uber.org/zap"
)

// Stripe caps event payloads well below this.
const maxWebhookBytes = 1 << 20

// StripeWebhook acknowledges every authentic delivery with 200. Processing
// outcomes are reported through logs and metrics only.
func (s *Server) StripeWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.webhookSvc.Ingest(c.Request.Context(), body, c.GetHeader(stripe.SignatureHeader))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Debug("webhook acknowledged",
		zap.String("event_id", res.EventID),
		zap.String("event_type", res.Type),
		zap.String("outcome", res.Outcome))
	c.JSON(http.StatusOK, gin.H{"received": true})
}
