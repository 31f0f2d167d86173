package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/subtrackhq/subtrack/internal/catalog/domain"
	paymentdomain "github.com/subtrackhq/subtrack/internal/payment/domain"
	receiptdomain "github.com/subtrackhq/subtrack/internal/receipt/domain"
	subscriptiondomain "github.com/subtrackhq/subtrack/internal/subscription/domain"
)

var (
	errInvalidRequest = errors.New("invalid_request")
	errUnauthorized   = errors.New("unauthorized")
)

func invalidRequestError() error { return errInvalidRequest }

type errorResponse struct {
	Error string `json:"error"`
}

// AbortWithError maps domain errors onto HTTP statuses. Anything unmapped is
// a 500 and its message is not exposed.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, code := statusFor(err)
	c.AbortWithStatusJSON(status, errorResponse{Error: code})
}

func statusFor(err error) (int, string) {
	var verr *receiptdomain.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.HTTPStatus(), verr.Message
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, errInvalidIdempotencyKey),
		errors.Is(err, catalogdomain.ErrInvalidBillingCycle),
		errors.Is(err, subscriptiondomain.ErrInvalidUser),
		errors.Is(err, subscriptiondomain.ErrSameBillingCycle),
		errors.Is(err, paymentdomain.ErrMissingSignature):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, errUnauthorized),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, subscriptiondomain.ErrSubscriptionExists),
		errors.Is(err, subscriptiondomain.ErrUnsupportedProvider):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
