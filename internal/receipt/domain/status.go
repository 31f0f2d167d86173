package domain

import (
	"fmt"
	"net/http"
)

const (
	StatusOK                  = 0
	StatusMalformedJSON       = 21000
	StatusMalformedReceipt    = 21002
	StatusUnauthenticated     = 21003
	StatusSecretMismatch      = 21004
	StatusServerUnavailable   = 21005
	StatusSubscriptionExpired = 21006
	StatusSandboxReceipt      = 21007
	StatusProductionReceipt   = 21008
	StatusInternalError       = 21009
	StatusAccountNotFound     = 21010
)

// ValidationError is a failure reported back to the client. ShouldRetry is
// set only for the two transient store conditions.
type ValidationError struct {
	Status      int
	Message     string
	ShouldRetry bool
}

func (e *ValidationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return e.Message
}

func (e *ValidationError) HTTPStatus() int {
	if e.ShouldRetry {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// ClassifyStatus maps a verifyReceipt status to a client error. It returns
// nil for success.
func ClassifyStatus(status int) *ValidationError {
	switch {
	case status == StatusOK:
		return nil
	case status == StatusMalformedJSON, status == StatusMalformedReceipt, status == StatusProductionReceipt:
		return &ValidationError{Status: status, Message: "receipt is malformed"}
	case status == StatusUnauthenticated:
		return &ValidationError{Status: status, Message: "receipt could not be authenticated"}
	case status == StatusSecretMismatch:
		return &ValidationError{Status: status, Message: "shared secret does not match"}
	case status == StatusServerUnavailable:
		return &ValidationError{Status: status, Message: "receipt server is unavailable", ShouldRetry: true}
	case status == StatusSubscriptionExpired:
		return &ValidationError{Status: status, Message: "subscription has expired"}
	case status == StatusInternalError, status >= 21100 && status <= 21199:
		return &ValidationError{Status: status, Message: "receipt server internal error", ShouldRetry: true}
	case status == StatusAccountNotFound:
		return &ValidationError{Status: status, Message: "account not found"}
	default:
		return &ValidationError{Status: status, Message: "receipt validation failed"}
	}
}
