package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	idempotencyHeader = "Idempotency-Key"
	// Stripe rejects longer keys.
	maxIdempotencyKeyLen = 255
)

var errInvalidIdempotencyKey = errors.New("invalid_idempotency_key")

// idempotencyKeyFromHeader returns the client retry key for subscription
// creation. An absent header is fine; the service derives a key per user.
func idempotencyKeyFromHeader(c *gin.Context) (string, error) {
	key := strings.TrimSpace(c.GetHeader(idempotencyHeader))
	if len(key) > maxIdempotencyKeyLen {
		return "", errInvalidIdempotencyKey
	}
	for _, r := range key {
		if r < 0x20 || r > 0x7e {
			return "", errInvalidIdempotencyKey
		}
	}
	return key, nil
}
