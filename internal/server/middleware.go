package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-ID"
	ctxRequestID    = "request_id"
	ctxUserID       = "user_id"
	ctxUserEmail    = "user_email"
)

// RequestID keeps a caller-supplied id or mints one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(started)),
			zap.String("request_id", c.GetString(ctxRequestID)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}

func Recovery(log *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error("panic recovered",
			zap.Any("panic", recovered),
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(ctxRequestID)))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	})
}

type userClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

var errMissingSubject = errors.New("token_missing_subject")

// RequireUser authenticates HS256 bearer tokens. The subject claim is the
// user id.
func RequireUser(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" || len(secret) == 0 {
			AbortWithError(c, errUnauthorized)
			return
		}

		claims := &userClaims{}
		_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err == nil && strings.TrimSpace(claims.Subject) == "" {
			err = errMissingSubject
		}
		if err != nil {
			_ = c.Error(err)
			AbortWithError(c, errUnauthorized)
			return
		}

		c.Set(ctxUserID, claims.Subject)
		c.Set(ctxUserEmail, claims.Email)
		c.Next()
	}
}
