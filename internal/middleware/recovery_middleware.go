// internal/middleware/recovery_middleware.go
package middleware

import (
	"errors"
	"net/http"

	"netbill-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RecoveryMiddleware turns a handler panic into a 500 and stops the chain, so no
// handler registered after the one that panicked runs. http.ErrAbortHandler is
// re-raised for net/http to drop the connection.
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			fields := []zap.Field{
				zap.Any("panic", rec),
				zap.String("method", c.Request.Method),
				zap.String("route", c.FullPath()),
				zap.String("client_ip", c.ClientIP()),
				zap.Stack("stack"),
			}
			if id, ok := c.Get("identity_id"); ok {
				fields = append(fields, zap.Any("identity_id", id))
			}
			logger.Error("handler panicked", fields...)

			c.Abort()
			// a handler that already wrote its headers gets no second response
			if !c.Writer.Written() {
				response.Error(c, http.StatusInternalServerError, "internal server error", nil)
			}
		}()
		c.Next()
	}
}
