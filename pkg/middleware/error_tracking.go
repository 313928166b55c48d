package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/kfirel/hiker/pkg/logger"
	"go.uber.org/zap"
)

// SentryMiddleware returns a middleware that integrates Sentry error tracking.
func SentryMiddleware() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	})
}

// RecoveryWithSentry recovers from panics, reports them to Sentry and returns
// a generic 500 without leaking internals.
func RecoveryWithSentry() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic: %v", r)

				if hub := sentrygin.GetHubFromContext(c); hub != nil {
					hub.RecoverWithContext(c.Request.Context(), r)
				} else {
					sentry.CurrentHub().Recover(r)
				}

				logger.WithContext(c.Request.Context()).Error("panic recovered",
					zap.Error(err),
					zap.String("path", c.Request.URL.Path),
					zap.String("stack", string(debug.Stack())),
				)

				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"error": "Internal server error",
					})
				}
			}
		}()

		c.Next()
	}
}
