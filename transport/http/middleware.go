package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger logs one structured line per request. The poll endpoint is
// logged at debug level only — browsers hit it every few seconds and it would
// drown everything else.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}

		if c.Request.URL.Path == "/wa2fa/qr-status" {
			log.Debug("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}
