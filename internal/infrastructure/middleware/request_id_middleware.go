package middleware

import (
	"time"

	"avbstream/pkg/logger"
	"avbstream/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 64

// RequestIDMiddleware tags each request with an ID, taken from the client
// header when present, stores it in the request context and logs the request
// once it completes.
func RequestIDMiddleware(log *zap.Logger) gin.HandlerFunc {
	ctxLog := logger.NewContextLogger(log)
	return func(c *gin.Context) {
		id := utils.TruncateString(utils.SanitizeString(c.GetHeader(RequestIDHeader)), maxRequestIDLen)
		if id == "" {
			id = utils.GenerateRequestID()
		}
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Header(RequestIDHeader, id)

		start := time.Now()
		c.Next()

		ctxLog.LogRequest(c.Request.Context(), c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
