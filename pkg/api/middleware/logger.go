package middleware

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gin-gonic/gin"

	"github.com/LENAX/flow-control/pkg/logging"
)

// Logger 请求日志中间件，5xx按错误级别输出
func Logger(logger watermill.LoggerAdapter) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := watermill.LogFields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"latency":  time.Since(start).String(),
			"clientIP": c.ClientIP(),
		}
		if userID := CurrentUserID(c); userID != "" {
			fields["user_id"] = userID
		}
		if c.Writer.Status() >= 500 {
			var err error = fmt.Errorf("status %d", c.Writer.Status())
			if last := c.Errors.Last(); last != nil {
				err = last.Err
			}
			logger.Error("HTTP请求失败", err, fields)
			return
		}
		logger.Debug("HTTP请求", fields)
	}
}
