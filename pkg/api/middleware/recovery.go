package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gin-gonic/gin"

	"github.com/LENAX/flow-control/pkg/api/dto"
	"github.com/LENAX/flow-control/pkg/logging"
)

// Recovery 捕获处理器中的panic，记录堆栈并返回500
// panic 同时作为请求错误挂到 gin.Context，外层的 Logger 中间件据此输出请求日志
func Recovery(logger watermill.LoggerAdapter) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			// 客户端断开时 net/http 用 ErrAbortHandler 中止响应，交回给 net/http 处理
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			err := panicError(rec)
			logger.Error("处理请求时发生panic", err, watermill.LogFields{
				"method": c.Request.Method,
				"path":   c.Request.URL.Path,
				"stack":  string(debug.Stack()),
			})
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, dto.NewErrorResponse(
				http.StatusInternalServerError,
				"服务器内部错误",
			))
		}()
		c.Next()
	}
}

func panicError(rec interface{}) error {
	if err, ok := rec.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", rec)
}
