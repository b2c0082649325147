package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/flow-control/pkg/api/dto"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var errBoom = errors.New("boom")

func newPanicRouter(logger watermill.LoggerAdapter) *gin.Engine {
	router := gin.New()
	router.Use(Logger(logger))
	router.Use(Recovery(logger))
	router.GET("/panic/error", func(c *gin.Context) { panic(errBoom) })
	router.GET("/panic/value", func(c *gin.Context) { panic("bad state") })
	router.GET("/ok", func(c *gin.Context) { c.JSON(http.StatusOK, dto.NewSuccessResponse("fine")) })
	return router
}

func TestRecoveryReturns500AndLogsPanic(t *testing.T) {
	logger := watermill.NewCaptureLogger()
	router := newPanicRouter(logger)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic/error", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp dto.APIResponse[any]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, "服务器内部错误", resp.Message)

	errs := logger.Captured()[watermill.ErrorLogLevel]
	require.Len(t, errs, 2)

	// 先是带堆栈的panic日志，再是外层的请求日志，两者携带同一个错误
	panicLog := errs[0]
	assert.Equal(t, "处理请求时发生panic", panicLog.Msg)
	assert.ErrorIs(t, panicLog.Err, errBoom)
	assert.Equal(t, "/panic/error", panicLog.Fields["path"])
	assert.Contains(t, panicLog.Fields["stack"], "recovery.go")

	requestLog := errs[1]
	assert.Equal(t, "HTTP请求失败", requestLog.Msg)
	assert.ErrorIs(t, requestLog.Err, errBoom)
	assert.Equal(t, http.StatusInternalServerError, requestLog.Fields["status"])
}

func TestRecoveryNonErrorPanic(t *testing.T) {
	logger := watermill.NewCaptureLogger()
	router := newPanicRouter(logger)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic/value", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	errs := logger.Captured()[watermill.ErrorLogLevel]
	require.NotEmpty(t, errs)
	assert.EqualError(t, errs[0].Err, "panic: bad state")

	// 后续请求不受影响
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecoveryWithoutLogger(t *testing.T) {
	router := newPanicRouter(nil)
	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic/error", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
