package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/flow-control/pkg/api/dto"
	"github.com/LENAX/flow-control/pkg/core/engine"
	"github.com/LENAX/flow-control/pkg/core/lifecycle"
	"github.com/LENAX/flow-control/pkg/core/policy"
	"github.com/LENAX/flow-control/pkg/core/scheduler"
	"github.com/LENAX/flow-control/pkg/core/security"
)

// statusFor 把各组件的哨兵错误映射为HTTP状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrInstanceNotFound),
		errors.Is(err, scheduler.ErrScheduleNotFound),
		errors.Is(err, policy.ErrConfigNotFound),
		errors.Is(err, security.ErrUserNotFound),
		errors.Is(err, security.ErrPermissionNotFound),
		errors.Is(err, security.ErrEventNotFound),
		errors.Is(err, lifecycle.ErrDependencyNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrDependencyNotSatisfied),
		errors.Is(err, scheduler.ErrScheduleBusy),
		errors.Is(err, policy.ErrConfigExists),
		errors.Is(err, engine.ErrWorkflowDisabled):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrConcurrencyLimit),
		errors.Is(err, lifecycle.ErrResourceLimit),
		errors.Is(err, engine.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, policy.ErrConfigInvalid),
		errors.Is(err, policy.ErrUnsupportedFormat),
		errors.Is(err, lifecycle.ErrInvalidDependency),
		errors.Is(err, scheduler.ErrInvalidSchedule),
		errors.Is(err, engine.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, security.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, action string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, dto.NewErrorResponse(status, fmt.Sprintf("%s: %v", action, err)))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求参数错误: %v", err)))
}

// formatDuration 格式化时长
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
