// Package logging 构造各组件共用的结构化日志适配器
package logging

import (
	"strings"

	"github.com/ThreeDotsLabs/watermill"
)

// NewLogger 按日志级别创建Logger
// debug级别输出Debug日志，trace级别额外输出Trace日志
func NewLogger(level string) watermill.LoggerAdapter {
	switch strings.ToLower(level) {
	case "trace":
		return watermill.NewStdLogger(true, true)
	case "debug":
		return watermill.NewStdLogger(true, false)
	default:
		return watermill.NewStdLogger(false, false)
	}
}

// Nop 返回丢弃所有输出的Logger
func Nop() watermill.LoggerAdapter {
	return watermill.NopLogger{}
}

// OrNop 在logger为空时返回Nop
func OrNop(logger watermill.LoggerAdapter) watermill.LoggerAdapter {
	if logger == nil {
		return Nop()
	}
	return logger
}
