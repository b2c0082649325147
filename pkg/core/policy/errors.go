package policy

import (
	"errors"
	"strings"
)

var (
	// ErrConfigNotFound 配置不存在
	ErrConfigNotFound = errors.New("workflow config not found")
	// ErrConfigExists 配置已存在
	ErrConfigExists = errors.New("workflow config already exists")
	// ErrConfigInvalid 配置校验失败
	ErrConfigInvalid = errors.New("workflow config invalid")
	// ErrUnsupportedFormat 不支持的导入导出格式
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// ValidationError 收集全部校验问题
type ValidationError struct {
	Key      string
	Problems []string
}

func (e *ValidationError) Error() string {
	return "配置 " + e.Key + " 校验失败: " + strings.Join(e.Problems, "; ")
}

// Unwrap 使 errors.Is(err, ErrConfigInvalid) 成立
func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}
