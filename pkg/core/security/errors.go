package security

import "errors"

var (
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("用户不存在")
	// ErrUserExists 用户已存在
	ErrUserExists = errors.New("用户已存在")
	// ErrPermissionNotFound 工作流权限不存在
	ErrPermissionNotFound = errors.New("工作流权限不存在")
	// ErrEventNotFound 安全事件不存在
	ErrEventNotFound = errors.New("安全事件不存在")
	// ErrInvalidCredentials 用户名或密码错误
	ErrInvalidCredentials = errors.New("用户名或密码错误")
)
