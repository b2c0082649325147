package security

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/LENAX/flow-control/pkg/storage"
)

// HashPassword 生成bcrypt哈希
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("生成密码哈希失败: %w", err)
	}
	return string(hash), nil
}

// SetPassword 设置用户密码
func (m *Manager) SetPassword(ctx context.Context, userID, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	m.mu.Lock()
	u, ok := m.users[userID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	u.PasswordHash = hash
	cp := *u
	m.mu.Unlock()

	return m.persist(ctx, storage.SecurityKindUser, cp.ID, &cp)
}

// Authenticate 校验用户名与密码，失败时记录审计并产生 auth_failure 事件
func (m *Manager) Authenticate(username, password string) (*User, error) {
	m.mu.RLock()
	var found *User
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			found = &cp
			break
		}
	}
	m.mu.RUnlock()

	reason := ""
	switch {
	case found == nil:
		reason = ReasonUserNotFound
	case !found.Active:
		reason = ReasonUserInactive
	case found.PasswordHash == "":
		reason = ReasonInvalidCredentials
	default:
		if err := bcrypt.CompareHashAndPassword([]byte(found.PasswordHash), []byte(password)); err != nil {
			reason = ReasonInvalidCredentials
		}
	}

	userID := username
	if found != nil {
		userID = found.ID
	}
	if reason != "" {
		m.LogAuditEvent(AuditLogEntry{UserID: userID, Action: "authenticate", Resource: "auth", Result: ResultFailure, Reason: reason})
		m.CreateSecurityEvent(SecurityEvent{
			Type:        EventAuthFailure,
			Severity:    SeverityMedium,
			UserID:      userID,
			Resource:    "auth",
			Description: fmt.Sprintf("用户 %s 登录失败", username),
			Details:     map[string]interface{}{"reason": reason},
		})
		return nil, ErrInvalidCredentials
	}

	m.LogAuditEvent(AuditLogEntry{UserID: userID, Action: "authenticate", Resource: "auth", Result: ResultSuccess})
	found.PasswordHash = ""
	return found, nil
}
