package security

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"
)

// LogAuditEvent 追加审计记录，超过上限时只保留最近的 AuditLogKeep 条
func (m *Manager) LogAuditEvent(entry AuditLogEntry) AuditLogEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.now()
	}

	m.logMu.Lock()
	m.audit = append(m.audit, entry)
	if len(m.audit) > m.cfg.AuditLogLimit {
		m.audit = append([]AuditLogEntry(nil), m.audit[len(m.audit)-m.cfg.AuditLogKeep:]...)
	}
	m.logMu.Unlock()

	m.logger.Debug("审计记录", watermill.LogFields{
		"user_id":  entry.UserID,
		"action":   entry.Action,
		"resource": entry.Resource,
		"result":   entry.Result,
		"reason":   entry.Reason,
	})

	m.listenerMu.RLock()
	listeners := append([]AuditListener(nil), m.auditListeners...)
	m.listenerMu.RUnlock()
	for _, l := range listeners {
		l(entry)
	}
	return entry
}

// CreateSecurityEvent 追加安全事件，超过上限时只保留最近的 EventKeep 条
func (m *Manager) CreateSecurityEvent(ev SecurityEvent) SecurityEvent {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.now()
	}
	if ev.Severity == "" {
		ev.Severity = SeverityLow
	}

	m.logMu.Lock()
	m.events = append(m.events, ev)
	if len(m.events) > m.cfg.EventLimit {
		m.events = append([]SecurityEvent(nil), m.events[len(m.events)-m.cfg.EventKeep:]...)
	}
	m.logMu.Unlock()

	m.logger.Info("安全事件", watermill.LogFields{
		"event_id": ev.ID,
		"type":     string(ev.Type),
		"severity": string(ev.Severity),
		"user_id":  ev.UserID,
		"resource": ev.Resource,
	})

	m.listenerMu.RLock()
	listeners := append([]EventListener(nil), m.eventListeners...)
	m.listenerMu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
	return ev
}

// ResolveSecurityEvent 标记事件已处理
func (m *Manager) ResolveSecurityEvent(eventID, resolution string) error {
	m.logMu.Lock()
	defer m.logMu.Unlock()

	for i := range m.events {
		if m.events[i].ID == eventID {
			now := m.now()
			m.events[i].Resolved = true
			m.events[i].Resolution = resolution
			m.events[i].ResolvedAt = &now
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
}

// AuditFilter 审计查询条件，零值字段不过滤
type AuditFilter struct {
	UserID   string
	Resource string
	Result   string
	Since    time.Time
	Limit    int
}

// AuditLog 按时间倒序返回审计记录
func (m *Manager) AuditLog(filter AuditFilter) []AuditLogEntry {
	m.logMu.RLock()
	defer m.logMu.RUnlock()

	out := make([]AuditLogEntry, 0)
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if filter.Resource != "" && e.Resource != filter.Resource {
			continue
		}
		if filter.Result != "" && e.Result != filter.Result {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// EventFilter 安全事件查询条件
type EventFilter struct {
	Type     EventType
	Severity Severity
	Resolved *bool
	Limit    int
}

// SecurityEvents 按时间倒序返回安全事件
func (m *Manager) SecurityEvents(filter EventFilter) []SecurityEvent {
	m.logMu.RLock()
	defer m.logMu.RUnlock()

	out := make([]SecurityEvent, 0)
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Severity != "" && e.Severity != filter.Severity {
			continue
		}
		if filter.Resolved != nil && e.Resolved != *filter.Resolved {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// SweepAuditLog 删除超过保留期的审计记录
func (m *Manager) SweepAuditLog() int {
	cutoff := m.now().Add(-m.cfg.AuditRetention)
	m.logMu.Lock()
	defer m.logMu.Unlock()

	kept := m.audit[:0]
	for _, e := range m.audit {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(m.audit) - len(kept)
	m.audit = kept
	return removed
}

// SweepSecurityEvents 删除超过保留期的安全事件
func (m *Manager) SweepSecurityEvents() int {
	cutoff := m.now().Add(-m.cfg.EventRetention)
	m.logMu.Lock()
	defer m.logMu.Unlock()

	kept := m.events[:0]
	for _, e := range m.events {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(m.events) - len(kept)
	m.events = kept
	return removed
}

// Statistics 安全统计
type Statistics struct {
	Users            int               `json:"users"`
	ActiveUsers      int               `json:"activeUsers"`
	Permissions      int               `json:"permissions"`
	AuditEntries     int               `json:"auditEntries"`
	SecurityEvents   int               `json:"securityEvents"`
	UnresolvedEvents int               `json:"unresolvedEvents"`
	EventsByType     map[EventType]int `json:"eventsByType"`
	RateLimitKeys    int               `json:"rateLimitKeys"`
	Policy           PermissionPolicy  `json:"policy"`
}

// Statistics 返回统计信息
func (m *Manager) Statistics() Statistics {
	stats := Statistics{EventsByType: make(map[EventType]int), Policy: m.cfg.Policy}

	m.mu.RLock()
	stats.Users = len(m.users)
	for _, u := range m.users {
		if u.Active {
			stats.ActiveUsers++
		}
	}
	stats.Permissions = len(m.permissions)
	m.mu.RUnlock()

	m.logMu.RLock()
	stats.AuditEntries = len(m.audit)
	stats.SecurityEvents = len(m.events)
	for _, e := range m.events {
		stats.EventsByType[e.Type]++
		if !e.Resolved {
			stats.UnresolvedEvents++
		}
	}
	m.logMu.RUnlock()

	stats.RateLimitKeys = m.rateLimits.Len()
	return stats
}
