package security

import (
	"fmt"
	"time"
)

// rateLimitRecord 固定窗口计数
type rateLimitRecord struct {
	count     int
	resetTime time.Time
}

// CheckRateLimit 固定窗口限流计数
// 没有窗口或窗口已过期时新建窗口；超过 limit 的那一次（current == limit+1）产生一条 rate_limit_exceeded 事件
// 超限时仍然返回计数，由调用方检查 Exceeded 决定是否拒绝
func (m *Manager) CheckRateLimit(identifier string, limit int, window time.Duration) RateLimitResult {
	now := m.now()
	value := m.rateLimits.Update(identifier, func(current interface{}, ok bool) (interface{}, time.Time) {
		rec, valid := current.(rateLimitRecord)
		if !ok || !valid || !now.Before(rec.resetTime) {
			rec = rateLimitRecord{count: 0, resetTime: now.Add(window)}
		}
		rec.count++
		return rec, rec.resetTime
	})
	rec := value.(rateLimitRecord)

	result := RateLimitResult{
		Identifier: identifier,
		Current:    rec.count,
		Limit:      limit,
		ResetTime:  rec.resetTime,
		Exceeded:   rec.count > limit,
	}
	if rec.count == limit+1 {
		m.CreateSecurityEvent(SecurityEvent{
			Type:        EventRateLimitExceeded,
			Severity:    SeverityMedium,
			Resource:    identifier,
			Description: fmt.Sprintf("%s 在窗口内请求 %d 次，超过上限 %d", identifier, rec.count, limit),
			Details: map[string]interface{}{
				"limit":     limit,
				"window":    window.String(),
				"resetTime": rec.resetTime,
			},
		})
	}
	return result
}
