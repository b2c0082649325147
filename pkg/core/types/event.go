package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType 总线事件类型，同时作为主题名
type EventType string

const (
	// EventWorkflowStart 请求启动工作流
	EventWorkflowStart EventType = "workflow.start"
	// EventWorkflowStarted 启动确认，发回给请求来源
	EventWorkflowStarted EventType = "workflow.started"
	// EventWorkflowLifecycle 实例生命周期变化广播
	EventWorkflowLifecycle EventType = "workflow.lifecycle"
	// EventWorkflowReady 依赖方已满足启动条件
	EventWorkflowReady EventType = "workflow.ready"
	// EventSecurity 安全事件广播
	EventSecurity EventType = "security.event"
	// EventConfigChanged 工作流配置变更
	EventConfigChanged EventType = "config.changed"
)

// Event 总线事件信封（对外导出）
type Event struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	Source        string            `json:"source,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
}

// NewEvent 创建事件，payload 序列化为JSON
func NewEvent(eventType EventType, source string, payload interface{}) (*Event, error) {
	ev := &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now(),
		Metadata:  make(map[string]string),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("序列化事件负载失败: %w", err)
		}
		ev.Payload = raw
	}
	return ev, nil
}

// WithMetadata 添加元数据
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// WithCorrelationID 设置关联ID
func (e *Event) WithCorrelationID(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// Decode 将负载解析到 v
func (e *Event) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("事件 %s 没有负载", e.ID)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("解析事件负载失败: %w", err)
	}
	return nil
}

// StartRequest workflow.start 负载
type StartRequest struct {
	ID      string                 `json:"id"`
	Version string                 `json:"version"`
	Data    map[string]interface{} `json:"data,omitempty"`
	// Src 请求来源，确认事件的 dst 取该值
	Src    string `json:"src"`
	UserID string `json:"userId,omitempty"`
	IP     string `json:"ip,omitempty"`
	// Authenticated 来源是否已经完成身份认证
	Authenticated bool `json:"authenticated,omitempty"`
}

// StartedAck workflow.started 负载
type StartedAck struct {
	InstanceID string      `json:"instanceId,omitempty"`
	ID         string      `json:"id"`
	Version    string      `json:"version"`
	Dst        string      `json:"dst"`
	Status     string      `json:"status"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// ReadyNotice workflow.ready 负载
type ReadyNotice struct {
	InstanceID  string `json:"instanceId"`
	WorkflowID  string `json:"workflowId"`
	Version     string `json:"version"`
	TriggeredBy string `json:"triggeredBy,omitempty"`
}
