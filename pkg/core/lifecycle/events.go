package lifecycle

import "time"

// EventType 生命周期事件类型
type EventType string

const (
	EventCreated   EventType = "instance.created"
	EventStarted   EventType = "instance.started"
	EventPaused    EventType = "instance.paused"
	EventResumed   EventType = "instance.resumed"
	EventCompleted EventType = "instance.completed"
	EventFailed    EventType = "instance.failed"
	EventCancelled EventType = "instance.cancelled"
	// EventReady 依赖方的全部依赖已满足，可以由调用方启动
	EventReady   EventType = "instance.ready"
	EventCleaned EventType = "instance.cleaned"
)

// Event 生命周期事件
type Event struct {
	Type           EventType         `json:"type"`
	InstanceID     string            `json:"instanceId"`
	WorkflowID     string            `json:"workflowId"`
	Version        string            `json:"version"`
	Status         Status            `json:"status"`
	PreviousStatus Status            `json:"previousStatus,omitempty"`
	Error          string            `json:"error,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Instance       *WorkflowInstance `json:"instance,omitempty"`
	// TriggeredBy ready事件中完成的前置实例ID
	TriggeredBy string `json:"triggeredBy,omitempty"`
}

// Listener 事件监听器，在状态变更后同步回调，不应阻塞
type Listener func(Event)

func newEvent(t EventType, inst *WorkflowInstance, previous Status) Event {
	return Event{
		Type:           t,
		InstanceID:     inst.ID,
		WorkflowID:     inst.WorkflowID,
		Version:        inst.Version,
		Status:         inst.Status,
		PreviousStatus: previous,
		Error:          inst.Error,
		Timestamp:      time.Now(),
		Instance:       inst.Clone(),
	}
}
